package narinfo

import "errors"

// ErrUnknownCompression is returned when a compression string does not name
// a known CompressionType variant.
var ErrUnknownCompression = errors.New("unknown compression type")

// CompressionType is a closed enumeration of archive compression schemes.
// The only variant currently supported end-to-end is xz; the type stays
// open to extension at the boundary so a future variant is a one-line
// change here.
type CompressionType string

// CompressionXZ is the only compression variant the proxy fetches and
// serves today.
const CompressionXZ CompressionType = "xz"

// ParseCompressionType parses s into a CompressionType, rejecting anything
// outside the closed set of known variants.
func ParseCompressionType(s string) (CompressionType, error) {
	switch CompressionType(s) {
	case CompressionXZ:
		return CompressionXZ, nil
	default:
		return "", ErrUnknownCompression
	}
}

// String returns the wire representation of the compression type.
func (c CompressionType) String() string { return string(c) }
