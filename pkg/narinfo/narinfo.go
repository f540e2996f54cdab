// Package narinfo implements the artifact codec: the identity types (Hash,
// Derivation, StorePath, CompressionType) and the line-oriented "Key: value"
// descriptor format used by the artifact store's read protocol.
package narinfo

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Descriptor is the narinfo payload: everything the proxy needs to know
// about one cached artifact short of the archive bytes themselves.
type Descriptor struct {
	StorePath   StorePath
	URL         string
	Compression CompressionType
	FileHash    Hash
	FileSize    uint64
	NarHash     Hash
	NarSize     uint64
	Deriver     *Derivation
	System      string
	References  []Derivation
	Sig         string
}

// FieldError is returned by Parse when a line or the overall record fails
// to conform to the descriptor format.
type FieldError struct {
	Kind FieldErrorKind
	Key  string
}

// FieldErrorKind distinguishes why a field failed to parse.
type FieldErrorKind int

const (
	// UnknownField is returned for a key outside the known set.
	UnknownField FieldErrorKind = iota
	// MissingField is returned when a mandatory key never appeared.
	MissingField
)

func (e *FieldError) Error() string {
	switch e.Kind {
	case MissingField:
		return fmt.Sprintf("narinfo: missing field %q", e.Key)
	case UnknownField:
		fallthrough
	default:
		return fmt.Sprintf("narinfo: unknown field %q", e.Key)
	}
}

// ErrMalformedLine is returned when a non-empty line has no "Key: value"
// separator.
var ErrMalformedLine = errors.New("narinfo: malformed line")

const (
	keyStorePath   = "StorePath"
	keyURL         = "URL"
	keyCompression = "Compression"
	keyFileHash    = "FileHash"
	keyFileSize    = "FileSize"
	keyNarHash     = "NarHash"
	keyNarSize     = "NarSize"
	keyDeriver     = "Deriver"
	keySystem      = "System"
	keyReferences  = "References"
	keySig         = "Sig"
)

// fieldOrder is both the set of known keys and the order Format emits them in.
//
//nolint:gochecknoglobals
var fieldOrder = []string{
	keyStorePath, keyURL, keyCompression, keyFileHash, keyFileSize,
	keyNarHash, keyNarSize, keyDeriver, keySystem, keyReferences, keySig,
}

//nolint:gochecknoglobals
var optionalKeys = map[string]bool{
	keyDeriver: true,
	keySystem:  true,
	keySig:     true,
}

// Parse parses a Descriptor from the line-oriented "Key: value" format.
// Unknown keys fail with a *FieldError{Kind: UnknownField}; a mandatory key
// absent from the input fails with *FieldError{Kind: MissingField}.
func Parse(r io.Reader, storeRoot string) (Descriptor, error) {
	var d Descriptor

	seen := make(map[string]string, len(fieldOrder))

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return Descriptor{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
		}

		value = strings.TrimSpace(value)

		if !isKnownKey(key) {
			return Descriptor{}, &FieldError{Kind: UnknownField, Key: key}
		}

		seen[key] = value
	}

	if err := scanner.Err(); err != nil {
		return Descriptor{}, fmt.Errorf("narinfo: error scanning: %w", err)
	}

	for _, key := range fieldOrder {
		if _, ok := seen[key]; !ok && key != keyReferences && !optionalKeys[key] {
			return Descriptor{}, &FieldError{Kind: MissingField, Key: key}
		}
	}

	var err error

	if d.StorePath, err = ParseStorePath(seen[keyStorePath], storeRoot); err != nil {
		return Descriptor{}, fmt.Errorf("narinfo: %s: %w", keyStorePath, err)
	}

	d.URL = seen[keyURL]

	if d.Compression, err = ParseCompressionType(seen[keyCompression]); err != nil {
		return Descriptor{}, fmt.Errorf("narinfo: %s: %w", keyCompression, err)
	}

	if d.FileHash, err = ParseHash(seen[keyFileHash]); err != nil {
		return Descriptor{}, fmt.Errorf("narinfo: %s: %w", keyFileHash, err)
	}

	if d.FileSize, err = strconv.ParseUint(seen[keyFileSize], 10, 64); err != nil {
		return Descriptor{}, fmt.Errorf("narinfo: %s: %w", keyFileSize, err)
	}

	if d.NarHash, err = ParseHash(seen[keyNarHash]); err != nil {
		return Descriptor{}, fmt.Errorf("narinfo: %s: %w", keyNarHash, err)
	}

	if d.NarSize, err = strconv.ParseUint(seen[keyNarSize], 10, 64); err != nil {
		return Descriptor{}, fmt.Errorf("narinfo: %s: %w", keyNarSize, err)
	}

	if raw, ok := seen[keyDeriver]; ok && raw != "" {
		dv, err := ParseDerivation(raw)
		if err != nil {
			return Descriptor{}, fmt.Errorf("narinfo: %s: %w", keyDeriver, err)
		}

		d.Deriver = &dv
	}

	d.System = seen[keySystem]

	if d.References, err = ParseDerivations(seen[keyReferences]); err != nil {
		return Descriptor{}, fmt.Errorf("narinfo: %s: %w", keyReferences, err)
	}

	d.Sig = seen[keySig]

	return d, nil
}

// ParseString is a convenience wrapper around Parse for in-memory input.
func ParseString(s, storeRoot string) (Descriptor, error) {
	return Parse(strings.NewReader(s), storeRoot)
}

func isKnownKey(key string) bool {
	for _, k := range fieldOrder {
		if k == key {
			return true
		}
	}

	return false
}

// Format serializes d back into the line-oriented "Key: value" format.
// Optional fields are omitted when unset; References is always emitted,
// empty or not. parse(format(d)) == d for every d that Parse produced.
func Format(d Descriptor) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s: %s\n", keyStorePath, d.StorePath)
	fmt.Fprintf(&b, "%s: %s\n", keyURL, d.URL)
	fmt.Fprintf(&b, "%s: %s\n", keyCompression, d.Compression)
	fmt.Fprintf(&b, "%s: %s\n", keyFileHash, d.FileHash)
	fmt.Fprintf(&b, "%s: %d\n", keyFileSize, d.FileSize)
	fmt.Fprintf(&b, "%s: %s\n", keyNarHash, d.NarHash)
	fmt.Fprintf(&b, "%s: %d\n", keyNarSize, d.NarSize)

	if d.Deriver != nil {
		fmt.Fprintf(&b, "%s: %s\n", keyDeriver, d.Deriver)
	}

	if d.System != "" {
		fmt.Fprintf(&b, "%s: %s\n", keySystem, d.System)
	}

	fmt.Fprintf(&b, "%s: %s\n", keyReferences, FormatDerivations(d.References))

	if d.Sig != "" {
		fmt.Fprintf(&b, "%s: %s\n", keySig, d.Sig)
	}

	return b.String()
}
