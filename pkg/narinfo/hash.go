package narinfo

import (
	"errors"
	"regexp"
	"strings"
)

// HashPattern defines the valid characters for a hash digest: ASCII letters
// and digits. This admits Nix32 digests as well as base16 ones.
const HashPattern = `[0-9a-zA-Z]+`

// ErrInvalidHash is returned if the hash is malformed.
var ErrInvalidHash = errors.New("invalid hash")

var digestRegexp = regexp.MustCompile(`^` + HashPattern + `$`)

// Hash identifies an artifact by an optional method tag (e.g. "sha256") and
// an alphanumeric digest. Two hashes are equal iff both parts are equal.
type Hash struct {
	Method string
	Digest string
}

// ParseHash parses a hash from "method:digest" or bare "digest".
func ParseHash(s string) (Hash, error) {
	if s == "" {
		return Hash{}, ErrInvalidHash
	}

	method, digest, ok := strings.Cut(s, ":")
	if !ok {
		digest = method
		method = ""
	}

	if digest == "" || !digestRegexp.MatchString(digest) {
		return Hash{}, ErrInvalidHash
	}

	return Hash{Method: method, Digest: digest}, nil
}

// String renders the hash back into "method:digest" or bare "digest" form.
func (h Hash) String() string {
	if h.Method == "" {
		return h.Digest
	}

	return h.Method + ":" + h.Digest
}

// Equal reports whether two hashes identify the same artifact.
func (h Hash) Equal(o Hash) bool { return h.Method == o.Method && h.Digest == o.Digest }

// IsZero reports whether the hash carries no digest.
func (h Hash) IsZero() bool { return h.Digest == "" }
