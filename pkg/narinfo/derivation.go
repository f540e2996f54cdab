package narinfo

import (
	"errors"
	"strings"
)

// ErrInvalidDerivation is returned if a derivation token cannot be split
// into a hash and a package name.
var ErrInvalidDerivation = errors.New("invalid derivation")

// Derivation identifies a buildable unit by a hash and a package name,
// joined as "hash-name".
type Derivation struct {
	Hash string
	Name string
}

// ParseDerivation splits a derivation token on its first hyphen.
func ParseDerivation(s string) (Derivation, error) {
	hash, name, ok := strings.Cut(s, "-")
	if !ok || hash == "" || name == "" {
		return Derivation{}, ErrInvalidDerivation
	}

	return Derivation{Hash: hash, Name: name}, nil
}

// String renders the derivation back into "hash-name" form.
func (d Derivation) String() string { return d.Hash + "-" + d.Name }

// ParseDerivations splits a whitespace-separated list of derivation tokens.
func ParseDerivations(s string) ([]Derivation, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, nil
	}

	out := make([]Derivation, 0, len(fields))

	for _, f := range fields {
		d, err := ParseDerivation(f)
		if err != nil {
			return nil, err
		}

		out = append(out, d)
	}

	return out, nil
}

// FormatDerivations joins derivation tokens with a single space, the inverse
// of ParseDerivations.
func FormatDerivations(ds []Derivation) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.String()
	}

	return strings.Join(parts, " ")
}
