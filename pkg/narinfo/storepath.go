package narinfo

import (
	"errors"
	"path"
	"strings"
)

// DefaultStoreRoot is the conventional root of the artifact store namespace.
const DefaultStoreRoot = "/nix/store"

// ErrStorePathNotAbsolute is returned if a store path is not rooted at "/".
var ErrStorePathNotAbsolute = errors.New("store path must be absolute")

// ErrStorePathWrongRoot is returned if a store path does not live under the
// configured store root.
var ErrStorePathWrongRoot = errors.New("store path is not under the store root")

// StorePath is an absolute path whose basename is a Derivation and whose
// parent is the store root. Equality, ordering, and set membership all
// operate on the full path string.
type StorePath string

// ParseStorePath validates p as a StorePath rooted at root. An empty root
// defaults to DefaultStoreRoot.
func ParseStorePath(p, root string) (StorePath, error) {
	if root == "" {
		root = DefaultStoreRoot
	}

	if !strings.HasPrefix(p, "/") {
		return "", ErrStorePathNotAbsolute
	}

	if path.Dir(p) != path.Clean(root) {
		return "", ErrStorePathWrongRoot
	}

	if _, err := ParseDerivation(path.Base(p)); err != nil {
		return "", err
	}

	return StorePath(p), nil
}

// Derivation returns the parsed basename of the store path.
func (sp StorePath) Derivation() (Derivation, error) { return ParseDerivation(path.Base(string(sp))) }

// String returns the full path string.
func (sp StorePath) String() string { return string(sp) }
