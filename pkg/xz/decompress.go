// Package xz decompresses xz-compressed streams, used by the upstream
// client to read a channel's store-paths listing.
package xz

import (
	"io"

	"github.com/ulikunitz/xz"
)

// NewReader wraps r in an xz decompressor.
func NewReader(r io.Reader) (io.Reader, error) { return xz.NewReader(r) }
