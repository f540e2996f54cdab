package narinfo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicacher/nicacher/pkg/narinfo"
)

func TestParseCompressionType(t *testing.T) {
	t.Parallel()

	ct, err := narinfo.ParseCompressionType("xz")
	require.NoError(t, err)
	assert.Equal(t, narinfo.CompressionXZ, ct)
	assert.Equal(t, "xz", ct.String())

	_, err = narinfo.ParseCompressionType("zstd")
	require.ErrorIs(t, err, narinfo.ErrUnknownCompression)
}
