package narinfo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicacher/nicacher/pkg/narinfo"
)

func TestParseStorePath(t *testing.T) {
	t.Parallel()

	sp, err := narinfo.ParseStorePath("/nix/store/b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z-firefox-106.0.1", "")
	require.NoError(t, err)
	assert.Equal(t, "/nix/store/b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z-firefox-106.0.1", sp.String())

	d, err := sp.Derivation()
	require.NoError(t, err)
	assert.Equal(t, "firefox-106.0.1", d.Name)
}

func TestParseStorePathErrors(t *testing.T) {
	t.Parallel()

	_, err := narinfo.ParseStorePath("nix/store/abcd-name", "")
	require.ErrorIs(t, err, narinfo.ErrStorePathNotAbsolute)

	_, err = narinfo.ParseStorePath("/opt/store/abcd-name", "")
	require.ErrorIs(t, err, narinfo.ErrStorePathWrongRoot)

	_, err = narinfo.ParseStorePath("/nix/store/nohyphen", "")
	require.Error(t, err)
}

func TestParseStorePathCustomRoot(t *testing.T) {
	t.Parallel()

	sp, err := narinfo.ParseStorePath("/srv/store/abcd-name", "/srv/store")
	require.NoError(t, err)
	assert.Equal(t, narinfo.StorePath("/srv/store/abcd-name"), sp)
}

func TestStorePathEquality(t *testing.T) {
	t.Parallel()

	a := narinfo.StorePath("/nix/store/abcd-name")
	b := narinfo.StorePath("/nix/store/abcd-name")
	c := narinfo.StorePath("/nix/store/efgh-other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
