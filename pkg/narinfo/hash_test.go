package narinfo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicacher/nicacher/pkg/narinfo"
)

func TestParseHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    narinfo.Hash
		wantErr bool
	}{
		{name: "with method", in: "sha256:b6gvzjyb2p", want: narinfo.Hash{Method: "sha256", Digest: "b6gvzjyb2p"}},
		{name: "bare digest", in: "b6gvzjyb2p", want: narinfo.Hash{Digest: "b6gvzjyb2p"}},
		{name: "empty", in: "", wantErr: true},
		{name: "empty digest", in: "sha256:", wantErr: true},
		{name: "invalid chars", in: "sha256:not-valid!", wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			got, err := narinfo.ParseHash(test.in)
			if test.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.True(t, test.want.Equal(got))
		})
	}
}

func TestHashEqual(t *testing.T) {
	t.Parallel()

	a := narinfo.Hash{Method: "sha256", Digest: "abc"}
	b := narinfo.Hash{Method: "sha256", Digest: "abc"}
	c := narinfo.Hash{Method: "sha512", Digest: "abc"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestHashString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "sha256:abc", narinfo.Hash{Method: "sha256", Digest: "abc"}.String())
	assert.Equal(t, "abc", narinfo.Hash{Digest: "abc"}.String())
}
