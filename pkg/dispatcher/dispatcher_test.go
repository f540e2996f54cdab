package dispatcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicacher/nicacher/pkg/database"
	"github.com/nicacher/nicacher/pkg/dispatcher"
	"github.com/nicacher/nicacher/pkg/lifecycle"
	"github.com/nicacher/nicacher/pkg/store"
	"github.com/nicacher/nicacher/pkg/upstream"
)

const descriptorBody = `StorePath: /nix/store/b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z-firefox-106.0.1
URL: nar/1a2b3c.nar.xz
Compression: xz
FileHash: sha256:1a2b3c
FileSize: 13
NarHash: sha256:4d5e6f
NarSize: 2
References:
`

func newTestDispatcher(t *testing.T, upstreamURL string) (*dispatcher.Dispatcher, *database.DB) {
	t.Helper()

	ctx := context.Background()

	db, err := database.Open(ctx, filepath.Join(t.TempDir(), "db.sqlite"), database.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	st, err := store.New(ctx, t.TempDir())
	require.NoError(t, err)

	uc, err := upstream.NewClient(upstream.Options{})
	require.NoError(t, err)

	var ups []upstream.Upstream

	if upstreamURL != "" {
		u, err := upstream.New(upstreamURL, 40)
		require.NoError(t, err)
		ups = append(ups, u)
	}

	d := dispatcher.New(db, st, uc, dispatcher.Options{Upstreams: ups})

	return d, db
}

func TestCacheNarInstallsOnUpstreamSuccess(t *testing.T) {
	t.Parallel()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z.narinfo" {
			_, _ = w.Write([]byte(descriptorBody))

			return
		}

		_, _ = w.Write([]byte("archive-bytes!!"))
	}))
	defer up.Close()

	d, db := newTestDispatcher(t, up.URL)
	ctx := context.Background()

	outcome, err := d.CacheNar(ctx, "b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z", false)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, database.StatusAvailable, outcome.Target)

	status, err := db.GetStatus(ctx, "b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z")
	require.NoError(t, err)
	assert.Equal(t, database.StatusAvailable, status)

	available, err := db.IsArchiveCached(ctx, "1a2b3c", "xz")
	require.NoError(t, err)
	assert.True(t, available)
}

func TestCacheNarAllUpstreamsDownIsNotAnError(t *testing.T) {
	t.Parallel()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	d, db := newTestDispatcher(t, down.URL)
	ctx := context.Background()

	outcome, err := d.CacheNar(ctx, "deadbeef", false)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.OutcomeSuccess, outcome.Kind)
	assert.Equal(t, database.StatusNotAvailable, outcome.Target)

	status, err := db.GetStatus(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, database.StatusNotAvailable, status)

	_, err = db.GetDescriptor(ctx, "deadbeef", "")
	require.Error(t, err)
	assert.True(t, database.IsNotFoundError(err))
}

func TestCacheNarAlreadyAvailableIsKilled(t *testing.T) {
	t.Parallel()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z.narinfo" {
			_, _ = w.Write([]byte(descriptorBody))

			return
		}

		_, _ = w.Write([]byte("archive-bytes!!"))
	}))
	defer up.Close()

	d, _ := newTestDispatcher(t, up.URL)
	ctx := context.Background()

	_, err := d.CacheNar(ctx, "b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z", false)
	require.NoError(t, err)

	outcome, err := d.CacheNar(ctx, "b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z", false)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.OutcomeKill, outcome.Kind)
}

func TestPurgeNarRemovesAvailableArtifact(t *testing.T) {
	t.Parallel()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z.narinfo" {
			_, _ = w.Write([]byte(descriptorBody))

			return
		}

		_, _ = w.Write([]byte("archive-bytes!!"))
	}))
	defer up.Close()

	d, db := newTestDispatcher(t, up.URL)
	ctx := context.Background()

	_, err := d.CacheNar(ctx, "b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z", false)
	require.NoError(t, err)

	outcome, err := d.PurgeNar(ctx, "b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z", false)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.OutcomeSuccess, outcome.Kind)

	_, err = db.GetStatus(ctx, "b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z")
	require.Error(t, err)
	assert.True(t, database.IsNotFoundError(err))
}

func TestPurgeNarNotAvailableIsKilledUnlessForced(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher(t, "")
	ctx := context.Background()

	outcome, err := d.PurgeNar(ctx, "never-cached", false)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.OutcomeKill, outcome.Kind)
}
