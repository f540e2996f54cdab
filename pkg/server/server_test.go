package server_test

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
	"github.com/nicacher/nicacher/pkg/server"
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

func newTestServer(t *testing.T, upstreamURL string) (*server.Server, *database.DB, *dispatcher.Dispatcher) {
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

	disp := dispatcher.New(db, st, uc, dispatcher.Options{Upstreams: ups})
	srv := server.New(db, st, disp, uc, "", nil)

	return srv, db, disp
}

func TestColdHitEnqueuesThenServesAfterDispatch(t *testing.T) {
	t.Parallel()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z.narinfo" {
			_, _ = w.Write([]byte(descriptorBody))

			return
		}

		_, _ = w.Write([]byte("archive-bytes!!"))
	}))
	defer up.Close()

	srv, db, disp := newTestServer(t, up.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z.narinfo", nil)
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ctx := context.Background()

	_, err := disp.CacheNar(ctx, "b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z", false)
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z.narinfo", nil)
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "StorePath: /nix/store/b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z-firefox-106.0.1")

	entry, err := db.GetEntry(ctx, "b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z")
	require.NoError(t, err)
	require.NotNil(t, entry.LastAccessed)
}

func TestArchiveFollowsDescriptor(t *testing.T) {
	t.Parallel()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z.narinfo" {
			_, _ = w.Write([]byte(descriptorBody))

			return
		}

		_, _ = w.Write([]byte("archive-bytes!!"))
	}))
	defer up.Close()

	srv, _, disp := newTestServer(t, up.URL)

	_, err := disp.CacheNar(context.Background(), "b6gvzjyb2pg0kjfwrjmg1vfhh54ad73z", false)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nar/1a2b3c.nar.xz", nil)
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "archive-bytes!!", rec.Body.String())
}

func TestNarMissReturns404(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nar/deadbeef.nar.xz", nil)
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNixCacheInfo(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nix-cache-info", nil)
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "StoreDir: /nix/store")
	assert.Contains(t, rec.Body.String(), "Priority: 30")
}

func TestAdminCacheSize(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/cache_size", nil)
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "available: 0")
}

func TestAdminNarStatusUnknownIsNone(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/nar_status/deadbeef", nil)
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "none\n", rec.Body.String())
}

func TestAdminPurgeNarNotCachedIs404(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/purge_nar/deadbeef", nil)
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
