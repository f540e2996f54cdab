// Package server implements the four core read-path endpoints plus the
// operator admin surface, on top of go-chi.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/nicacher/nicacher/pkg/database"
	"github.com/nicacher/nicacher/pkg/dispatcher"
	"github.com/nicacher/nicacher/pkg/store"
	"github.com/nicacher/nicacher/pkg/upstream"
)

const (
	routeIndex         = "/"
	routeCacheInfo     = "/nix-cache-info"
	routeNarInfo       = "/{hash:[0-9a-zA-Z]+}.narinfo"
	routeNar           = "/nar/{hash:[0-9a-zA-Z]+}.nar.{compression}"
	routeCacheNar      = "/admin/cache_nar/{hash:[0-9a-zA-Z]+}"
	routePurgeNar      = "/admin/purge_nar/{hash:[0-9a-zA-Z]+}"
	routeCacheSize     = "/admin/cache_size"
	routeListCached    = "/admin/list_cached"
	routeListCacheDiff = "/admin/list_cache_diff"
	routeNarStatus     = "/admin/nar_status/{hash:[0-9a-zA-Z]+}"

	contentType        = "Content-Type"
	contentTypeNar     = "application/x-nix-nar"
	contentTypeNarInfo = "text/x-nix-narinfo"
	contentTypeText    = "text/plain; charset=utf-8"

	nixCacheInfo = "StoreDir: /nix/store\nWantMassQuery: 0\nPriority: 30\n"

	defaultListLimit = 30
)

// Server is the HTTP request path: it reads the metadata store, enqueues
// jobs on a miss, and streams archives from the artifact store.
type Server struct {
	db         *database.DB
	store      *store.Store
	dispatcher *dispatcher.Dispatcher
	upstream   *upstream.Client

	storeRoot string
	channels  []string

	router *chi.Mux
}

// New builds a Server. storeRoot is the store-path root (conventionally
// /nix/store) used to reconstitute StorePath values from the metadata
// store; channels is the configured set diffed by list_cache_diff.
func New(
	db *database.DB,
	st *store.Store,
	disp *dispatcher.Dispatcher,
	uc *upstream.Client,
	storeRoot string,
	channels []string,
) *Server {
	s := &Server{db: db, store: st, dispatcher: disp, upstream: uc, storeRoot: storeRoot, channels: channels}
	s.router = s.newRouter()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) newRouter() *chi.Mux {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	router.Get(routeIndex, s.getIndex)
	router.Get(routeCacheInfo, s.getNixCacheInfo)

	router.Get(routeNarInfo, s.getNarInfo)
	router.Get(routeNar, s.getNar)

	router.Get(routeCacheNar, s.adminCacheNar)
	router.Get(routePurgeNar, s.adminPurgeNar)
	router.Get(routeCacheSize, s.adminCacheSize)
	router.Get(routeListCached, s.adminListCached)
	router.Get(routeListCacheDiff, s.adminListCacheDiff)
	router.Get(routeNarStatus, s.adminNarStatus)

	return router
}

func (s *Server) getIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(contentType, contentTypeText)
	_, _ = w.Write([]byte("up"))
}

func (s *Server) getNixCacheInfo(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(contentType, contentTypeText)
	_, _ = w.Write([]byte(nixCacheInfo))
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		zerolog.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
