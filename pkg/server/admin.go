package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nicacher/nicacher/pkg/database"
)

func (s *Server) adminCacheNar(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	force := parseBoolQuery(r, "force")

	id, err := s.dispatcher.Enqueue(r.Context(), database.JobCacheNar, hash, force)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("hash", hash).Msg("error enqueueing cache_nar")
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	w.Header().Set(contentType, contentTypeText)
	fmt.Fprintf(w, "queued cache_nar for %s as job %s (force=%t)\n", hash, id, force)
}

func (s *Server) adminPurgeNar(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	force := parseBoolQuery(r, "force")
	ctx := r.Context()

	available, err := s.db.IsAvailable(ctx, hash)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("hash", hash).Msg("error checking availability")
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	if !available && !force {
		http.NotFound(w, r)

		return
	}

	id, err := s.dispatcher.Enqueue(ctx, database.JobPurgeNar, hash, force)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("hash", hash).Msg("error enqueueing purge_nar")
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	w.Header().Set(contentType, contentTypeText)
	fmt.Fprintf(w, "queued purge_nar for %s as job %s (force=%t)\n", hash, id, force)
}

func (s *Server) adminCacheSize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := s.db.CountAvailable(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("error counting available entries")
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	reported, err := s.db.ReportedTotalFileSize(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("error summing reported file size")
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	onDisk, err := s.store.TotalSize(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("error summing on-disk archive size")
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	w.Header().Set(contentType, contentTypeText)
	fmt.Fprintf(w, "available: %d\nreported_bytes: %d\non_disk_bytes: %d\n", count, reported, onDisk)
}

func (s *Server) adminListCached(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := parseIntQuery(r, "limit", defaultListLimit)

	paths, err := s.db.CachedStorePaths(ctx, s.storeRoot)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("error listing cached store paths")
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	if limit < len(paths) {
		paths = paths[:limit]
	}

	w.Header().Set(contentType, contentTypeText)

	for _, p := range paths {
		fmt.Fprintln(w, p.String())
	}
}

func (s *Server) adminNarStatus(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	ctx := r.Context()

	status, err := s.db.GetStatus(ctx, hash)

	w.Header().Set(contentType, contentTypeText)

	if err != nil {
		if database.IsNotFoundError(err) {
			fmt.Fprintln(w, "none")

			return
		}

		zerolog.Ctx(ctx).Error().Err(err).Str("hash", hash).Msg("error getting status")
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	fmt.Fprintln(w, string(status))
}

func parseBoolQuery(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))

	return err == nil && v
}

func parseIntQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}

	return v
}
