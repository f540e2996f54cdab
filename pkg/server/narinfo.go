package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nicacher/nicacher/pkg/database"
	"github.com/nicacher/nicacher/pkg/narinfo"
)

func (s *Server) getNarInfo(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	ctx := r.Context()

	d, err := s.db.GetDescriptor(ctx, hash, s.storeRoot)
	if err != nil {
		if !database.IsNotFoundError(err) {
			zerolog.Ctx(ctx).Error().Err(err).Str("hash", hash).Msg("error getting descriptor")
			http.Error(w, "internal error", http.StatusInternalServerError)

			return
		}

		if _, enqErr := s.dispatcher.Enqueue(ctx, database.JobCacheNar, hash, false); enqErr != nil {
			zerolog.Ctx(ctx).Error().Err(enqErr).Str("hash", hash).Msg("error enqueueing cache job")
		}

		http.NotFound(w, r)

		return
	}

	if err := s.db.SetLastAccessed(ctx, hash); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("hash", hash).Msg("error stamping last_accessed")
	}

	w.Header().Set(contentType, contentTypeNarInfo)
	_, _ = w.Write([]byte(narinfo.Format(d)))
}
