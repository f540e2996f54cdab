package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nicacher/nicacher/pkg/store"
)

func (s *Server) getNar(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	compression := chi.URLParam(r, "compression")
	ctx := r.Context()

	cached, err := s.db.IsArchiveCached(ctx, hash, compression)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("file_hash", hash).Msg("error checking archive cache state")
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	if !cached {
		http.NotFound(w, r)

		return
	}

	rc, err := s.store.OpenArchive(ctx, hash, compression)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)

			return
		}

		zerolog.Ctx(ctx).Error().Err(err).Str("file_hash", hash).Msg("error opening archive")
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}
	defer rc.Close()

	w.Header().Set(contentType, contentTypeNar)

	if _, err := io.Copy(w, rc); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("file_hash", hash).Msg("error streaming archive")
	}
}
