package server

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nicacher/nicacher/pkg/narinfo"
)

// adminListCacheDiff reports upstream_store_paths(channels) minus the set
// of store paths currently Available, per invariant 7.
func (s *Server) adminListCacheDiff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := parseIntQuery(r, "limit", defaultListLimit)

	cached, err := s.db.CachedStorePaths(ctx, s.storeRoot)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("error listing cached store paths")
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	cachedSet := make(map[narinfo.StorePath]bool, len(cached))
	for _, p := range cached {
		cachedSet[p] = true
	}

	var diff []narinfo.StorePath

	for _, channel := range s.channels {
		upstreamPaths, err := s.upstream.FetchChannelStorePaths(ctx, channel, s.storeRoot)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("channel", channel).Msg("error fetching channel store paths")
			http.Error(w, "internal error", http.StatusInternalServerError)

			return
		}

		for _, p := range upstreamPaths {
			if !cachedSet[p] {
				diff = append(diff, p)
			}

			if len(diff) >= limit {
				break
			}
		}

		if len(diff) >= limit {
			break
		}
	}

	w.Header().Set(contentType, contentTypeText)

	for _, p := range diff {
		fmt.Fprintln(w, p.String())
	}
}
