package dispatcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nicacher/nicacher/pkg/database"
	"github.com/nicacher/nicacher/pkg/narinfo"
)

// runPeriodicSweep returns a cron.Cron-compatible closure that enqueues
// one Periodic job; the job itself does the actual diffing and
// re-enqueuing work via runPeriodicSweepOnce, so a sweep that's slow to
// run doesn't hold up cron's own scheduling goroutine.
func (d *Dispatcher) runPeriodicSweep(ctx context.Context) func() {
	return func() {
		if _, err := d.db.Enqueue(ctx, database.JobPeriodic, "", false, time.Time{}); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("error enqueueing periodic sweep")
		}
	}
}

// runPeriodicSweepOnce diffs the configured channel's upstream store paths
// against what's currently Available and re-enqueues a forced CacheNar for
// every Available store path the channel still names; channel paths that
// are not Available are not enqueued. It does not purge anything:
// channel drift out the other direction is left to operator-triggered
// purge, per the no-eviction-policy non-goal.
func (d *Dispatcher) runPeriodicSweepOnce(ctx context.Context) error {
	if d.channel == "" {
		return nil
	}

	paths, err := d.upstream.FetchChannelStorePaths(ctx, d.channel, d.storeRoot)
	if err != nil {
		return err
	}

	cached, err := d.db.CachedStorePaths(ctx, d.storeRoot)
	if err != nil {
		return err
	}

	available := make(map[narinfo.StorePath]bool, len(cached))
	for _, sp := range cached {
		available[sp] = true
	}

	logger := zerolog.Ctx(ctx).With().Str("channel", d.channel).Logger()
	logger.Info().Int("store_paths", len(paths)).Msg("periodic sweep re-enqueuing channel store paths")

	for _, sp := range paths {
		if !available[sp] {
			continue
		}

		drv, err := sp.Derivation()
		if err != nil {
			logger.Warn().Err(err).Str("store_path", sp.String()).Msg("skipping unparseable store path")

			continue
		}

		if _, err := d.db.Enqueue(ctx, database.JobCacheNar, drv.Hash, true, time.Time{}); err != nil {
			logger.Error().Err(err).Str("hash", drv.Hash).Msg("error enqueueing sweep refresh")
		}
	}

	return nil
}
