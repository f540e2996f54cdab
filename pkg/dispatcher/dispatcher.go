// Package dispatcher runs the durable job queue that mediates every fetch
// and purge against the per-hash lifecycle state machine.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nicacher/nicacher/pkg/database"
	"github.com/nicacher/nicacher/pkg/lifecycle"
	"github.com/nicacher/nicacher/pkg/store"
	"github.com/nicacher/nicacher/pkg/upstream"
)

const (
	// DefaultWorkers is the default size of the bounded worker pool.
	DefaultWorkers = 4

	defaultPollInterval = 500 * time.Millisecond
	defaultBatchSize    = 16

	// periodicSweepSchedule fires the channel-diff re-cache sweep nightly
	// at 03:17, off the hour to avoid herding with other cron-driven jobs.
	periodicSweepSchedule = "17 3 * * *"
)

// Options configures a Dispatcher.
type Options struct {
	Workers      int
	PollInterval time.Duration
	BatchSize    int
	StoreRoot    string

	// Channel, when non-empty, enables the nightly Periodic sweep that
	// re-enqueues CacheNar{force:true} for every Available store path the
	// channel still names.
	Channel string

	// Upstreams is the priority-sorted set of upstreams CacheNar fans a
	// fetch across.
	Upstreams []upstream.Upstream

	Registerer prometheus.Registerer
}

// Dispatcher pulls durable jobs off the database queue and executes
// CacheNar/PurgeNar against the lifecycle state machine, enforcing
// at-most-one in-flight operation per hash by construction: every
// transition is guarded by lifecycle.Begin's serialized transaction.
type Dispatcher struct {
	db       *database.DB
	store    *store.Store
	upstream *upstream.Client

	workers             int
	pollInterval        time.Duration
	batchSize           int
	storeRoot           string
	channel             string
	configuredUpstreams []upstream.Upstream

	metrics *metrics
	cron    *cron.Cron
}

// New constructs a Dispatcher. A nil Registerer defaults to the global
// prometheus registry.
func New(db *database.DB, st *store.Store, uc *upstream.Client, opts Options) *Dispatcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	ups := make([]upstream.Upstream, len(opts.Upstreams))
	copy(ups, opts.Upstreams)
	upstream.SortUpstreams(ups)

	return &Dispatcher{
		db:                  db,
		store:               st,
		upstream:            uc,
		workers:             workers,
		pollInterval:        pollInterval,
		batchSize:           batchSize,
		storeRoot:           opts.StoreRoot,
		channel:             opts.Channel,
		configuredUpstreams: ups,
		metrics:             newMetrics(reg),
		cron:                cron.New(),
	}
}

// Enqueue durably schedules a CacheNar or PurgeNar job for hash.
func (d *Dispatcher) Enqueue(ctx context.Context, kind database.JobKind, hash string, force bool) (string, error) {
	return d.db.Enqueue(ctx, kind, hash, force, time.Time{})
}

// Run drains the queue with a bounded worker pool until ctx is canceled. If
// a channel is configured, the nightly Periodic sweep is also started.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	if d.channel != "" {
		if _, err := d.cron.AddFunc(periodicSweepSchedule, d.runPeriodicSweep(ctx)); err != nil {
			return fmt.Errorf("dispatcher: error scheduling periodic sweep: %w", err)
		}

		d.cron.Start()
		defer d.cron.Stop()
	}

	sem := make(chan struct{}, d.workers)

	g, ctx := errgroup.WithContext(ctx)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("dispatcher shutting down, waiting for in-flight jobs")

			return g.Wait()
		case <-ticker.C:
			jobs, err := d.db.Dequeue(ctx, d.batchSize)
			if err != nil {
				logger.Error().Err(err).Msg("error dequeuing jobs")

				continue
			}

			d.metrics.queueDepth.Set(float64(len(jobs)))

			for _, job := range jobs {
				job := job

				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return g.Wait()
				}

				g.Go(func() error {
					defer func() { <-sem }()

					d.execute(ctx, job)

					return nil
				})
			}
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, job database.Job) {
	logger := zerolog.Ctx(ctx).With().Str("job_id", job.ID).Str("kind", string(job.Kind)).Str("hash", job.Hash).Logger()

	d.metrics.inFlight.Inc()
	defer d.metrics.inFlight.Dec()

	start := time.Now()

	var outcome lifecycle.Outcome

	var err error

	switch job.Kind {
	case database.JobCacheNar:
		outcome, err = d.CacheNar(ctx, job.Hash, job.Force)
	case database.JobPurgeNar:
		outcome, err = d.PurgeNar(ctx, job.Hash, job.Force)
	case database.JobPeriodic:
		err = d.runPeriodicSweepOnce(ctx)
	default:
		err = fmt.Errorf("dispatcher: unknown job kind %q", job.Kind)
	}

	d.metrics.jobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Error().Err(err).Msg("job failed")
		d.metrics.jobsTotal.WithLabelValues(string(job.Kind), "error").Inc()

		if markErr := d.db.MarkFailed(ctx, job.ID, err); markErr != nil {
			logger.Error().Err(markErr).Msg("error marking job failed")
		}

		return
	}

	switch outcome.Kind {
	case lifecycle.OutcomeReschedule:
		d.metrics.jobsTotal.WithLabelValues(string(job.Kind), "rescheduled").Inc()

		if err := d.db.Reschedule(ctx, job.ID, outcome.Delay); err != nil {
			logger.Error().Err(err).Msg("error rescheduling job")
		}

		return
	case lifecycle.OutcomeRetry:
		d.metrics.jobsTotal.WithLabelValues(string(job.Kind), "retry").Inc()

		if err := d.db.Reschedule(ctx, job.ID, 0); err != nil {
			logger.Error().Err(err).Msg("error requeueing raced job")
		}

		return
	default:
		d.metrics.jobsTotal.WithLabelValues(string(job.Kind), "done").Inc()

		if err := d.db.MarkDone(ctx, job.ID); err != nil {
			logger.Error().Err(err).Msg("error marking job done")
		}
	}
}
