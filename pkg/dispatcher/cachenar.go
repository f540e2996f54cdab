package dispatcher

import (
	"bytes"
	"context"
	"fmt"

	"github.com/nicacher/nicacher/pkg/database"
	"github.com/nicacher/nicacher/pkg/lifecycle"
	"github.com/nicacher/nicacher/pkg/upstream"
)

// CacheNar is the dispatcher's algorithm for fetching and installing hash.
// It claims Fetching via the lifecycle state machine, fetches the
// descriptor and archive from the first upstream that serves them, and
// installs both durably before marking the hash Available. A failure to
// reach any upstream is a normal outcome: the hash returns to
// NotAvailable and CacheNar itself reports success.
func (d *Dispatcher) CacheNar(ctx context.Context, hash string, force bool) (lifecycle.Outcome, error) {
	outcome, err := lifecycle.Begin(ctx, d.db, hash, lifecycle.EventCacheNarBegin, force)
	if err != nil {
		return lifecycle.Outcome{}, fmt.Errorf("dispatcher: error beginning CacheNar for %q: %w", hash, err)
	}

	if outcome.Kind != lifecycle.OutcomeSuccess {
		return outcome, nil
	}

	desc, up, err := d.upstream.FetchDescriptor(ctx, hash, d.upstreams(), d.storeRoot)
	if err != nil {
		if markErr := lifecycle.ResolveCacheNarFailed(ctx, d.db, hash); markErr != nil {
			return lifecycle.Outcome{}, fmt.Errorf("dispatcher: error resolving failed fetch for %q: %w", hash, markErr)
		}

		return lifecycle.Outcome{Kind: lifecycle.OutcomeSuccess, Target: database.StatusNotAvailable}, nil
	}

	body, err := d.upstream.FetchArchive(ctx, up, desc.URL)
	if err != nil {
		if markErr := lifecycle.ResolveCacheNarFailed(ctx, d.db, hash); markErr != nil {
			return lifecycle.Outcome{}, fmt.Errorf("dispatcher: error resolving failed archive fetch for %q: %w", hash, markErr)
		}

		return lifecycle.Outcome{Kind: lifecycle.OutcomeSuccess, Target: database.StatusNotAvailable}, nil
	}

	if err := d.store.WriteArchive(ctx, desc.FileHash.Digest, desc.Compression.String(), bytes.NewReader(body)); err != nil {
		return lifecycle.Outcome{}, fmt.Errorf("dispatcher: error writing archive for %q: %w", hash, err)
	}

	tx, err := d.db.BeginTx(ctx)
	if err != nil {
		return lifecycle.Outcome{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	// Always replace: a descriptor row from a hash purged earlier is still
	// sitting here (PurgeDescriptor never deletes it), and force governs
	// the lifecycle short-circuit above, not this write.
	if err := tx.InsertDescriptor(ctx, hash, desc, up, true); err != nil {
		return lifecycle.Outcome{}, fmt.Errorf("dispatcher: error installing descriptor for %q: %w", hash, err)
	}

	if err := tx.SetStatus(ctx, hash, database.StatusAvailable); err != nil {
		return lifecycle.Outcome{}, fmt.Errorf("dispatcher: error marking %q available: %w", hash, err)
	}

	if err := tx.Commit(); err != nil {
		return lifecycle.Outcome{}, err
	}

	return lifecycle.Outcome{Kind: lifecycle.OutcomeSuccess, Target: database.StatusAvailable}, nil
}

func (d *Dispatcher) upstreams() []upstream.Upstream {
	return d.configuredUpstreams
}
