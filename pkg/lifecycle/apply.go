package lifecycle

import (
	"context"
	"fmt"

	"github.com/nicacher/nicacher/pkg/database"
)

// Begin evaluates event against hash's current status inside a single
// serialized transaction and, if the outcome is OutcomeSuccess, writes the
// target status (stamping last_cached when entering Fetching) before
// committing. Any other outcome leaves the row untouched and the
// transaction is rolled back. This is the only place two concurrent
// callers for the same hash can race, and the database's serializable
// isolation is what collapses that race to a single winner.
func Begin(ctx context.Context, db *database.DB, hash string, event Event, force bool) (Outcome, error) {
	return BeginWithCheck(ctx, db, hash, event, force, nil)
}

// BeginWithCheck behaves like Begin, but when the decision is
// OutcomeSuccess, check (if non-nil) runs inside the same transaction
// before the target status is written. If check returns
// database.ErrNotFound, the transaction is abandoned and OutcomeRetry is
// returned instead: the caller raced a concurrent mutation of state the
// transition depends on and should re-evaluate from scratch. A check that
// treats a missing row as an expected, terminal state (rather than a race)
// should swallow the not-found error itself instead of returning it, as
// PurgeNar's descriptor lookup does.
func BeginWithCheck(
	ctx context.Context, db *database.DB, hash string, event Event, force bool, check func(*database.Tx) error,
) (Outcome, error) {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return Outcome{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	status, err := tx.GetStatus(ctx, hash)
	if err != nil {
		if !database.IsNotFoundError(err) {
			return Outcome{}, fmt.Errorf("lifecycle: error reading status of %q: %w", hash, err)
		}

		status = ""
	}

	outcome := Decide(status, event, force)

	if outcome.Kind != OutcomeSuccess {
		return outcome, nil
	}

	if check != nil {
		if err := check(tx); err != nil {
			if database.IsNotFoundError(err) {
				return Outcome{Kind: OutcomeRetry}, nil
			}

			return Outcome{}, err
		}
	}

	if outcome.Target != "" {
		if err := tx.SetStatus(ctx, hash, outcome.Target); err != nil {
			return Outcome{}, err
		}

		if outcome.Target == database.StatusFetching {
			if err := tx.SetLastCached(ctx, hash); err != nil {
				return Outcome{}, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return Outcome{}, err
	}

	return outcome, nil
}

// ResolveCacheNarInstalled auto-commits hash's transition to Available once
// the descriptor and archive have been durably written by the caller.
func ResolveCacheNarInstalled(ctx context.Context, db *database.DB, hash string) error {
	return db.SetStatus(ctx, hash, database.StatusAvailable)
}

// ResolveCacheNarFailed auto-commits hash's transition back to
// NotAvailable after every configured upstream failed. This is a normal
// outcome, not an error, per CacheNar's contract.
func ResolveCacheNarFailed(ctx context.Context, db *database.DB, hash string) error {
	return db.SetStatus(ctx, hash, database.StatusNotAvailable)
}

// ResolvePurgeNarRemoved deletes hash's LifecycleRow once its archive has
// been removed from disk, completing a successful purge.
func ResolvePurgeNarRemoved(ctx context.Context, db *database.DB, hash string) error {
	return db.PurgeDescriptor(ctx, hash)
}
