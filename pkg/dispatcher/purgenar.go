package dispatcher

import (
	"context"
	"fmt"

	"github.com/nicacher/nicacher/pkg/database"
	"github.com/nicacher/nicacher/pkg/lifecycle"
)

// PurgeNar is the dispatcher's algorithm for removing hash's archive and
// lifecycle row. The archive path is resolved from the descriptor inside
// the very transaction that claims Purging. A hash with no descriptor at
// all (a force-purge of a hash whose only CacheNar attempt ever failed)
// has nothing on disk to remove: that is a no-op purge, not a retry.
func (d *Dispatcher) PurgeNar(ctx context.Context, hash string, force bool) (lifecycle.Outcome, error) {
	var fileHash, compression string

	var hasArchive bool

	check := func(tx *database.Tx) error {
		desc, err := tx.GetDescriptor(ctx, hash, d.storeRoot)
		if err != nil {
			if database.IsNotFoundError(err) {
				return nil
			}

			return err
		}

		fileHash = desc.FileHash.Digest
		compression = desc.Compression.String()
		hasArchive = true

		return nil
	}

	outcome, err := lifecycle.BeginWithCheck(ctx, d.db, hash, lifecycle.EventPurgeNarBegin, force, check)
	if err != nil {
		return lifecycle.Outcome{}, fmt.Errorf("dispatcher: error beginning PurgeNar for %q: %w", hash, err)
	}

	if outcome.Kind != lifecycle.OutcomeSuccess {
		return outcome, nil
	}

	if hasArchive {
		if err := d.store.RemoveArchive(ctx, fileHash, compression); err != nil {
			return lifecycle.Outcome{}, fmt.Errorf("dispatcher: error removing archive for %q: %w", hash, err)
		}
	}

	if err := lifecycle.ResolvePurgeNarRemoved(ctx, d.db, hash); err != nil {
		return lifecycle.Outcome{}, fmt.Errorf("dispatcher: error resolving purge for %q: %w", hash, err)
	}

	return lifecycle.Outcome{Kind: lifecycle.OutcomeSuccess}, nil
}
