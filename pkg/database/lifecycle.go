package database

import (
	"context"
	"database/sql"
	"fmt"
)

// SetStatus upserts hash's lifecycle row to status: inserting a fresh row
// with last_cached set to the current time if none exists, otherwise
// updating status in place.
func (db *DB) SetStatus(ctx context.Context, hash string, status Status) error {
	return setStatus(ctx, db.q, hash, status)
}

// SetStatus is the transactional counterpart of DB.SetStatus.
func (tx *Tx) SetStatus(ctx context.Context, hash string, status Status) error {
	return setStatus(ctx, tx.q, hash, status)
}

func setStatus(ctx context.Context, q queryer, hash string, status Status) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO lifecycle (hash, status, last_cached, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (hash) DO UPDATE SET status = excluded.status, updated_at = CURRENT_TIMESTAMP`,
		hash, string(status))
	if err != nil {
		return fmt.Errorf("database: error setting status of %q to %s: %w", hash, status, err)
	}

	return nil
}

// SetLastCached stamps hash's last_cached column to the current time.
func (db *DB) SetLastCached(ctx context.Context, hash string) error {
	return setLastCached(ctx, db.q, hash)
}

// SetLastCached is the transactional counterpart of DB.SetLastCached.
func (tx *Tx) SetLastCached(ctx context.Context, hash string) error {
	return setLastCached(ctx, tx.q, hash)
}

func setLastCached(ctx context.Context, q queryer, hash string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE lifecycle SET last_cached = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("database: error stamping last_cached for %q: %w", hash, err)
	}

	return nil
}

// SetLastAccessed stamps hash's last_accessed column to the current time.
// Called only on a serve-path cache hit, never on a miss.
func (db *DB) SetLastAccessed(ctx context.Context, hash string) error {
	return setLastAccessed(ctx, db.q, hash)
}

// SetLastAccessed is the transactional counterpart of DB.SetLastAccessed.
func (tx *Tx) SetLastAccessed(ctx context.Context, hash string) error {
	return setLastAccessed(ctx, tx.q, hash)
}

func setLastAccessed(ctx context.Context, q queryer, hash string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE lifecycle SET last_accessed = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("database: error stamping last_accessed for %q: %w", hash, err)
	}

	return nil
}

// GetStatus returns hash's current lifecycle status. IsNotFoundError(err)
// reports true if no row is tracked for hash.
func (db *DB) GetStatus(ctx context.Context, hash string) (Status, error) {
	return getStatus(ctx, db.q, hash)
}

// GetStatus is the transactional counterpart of DB.GetStatus.
func (tx *Tx) GetStatus(ctx context.Context, hash string) (Status, error) {
	return getStatus(ctx, tx.q, hash)
}

func getStatus(ctx context.Context, q queryer, hash string) (Status, error) {
	var raw string

	err := q.QueryRowContext(ctx, `SELECT status FROM lifecycle WHERE hash = ?`, hash).Scan(&raw)
	if err != nil {
		return "", fmt.Errorf("database: error getting status of %q: %w", hash, wrapNotFound(err))
	}

	return ParseStatus(raw)
}

// GetEntry returns the full LifecycleRow tracked for hash.
func (db *DB) GetEntry(ctx context.Context, hash string) (Entry, error) {
	return getEntry(ctx, db.q, hash)
}

// GetEntry is the transactional counterpart of DB.GetEntry.
func (tx *Tx) GetEntry(ctx context.Context, hash string) (Entry, error) {
	return getEntry(ctx, tx.q, hash)
}

func getEntry(ctx context.Context, q queryer, hash string) (Entry, error) {
	var (
		raw          string
		lastCached   sql.NullTime
		lastAccessed sql.NullTime
	)

	err := q.QueryRowContext(ctx,
		`SELECT status, last_cached, last_accessed FROM lifecycle WHERE hash = ?`, hash,
	).Scan(&raw, &lastCached, &lastAccessed)
	if err != nil {
		return Entry{}, fmt.Errorf("database: error getting entry for %q: %w", hash, wrapNotFound(err))
	}

	status, err := ParseStatus(raw)
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{Hash: hash, Status: status, LastCached: lastCached.Time}
	if lastAccessed.Valid {
		t := lastAccessed.Time
		entry.LastAccessed = &t
	}

	return entry, nil
}
