package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nicacher/nicacher/pkg/narinfo"
	"github.com/nicacher/nicacher/pkg/upstream"
)

const descriptorColumns = `hash, store_path, url, compression, file_hash_method, file_hash, file_size,
	nar_hash_method, nar_hash, nar_size, deriver, system, refs, signature, upstream_url`

func scanDescriptorRow(scan func(...any) error) (descriptorRow, error) {
	var row descriptorRow

	err := scan(
		&row.Hash, &row.StorePath, &row.URL, &row.Compression, &row.FileHashMethod, &row.FileHash, &row.FileSize,
		&row.NarHashMethod, &row.NarHash, &row.NarSize, &row.Deriver, &row.System, &row.Refs, &row.Signature,
		&row.UpstreamURL,
	)

	return row, err
}

// GetDescriptor looks up the Descriptor stored for hash, using storeRoot to
// reconstitute its StorePath.
func (db *DB) GetDescriptor(ctx context.Context, hash, storeRoot string) (narinfo.Descriptor, error) {
	return getDescriptor(ctx, db.q, hash, storeRoot)
}

// GetDescriptor is the transactional counterpart of DB.GetDescriptor.
func (tx *Tx) GetDescriptor(ctx context.Context, hash, storeRoot string) (narinfo.Descriptor, error) {
	return getDescriptor(ctx, tx.q, hash, storeRoot)
}

func getDescriptor(ctx context.Context, q queryer, hash, storeRoot string) (narinfo.Descriptor, error) {
	row, err := getDescriptorRow(ctx, q, hash)
	if err != nil {
		return narinfo.Descriptor{}, err
	}

	return row.toDescriptor(storeRoot)
}

func getDescriptorRow(ctx context.Context, q queryer, hash string) (descriptorRow, error) {
	r := q.QueryRowContext(ctx, `SELECT `+descriptorColumns+` FROM descriptor WHERE hash = ?`, hash)

	row, err := scanDescriptorRow(r.Scan)
	if err != nil {
		return descriptorRow{}, fmt.Errorf("database: error getting descriptor %q: %w", hash, wrapNotFound(err))
	}

	return row, nil
}

// GetDescriptorWithUpstream looks up a Descriptor along with the Upstream
// that originally served it.
func (db *DB) GetDescriptorWithUpstream(
	ctx context.Context, hash, storeRoot string,
) (narinfo.Descriptor, upstream.Upstream, error) {
	return getDescriptorWithUpstream(ctx, db.q, hash, storeRoot)
}

// GetDescriptorWithUpstream is the transactional counterpart of
// DB.GetDescriptorWithUpstream.
func (tx *Tx) GetDescriptorWithUpstream(
	ctx context.Context, hash, storeRoot string,
) (narinfo.Descriptor, upstream.Upstream, error) {
	return getDescriptorWithUpstream(ctx, tx.q, hash, storeRoot)
}

func getDescriptorWithUpstream(
	ctx context.Context, q queryer, hash, storeRoot string,
) (narinfo.Descriptor, upstream.Upstream, error) {
	row, err := getDescriptorRow(ctx, q, hash)
	if err != nil {
		return narinfo.Descriptor{}, upstream.Upstream{}, err
	}

	d, err := row.toDescriptor(storeRoot)
	if err != nil {
		return narinfo.Descriptor{}, upstream.Upstream{}, err
	}

	// Priority isn't persisted per descriptor: the returned Upstream always
	// carries DefaultPriority, whatever priority it was configured with.
	up, err := upstream.New(row.UpstreamURL, upstream.DefaultPriority)
	if err != nil {
		return narinfo.Descriptor{}, upstream.Upstream{}, fmt.Errorf("database: error parsing stored upstream: %w", err)
	}

	return d, up, nil
}

// InsertDescriptor stores d under hash, attributing it to up. force=false
// fails with IsDuplicateKeyError(err) on an existing row; force=true
// replaces it.
func (db *DB) InsertDescriptor(
	ctx context.Context, hash string, d narinfo.Descriptor, up upstream.Upstream, force bool,
) error {
	return insertDescriptor(ctx, db.q, hash, d, up, force)
}

// InsertDescriptor is the transactional counterpart of DB.InsertDescriptor.
func (tx *Tx) InsertDescriptor(
	ctx context.Context, hash string, d narinfo.Descriptor, up upstream.Upstream, force bool,
) error {
	return insertDescriptor(ctx, tx.q, hash, d, up, force)
}

func insertDescriptor(
	ctx context.Context, q queryer, hash string, d narinfo.Descriptor, up upstream.Upstream, force bool,
) error {
	row := toDescriptorRow(hash, d, up)

	verb := "INSERT"
	if force {
		verb = "INSERT OR REPLACE"
	}

	query := verb + ` INTO descriptor (` + descriptorColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		row.Hash, row.StorePath, row.URL, row.Compression, row.FileHashMethod, row.FileHash, row.FileSize,
		row.NarHashMethod, row.NarHash, row.NarSize, row.Deriver, row.System, row.Refs, row.Signature,
		row.UpstreamURL,
	)
	if err != nil {
		return fmt.Errorf("database: error inserting descriptor %q: %w", hash, err)
	}

	return nil
}

// PurgeDescriptor removes the lifecycle row for hash. The descriptor row is
// intentionally left in place: it remains the canonical record of the
// artifact's archive location even while not currently cached.
func (db *DB) PurgeDescriptor(ctx context.Context, hash string) error {
	return purgeDescriptor(ctx, db.q, hash)
}

// PurgeDescriptor is the transactional counterpart of DB.PurgeDescriptor.
func (tx *Tx) PurgeDescriptor(ctx context.Context, hash string) error {
	return purgeDescriptor(ctx, tx.q, hash)
}

func purgeDescriptor(ctx context.Context, q queryer, hash string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM lifecycle WHERE hash = ?`, hash); err != nil {
		return fmt.Errorf("database: error purging lifecycle row %q: %w", hash, err)
	}

	return nil
}

// CachedStorePaths returns the StorePath of every descriptor whose lifecycle
// status is Available.
func (db *DB) CachedStorePaths(ctx context.Context, storeRoot string) ([]narinfo.StorePath, error) {
	return cachedStorePaths(ctx, db.q, storeRoot)
}

// CachedStorePaths is the transactional counterpart of DB.CachedStorePaths.
func (tx *Tx) CachedStorePaths(ctx context.Context, storeRoot string) ([]narinfo.StorePath, error) {
	return cachedStorePaths(ctx, tx.q, storeRoot)
}

func cachedStorePaths(ctx context.Context, q queryer, storeRoot string) ([]narinfo.StorePath, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT d.store_path FROM descriptor d
		JOIN lifecycle l ON l.hash = d.hash
		WHERE l.status = ?`, string(StatusAvailable))
	if err != nil {
		return nil, fmt.Errorf("database: error listing cached store paths: %w", err)
	}

	defer rows.Close()

	var paths []narinfo.StorePath

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("database: error scanning cached store path: %w", err)
		}

		sp, err := narinfo.ParseStorePath(raw, storeRoot)
		if err != nil {
			return nil, fmt.Errorf("database: error parsing cached store path %q: %w", raw, err)
		}

		paths = append(paths, sp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database: error iterating cached store paths: %w", err)
	}

	return paths, nil
}

// CountAvailable returns the number of hashes whose lifecycle status is
// Available.
func (db *DB) CountAvailable(ctx context.Context) (uint64, error) {
	return countAvailable(ctx, db.q)
}

// CountAvailable is the transactional counterpart of DB.CountAvailable.
func (tx *Tx) CountAvailable(ctx context.Context) (uint64, error) {
	return countAvailable(ctx, tx.q)
}

func countAvailable(ctx context.Context, q queryer) (uint64, error) {
	var count uint64

	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lifecycle WHERE status = ?`, string(StatusAvailable)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("database: error counting available entries: %w", err)
	}

	return count, nil
}

// ReportedTotalFileSize sums descriptor.file_size over hashes whose
// lifecycle status is Available.
func (db *DB) ReportedTotalFileSize(ctx context.Context) (uint64, error) {
	return reportedTotalFileSize(ctx, db.q)
}

// ReportedTotalFileSize is the transactional counterpart of
// DB.ReportedTotalFileSize.
func (tx *Tx) ReportedTotalFileSize(ctx context.Context) (uint64, error) {
	return reportedTotalFileSize(ctx, tx.q)
}

func reportedTotalFileSize(ctx context.Context, q queryer) (uint64, error) {
	var total sql.NullInt64

	err := q.QueryRowContext(ctx, `
		SELECT SUM(d.file_size) FROM descriptor d
		JOIN lifecycle l ON l.hash = d.hash
		WHERE l.status = ?`, string(StatusAvailable)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("database: error summing reported file size: %w", err)
	}

	return uint64(total.Int64), nil
}

// IsAvailable reports whether hash's lifecycle status is Available.
func (db *DB) IsAvailable(ctx context.Context, hash string) (bool, error) {
	return isAvailable(ctx, db.q, hash)
}

// IsAvailable is the transactional counterpart of DB.IsAvailable.
func (tx *Tx) IsAvailable(ctx context.Context, hash string) (bool, error) {
	return isAvailable(ctx, tx.q, hash)
}

func isAvailable(ctx context.Context, q queryer, hash string) (bool, error) {
	var count int

	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lifecycle WHERE hash = ? AND status = ?`, hash, string(StatusAvailable)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("database: error checking availability of %q: %w", hash, err)
	}

	return count > 0, nil
}

// IsArchiveCached reports whether any Available hash points at the archive
// identified by (fileHash, compression).
func (db *DB) IsArchiveCached(ctx context.Context, fileHash, compression string) (bool, error) {
	return isArchiveCached(ctx, db.q, fileHash, compression)
}

// IsArchiveCached is the transactional counterpart of DB.IsArchiveCached.
func (tx *Tx) IsArchiveCached(ctx context.Context, fileHash, compression string) (bool, error) {
	return isArchiveCached(ctx, tx.q, fileHash, compression)
}

func isArchiveCached(ctx context.Context, q queryer, fileHash, compression string) (bool, error) {
	var count int

	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM descriptor d
		JOIN lifecycle l ON l.hash = d.hash
		WHERE d.file_hash = ? AND d.compression = ? AND l.status = ?`,
		fileHash, compression, string(StatusAvailable)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("database: error checking archive cache state: %w", err)
	}

	return count > 0, nil
}
