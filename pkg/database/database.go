// Package database implements the metadata store: the durable descriptor,
// lifecycle, and job tables behind the cache coordination engine.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/XSAM/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PoolConfig controls the underlying *sql.DB connection pool.
type PoolConfig struct {
	// MaxOpenConns is the maximum number of open connections. Defaults to
	// 20 when zero, matching database_max_connections' documented default.
	MaxOpenConns int
}

// queryer is satisfied by both *sql.DB and *sql.Tx, letting every query
// method in this package run against either an auto-committed handle or an
// open transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the metadata store's auto-committed handle. Every query operation
// it exposes except Dequeue (which opens its own transaction) also exists
// on Tx, returned by BeginTx, so callers can run a sequence of operations
// inside a single serialized transaction.
type DB struct {
	sql *sql.DB
	q   queryer
}

// Tx is an open transaction handle returned by DB.BeginTx.
type Tx struct {
	sql *sql.Tx
	q   queryer
}

// Open opens (creating if necessary) the sqlite database at path, applies
// pragmas for WAL concurrency, and runs any pending forward-only
// migrations.
func Open(ctx context.Context, path string, poolCfg PoolConfig) (*DB, error) {
	// _txlock=immediate makes every transaction take the write lock at BEGIN,
	// so concurrent transactions wait on the busy timeout in turn instead of
	// failing with SQLITE_BUSY when a read upgrades to a write.
	sdb, err := otelsql.Open("sqlite3", path+"?_txlock=immediate", otelsql.WithAttributes(semconv.DBSystemSqlite))
	if err != nil {
		return nil, fmt.Errorf("database: error opening %q: %w", path, err)
	}

	maxOpen := poolCfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 20
	}

	sdb.SetMaxOpenConns(maxOpen)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := sdb.ExecContext(ctx, pragma); err != nil {
			return nil, fmt.Errorf("database: error applying %q: %w", pragma, err)
		}
	}

	db := &DB{sql: sdb, q: sdb}

	if err := db.migrate(ctx); err != nil {
		return nil, err
	}

	return db, nil
}

// Close closes the underlying connection pool. Callers must ensure all
// workers and the HTTP server have drained first.
func (db *DB) Close() error { return db.sql.Close() }

// BeginTx opens a new serializable transaction.
func (db *DB) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := db.sql.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("database: error beginning transaction: %w", err)
	}

	return &Tx{sql: tx, q: tx}, nil
}

// Commit commits the transaction.
func (tx *Tx) Commit() error {
	if err := tx.sql.Commit(); err != nil {
		return fmt.Errorf("database: error committing transaction: %w", err)
	}

	return nil
}

// Rollback rolls the transaction back. Rolling back an already
// committed/rolled-back transaction is a no-op, matching sql.Tx semantics.
func (tx *Tx) Rollback() error {
	if err := tx.sql.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("database: error rolling back transaction: %w", err)
	}

	return nil
}

func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.sql.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("database: error creating schema_migrations: %w", err)
	}

	applied := make(map[string]bool)

	rows, err := db.sql.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("database: error reading schema_migrations: %w", err)
	}

	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()

			return fmt.Errorf("database: error scanning schema_migrations: %w", err)
		}

		applied[version] = true
	}

	rows.Close()

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("database: error reading embedded migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")
		if applied[version] {
			continue
		}

		contents, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("database: error reading migration %q: %w", name, err)
		}

		if err := db.applyMigration(ctx, version, string(contents)); err != nil {
			return err
		}
	}

	return nil
}

func (db *DB) applyMigration(ctx context.Context, version, contents string) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("database: error beginning migration transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, contents); err != nil {
		tx.Rollback() //nolint:errcheck

		return fmt.Errorf("database: error applying migration %q: %w", version, err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
		tx.Rollback() //nolint:errcheck

		return fmt.Errorf("database: error recording migration %q: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("database: error committing migration %q: %w", version, err)
	}

	return nil
}
