package database

import (
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by every single-row lookup that finds no match.
var ErrNotFound = errors.New("database: not found")

// IsDuplicateKeyError reports whether err is a sqlite3 UNIQUE or PRIMARY KEY
// constraint violation.
func IsDuplicateKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	return sqliteErr.Code == sqlite3.ErrConstraint &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

// IsBusyError reports whether err is a sqlite3 "database is locked"/"busy"
// error, which the caller may choose to retry.
func IsBusyError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// IsNotFoundError reports whether err is ErrNotFound or sql.ErrNoRows,
// normalizing the two forms a single-row lookup can fail with.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}

func wrapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	return err
}
