// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// sqliteCoder is satisfied by *sqlite.Error. Tests substitute their own.
type sqliteCoder interface {
	error
	Code() int
}

var _ sqliteCoder = (*sqlite.Error)(nil)

// sqlitePrimaryCode returns the primary result code of the first SQLite
// error in err's chain. Extended codes such as SQLITE_BUSY_SNAPSHOT are
// reduced to their primary code.
func sqlitePrimaryCode(err error) (int, bool) {
	var se sqliteCoder
	if !errors.As(err, &se) {
		return 0, false
	}
	return se.Code() & 0xff, true
}

// IsSQLiteBusyError reports whether err carries SQLITE_BUSY.
func IsSQLiteBusyError(err error) bool {
	code, ok := sqlitePrimaryCode(err)
	return ok && code == sqlite3.SQLITE_BUSY
}

// IsSQLiteLockedError reports whether err carries SQLITE_LOCKED.
func IsSQLiteLockedError(err error) bool {
	code, ok := sqlitePrimaryCode(err)
	return ok && code == sqlite3.SQLITE_LOCKED
}

// IsSQLiteConflictError reports a busy or locked database, the two
// conditions RetryOnConflict retries.
func IsSQLiteConflictError(err error) bool {
	code, ok := sqlitePrimaryCode(err)
	return ok && (code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED)
}
