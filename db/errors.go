package db

import (
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/teranos/pulseq/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database.
// This typically happens during shutdown, when the worker is still finishing
// its last job after the connection has been closed.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// The string match covers errors returned directly by database/sql, which we
// cannot wrap at the source.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// IsBusy reports whether err is SQLite lock contention that outlived the
// busy timeout.
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
