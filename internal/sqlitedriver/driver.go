// Package sqlitedriver registers a SQLite database/sql driver under the name
// "sqlite3" using the pure-Go modernc.org/sqlite implementation, so the
// analytics store builds without CGO on every platform.
//
// Import this package for its side effects only:
//
//	import _ "github.com/teradata-labs/subagent/internal/sqlitedriver"
package sqlitedriver

import (
	"database/sql"

	"modernc.org/sqlite"
)

func init() {
	sql.Register("sqlite3", &sqlite.Driver{})
}
