// Package sqlite provides the SQLite adapter, backed by the cgo-free
// modernc.org/sqlite driver through database/sql.
//
//	sqlite:///var/lib/app/data.db   file database (absolute path)
//	sqlite://data.db                file database (relative path)
//	sqlite::memory:                 in-memory database
package sqlite

import (
	"context"
	"net/url"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/sqlbind/sqlbind/backend"
)

func init() {
	backend.Register("sqlite", open)
	backend.Register("sqlite3", open)
}

func open(_ context.Context, u *url.URL) (backend.Pool, error) {
	poolCfg, rest, err := backend.PoolConfigFromURL(u)
	if err != nil {
		return nil, err
	}

	dsn := u.Opaque
	if dsn == "" {
		dsn = u.Host + u.Path
	}
	if dsn == "" || dsn == ":memory:" {
		// A shared in-memory database: every pooled connection must see
		// the same data, not a private empty one.
		dsn = "file::memory:?mode=memory&cache=shared"
		poolCfg.MaxOpen = 1
	} else if len(rest) > 0 {
		dsn += "?" + rest.Encode()
	}
	if !strings.HasPrefix(dsn, "file:") && !strings.HasPrefix(dsn, ":") {
		dsn = "file:" + dsn
	}

	return backend.OpenSQLPool("sqlite", dsn, backend.NewSQLiteDialect(), poolCfg)
}
