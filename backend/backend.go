// Package backend defines the driver-facing collaborator surface of the
// binding engine: pooled connections, the minimal statement interface the
// binder executes through, and a URL-scheme registry for the per-database
// adapter packages.
//
// Adapters register themselves in an init function; importing one for its
// side effect enables its URL scheme:
//
//	import _ "github.com/sqlbind/sqlbind/backend/postgres"
//
//	pool, err := backend.Open(ctx, "postgres://app:secret@db:5432/app")
package backend

import (
	"context"
	"net/url"
	"sort"
	"sync"
)

// Pool hands out connections to execution scopes. The pool is the only
// resource shared across logical contexts and carries its own internal
// synchronization; connections obtained from it are exclusively owned until
// released.
type Pool interface {
	// Acquire checks out a connection, blocking until one is available or
	// ctx is done.
	Acquire(ctx context.Context) (Connection, error)
	// Release returns a connection to the pool. Any transaction still open
	// on it is rolled back.
	Release(cnx Connection)
	// Dialect reports the SQL dialect served by this pool.
	Dialect() Dialect
	// Close drains the pool and releases its resources.
	Close() error
}

// Connection is a single checked-out database session. A statement issued
// on it joins the connection's current transaction, which is begun lazily
// on the first statement and ended by Commit or Rollback. Connections are
// not safe for concurrent use.
type Connection interface {
	// Execute runs a statement and returns the number of affected rows.
	Execute(ctx context.Context, sql string, args ...any) (int64, error)
	// Query runs a statement and returns its result cursor. The cursor must
	// be closed before the transaction ends.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Rows is a forward-only result cursor.
type Rows interface {
	// Columns returns the result column names in order.
	Columns() []string
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Opener constructs a pool from a connection URL. The URL's scheme selects
// the opener via the registry; everything else is adapter-specific.
type Opener func(ctx context.Context, u *url.URL) (Pool, error)

var (
	openersMu sync.RWMutex
	openers   = map[string]Opener{}
)

// Register makes an opener available under the given URL scheme. Adapter
// packages call it from init. Registering the same scheme twice panics.
func Register(scheme string, opener Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	if _, dup := openers[scheme]; dup {
		panic("backend: Register called twice for scheme " + scheme)
	}
	openers[scheme] = opener
}

// Schemes returns the registered URL schemes in sorted order.
func Schemes() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()
	out := make([]string, 0, len(openers))
	for s := range openers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Open constructs a pool for the given connection URL, in the form
//
//	{dialect}[+{driver}]://{user}:{password}@{host}:{port}/{database}?{args}
//
// The scheme must match a registered adapter, otherwise Open fails with
// *UnsupportedBackendError.
func Open(ctx context.Context, rawURL string) (Pool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ConfigError{Msg: "invalid connection URL", Err: err}
	}
	openersMu.RLock()
	opener, ok := openers[u.Scheme]
	openersMu.RUnlock()
	if !ok {
		return nil, &UnsupportedBackendError{Scheme: u.Scheme}
	}
	return opener(ctx, u)
}
