// Package postgres provides the PostgreSQL adapters. The default driver is
// the native pgx pool; lib/pq through database/sql is available under the
// postgres+pq scheme.
//
//	postgres://...      pgx (native pool)
//	postgres+pgx://...  pgx, spelled out
//	postgres+pq://...   lib/pq via database/sql
package postgres

import (
	"context"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/sqlbind/sqlbind/backend"
)

func init() {
	backend.Register("postgres", openPgx)
	backend.Register("postgres+pgx", openPgx)
	backend.Register("postgres+pq", openPq)
}

func openPgx(ctx context.Context, u *url.URL) (backend.Pool, error) {
	dsn := *u
	dsn.Scheme = "postgres"
	// pgxpool understands its own pool_* query arguments; the URL is
	// handed over untouched.
	cfg, err := pgxpool.ParseConfig(dsn.String())
	if err != nil {
		return nil, &backend.ConfigError{Msg: "parsing postgres URL", Err: err}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &backend.DriverError{Op: "open", Err: err}
	}
	return &pgxPool{pool: pool, dialect: backend.NewPostgresDialect()}, nil
}

func openPq(_ context.Context, u *url.URL) (backend.Pool, error) {
	dsn := *u
	dsn.Scheme = "postgres"
	poolCfg, rest, err := backend.PoolConfigFromURL(&dsn)
	if err != nil {
		return nil, err
	}
	dsn.RawQuery = rest.Encode()
	return backend.OpenSQLPool("postgres", dsn.String(), backend.NewPostgresDialect(), poolCfg)
}

type pgxPool struct {
	pool    *pgxpool.Pool
	dialect backend.Dialect
}

func (p *pgxPool) Dialect() backend.Dialect { return p.dialect }

func (p *pgxPool) Acquire(ctx context.Context) (backend.Connection, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, &backend.DriverError{Op: "acquire", Err: err}
	}
	return &pgxConn{conn: conn}, nil
}

func (p *pgxPool) Release(cnx backend.Connection) {
	c, ok := cnx.(*pgxConn)
	if !ok {
		return
	}
	if c.tx != nil {
		_ = c.tx.Rollback(context.Background())
		c.tx = nil
	}
	c.conn.Release()
}

func (p *pgxPool) Close() error {
	p.pool.Close()
	return nil
}

type pgxConn struct {
	conn *pgxpool.Conn
	tx   pgx.Tx
}

func (c *pgxConn) begin(ctx context.Context) error {
	if c.tx != nil {
		return nil
	}
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return &backend.DriverError{Op: "begin", Err: err}
	}
	c.tx = tx
	return nil
}

func (c *pgxConn) Execute(ctx context.Context, sql string, args ...any) (int64, error) {
	if err := c.begin(ctx); err != nil {
		return 0, err
	}
	tag, err := c.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, &backend.DriverError{Op: "execute", Err: err}
	}
	return tag.RowsAffected(), nil
}

func (c *pgxConn) Query(ctx context.Context, sql string, args ...any) (backend.Rows, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	rows, err := c.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, &backend.DriverError{Op: "query", Err: err}
	}
	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}
	return &pgxRows{rows: rows, columns: columns}, nil
}

func (c *pgxConn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Commit(ctx)
	c.tx = nil
	if err != nil {
		return &backend.DriverError{Op: "commit", Err: err}
	}
	return nil
}

func (c *pgxConn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback(ctx)
	c.tx = nil
	if err != nil {
		return &backend.DriverError{Op: "rollback", Err: err}
	}
	return nil
}

type pgxRows struct {
	rows    pgx.Rows
	columns []string
}

func (r *pgxRows) Columns() []string { return r.columns }

func (r *pgxRows) Next() bool { return r.rows.Next() }

func (r *pgxRows) Scan(dest ...any) error {
	if err := r.rows.Scan(dest...); err != nil {
		return &backend.DriverError{Op: "scan", Err: err}
	}
	return nil
}

func (r *pgxRows) Err() error {
	if err := r.rows.Err(); err != nil {
		return &backend.DriverError{Op: "rows", Err: err}
	}
	return nil
}

func (r *pgxRows) Close() error {
	r.rows.Close()
	return nil
}
