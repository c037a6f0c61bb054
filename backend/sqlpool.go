package backend

import (
	"context"
	"database/sql"
)

// SQLPool adapts a database/sql pool to the Pool interface. It backs every
// adapter whose driver speaks database/sql (mysql, sqlite, lib/pq) and is
// exported so tests can wrap a mocked *sql.DB.
type SQLPool struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLPool wraps an already-opened *sql.DB. The caller keeps ownership of
// sizing; OpenSQLPool applies a PoolConfig for the common case.
func NewSQLPool(db *sql.DB, dialect Dialect) *SQLPool {
	return &SQLPool{db: db, dialect: dialect}
}

// OpenSQLPool opens a database/sql pool for the named driver and applies
// the given pool sizing.
func OpenSQLPool(driver, dsn string, dialect Dialect, cfg PoolConfig) (*SQLPool, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, driverErr("open", err)
	}
	cfg.applyDefaults()
	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)
	return &SQLPool{db: db, dialect: dialect}, nil
}

// DB exposes the underlying database/sql pool.
func (p *SQLPool) DB() *sql.DB { return p.db }

func (p *SQLPool) Dialect() Dialect { return p.dialect }

func (p *SQLPool) Acquire(ctx context.Context) (Connection, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, driverErr("acquire", err)
	}
	return &sqlConn{conn: conn}, nil
}

func (p *SQLPool) Release(cnx Connection) {
	c, ok := cnx.(*sqlConn)
	if !ok {
		return
	}
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	_ = c.conn.Close()
}

func (p *SQLPool) Close() error {
	return p.db.Close()
}

// sqlConn is one checked-out session. The transaction begins lazily on the
// first statement so that acquiring a connection stays cheap.
type sqlConn struct {
	conn *sql.Conn
	tx   *sql.Tx
}

func (c *sqlConn) begin(ctx context.Context) error {
	if c.tx != nil {
		return nil
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return driverErr("begin", err)
	}
	c.tx = tx
	return nil
}

func (c *sqlConn) Execute(ctx context.Context, sqlText string, args ...any) (int64, error) {
	if err := c.begin(ctx); err != nil {
		return 0, err
	}
	res, err := c.tx.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, driverErr("execute", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows for every statement
		// class (DDL in particular); treat that as zero, not failure.
		return 0, nil
	}
	return affected, nil
}

func (c *sqlConn) Query(ctx context.Context, sqlText string, args ...any) (Rows, error) {
	if err := c.begin(ctx); err != nil {
		return nil, err
	}
	rows, err := c.tx.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, driverErr("query", err)
	}
	return newSQLRows(rows)
}

func (c *sqlConn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Commit()
	c.tx = nil
	return driverErr("commit", err)
}

func (c *sqlConn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback()
	c.tx = nil
	return driverErr("rollback", err)
}

type sqlRows struct {
	rows    *sql.Rows
	columns []string
}

func newSQLRows(rows *sql.Rows) (*sqlRows, error) {
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, driverErr("columns", err)
	}
	return &sqlRows{rows: rows, columns: columns}, nil
}

func (r *sqlRows) Columns() []string { return r.columns }

func (r *sqlRows) Next() bool { return r.rows.Next() }

func (r *sqlRows) Scan(dest ...any) error {
	return driverErr("scan", r.rows.Scan(dest...))
}

func (r *sqlRows) Err() error { return driverErr("rows", r.rows.Err()) }

func (r *sqlRows) Close() error { return r.rows.Close() }
