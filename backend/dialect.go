package backend

import "strconv"

// Dialect captures the per-database SQL surface the engine needs: how to
// spell the n-th statement placeholder and how to quote an identifier.
type Dialect interface {
	Name() string
	Placeholder(n int) string
	QuoteIdentifier(name string) string
}

type postgresDialect struct{}

// NewPostgresDialect returns the dialect for PostgreSQL ($1, $2, ...).
func NewPostgresDialect() Dialect { return postgresDialect{} }

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) QuoteIdentifier(name string) string { return `"` + name + `"` }

type mysqlDialect struct{}

// NewMySQLDialect returns the dialect for MySQL and MariaDB (?).
func NewMySQLDialect() Dialect { return mysqlDialect{} }

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) QuoteIdentifier(name string) string { return "`" + name + "`" }

type sqliteDialect struct{}

// NewSQLiteDialect returns the dialect for SQLite (?).
func NewSQLiteDialect() Dialect { return sqliteDialect{} }

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) QuoteIdentifier(name string) string { return `"` + name + `"` }
