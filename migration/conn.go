package migration

import (
	"context"

	"github.com/sqlbind/sqlbind/backend"
	"github.com/sqlbind/sqlbind/binding"
	"github.com/sqlbind/sqlbind/template"
)

// Conn is the connection handle migration scripts receive. Its Execute and
// Query accept the same template syntax bound functions use (#{path} for
// parameters, !{path} for raw identifier splices) rendered against named
// arguments. Everything a script does through its Conn runs inside the
// script's transaction; the runner commits or rolls back the whole script.
type Conn struct {
	cnx     backend.Connection
	dialect backend.Dialect
	cache   *template.Cache
}

// Execute renders and executes a statement template, returning the
// affected row count.
func (c *Conn) Execute(ctx context.Context, source string, args binding.Args) (int64, error) {
	sqlText, params, err := c.render(source, args)
	if err != nil {
		return 0, err
	}
	return c.cnx.Execute(ctx, sqlText, params...)
}

// Query renders and executes a query template, returning every row as a
// map keyed by column name.
func (c *Conn) Query(ctx context.Context, source string, args binding.Args) ([]map[string]any, error) {
	sqlText, params, err := c.render(source, args)
	if err != nil {
		return nil, err
	}
	rows, err := c.cnx.Query(ctx, sqlText, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := rows.Columns()
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				// drivers may reuse the scan buffer on the next row
				row[col] = append([]byte(nil), b...)
			} else {
				row[col] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Connection returns the underlying connection for scripts that need the
// driver surface directly.
func (c *Conn) Connection() backend.Connection { return c.cnx }

func (c *Conn) render(source string, args binding.Args) (string, []any, error) {
	tpl, err := c.cache.Get(source)
	if err != nil {
		return "", nil, err
	}
	return tpl.Render(args, c.dialect.Placeholder)
}
