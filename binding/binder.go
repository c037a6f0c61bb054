// Package binding turns declared SQL templates into callable functions.
//
// A Binder owns the connection pool and the execution scoping; the generic
// constructors One, Many, Iter and Exec compile a template once and return
// a plain Go function that renders it against named arguments, executes it
// through a pooled connection and maps the result to the declared type:
//
//	var binder = binding.New()
//
//	var userByEmail = binding.One[User](binder,
//		"SELECT id, name, email FROM users WHERE email = #{email}")
//
//	var insertUser = binding.Exec(binder,
//		"INSERT INTO users (name, email) VALUES (#{u.Name}, #{u.Email})")
//
// Calls made outside a transaction commit on success and roll back on
// failure, scoped to that one call. Calls made inside a function wrapped by
// Transaction share the caller's connection and defer the commit to the
// outermost boundary.
package binding

import (
	"context"
	"iter"
	"log/slog"
	"sync"

	"github.com/sqlbind/sqlbind/backend"
	"github.com/sqlbind/sqlbind/template"
)

// Args carries the named arguments a bound function is rendered against.
// Values may be plain scalars, maps or structs; template paths traverse
// them uniformly (#{user.Email} resolves the Email field or key of the
// "user" argument).
type Args map[string]any

// Binder owns the pool assignment and execution scoping shared by every
// function bound through it. The zero-argument New followed by a single
// SetPool at startup is the usual lifecycle.
type Binder struct {
	mu   sync.RWMutex
	pool backend.Pool
	log  *slog.Logger
}

// Option configures a Binder.
type Option func(*Binder)

// WithLogger routes statement-level debug logging to l.
func WithLogger(l *slog.Logger) Option {
	return func(b *Binder) { b.log = l }
}

// WithPool assigns the pool at construction time.
func WithPool(p backend.Pool) Option {
	return func(b *Binder) { b.pool = p }
}

// New constructs a Binder.
func New(opts ...Option) *Binder {
	b := &Binder{log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetPool assigns the connection pool. It may be called once; bindings
// created before the assignment become callable after it.
func (b *Binder) SetPool(p backend.Pool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool != nil {
		return ErrPoolAlreadySet
	}
	b.pool = p
	return nil
}

// Pool returns the assigned pool, or nil.
func (b *Binder) Pool() backend.Pool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pool
}

func (b *Binder) placeholder() template.PlaceholderFunc {
	return b.Pool().Dialect().Placeholder
}

// guard closes over the release bookkeeping shared by every bound call:
// the scope is closed exactly once on every exit path, including panics,
// with commit-vs-rollback decided by whether an error is in flight.
func (b *Binder) guard(ctx context.Context, s *ExecutionScope, token int, err *error) {
	if p := recover(); p != nil {
		_ = b.release(ctx, s, token, false)
		panic(p)
	}
	if rerr := b.release(ctx, s, token, *err == nil); rerr != nil && *err == nil {
		*err = rerr
	}
}

// Exec compiles an execution binding: a statement that returns an affected
// row count rather than rows. A malformed template panics at construction
// with *template.SyntaxError, before the binding is ever called.
func Exec(b *Binder, source string) func(ctx context.Context, args Args) (int64, error) {
	tpl := template.MustParse(source)
	return func(ctx context.Context, args Args) (affected int64, err error) {
		ctx, s, token, err := b.acquire(ctx, true)
		if err != nil {
			return 0, err
		}
		defer b.guard(ctx, s, token, &err)

		sqlText, params, err := tpl.Render(args, b.placeholder())
		if err != nil {
			return 0, err
		}
		b.log.DebugContext(ctx, "execute", "sql", sqlText)
		return s.cnx.Execute(ctx, sqlText, params...)
	}
}

// One compiles a single-row query binding. A struct or map T receives the
// row keyed by column name; a scalar T requires a single result column.
// Zero rows yield the zero value of T (nil for pointer types); more than
// one row fails with ErrTooManyRows.
//
// Partial construction is allowed uniformly: target fields with no
// matching column are left at their zero value, and extra result columns
// are ignored.
func One[T any](b *Binder, source string) func(ctx context.Context, args Args) (T, error) {
	tpl := template.MustParse(source)
	mapper := mapperFor[T]()
	return func(ctx context.Context, args Args) (out T, err error) {
		ctx, s, token, err := b.acquire(ctx, true)
		if err != nil {
			return out, err
		}
		defer b.guard(ctx, s, token, &err)

		rows, err := b.query(ctx, s, tpl, args)
		if err != nil {
			return out, err
		}
		defer rows.Close()

		if !rows.Next() {
			return out, rows.Err()
		}
		if out, err = mapper.mapRow(rows); err != nil {
			return out, err
		}
		if rows.Next() {
			var zero T
			return zero, ErrTooManyRows
		}
		return out, rows.Err()
	}
}

// Many compiles a multi-row query binding, eagerly materializing every row
// in result order.
func Many[T any](b *Binder, source string) func(ctx context.Context, args Args) ([]T, error) {
	tpl := template.MustParse(source)
	mapper := mapperFor[T]()
	return func(ctx context.Context, args Args) (out []T, err error) {
		ctx, s, token, err := b.acquire(ctx, true)
		if err != nil {
			return nil, err
		}
		defer b.guard(ctx, s, token, &err)

		rows, err := b.query(ctx, s, tpl, args)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		for rows.Next() {
			item, merr := mapper.mapRow(rows)
			if merr != nil {
				return nil, merr
			}
			out = append(out, item)
		}
		return out, rows.Err()
	}
}

// Iter compiles a lazy query binding. The returned sequence is forward-only
// and not restartable: each element is fetched from the cursor only when
// the consumer asks for it, the execution scope stays open until iteration
// stops, and ranging over the sequence a second time yields a single
// ErrSequenceConsumed element.
func Iter[T any](b *Binder, source string) func(ctx context.Context, args Args) iter.Seq2[T, error] {
	tpl := template.MustParse(source)
	mapper := mapperFor[T]()
	return func(ctx context.Context, args Args) iter.Seq2[T, error] {
		consumed := false
		return func(yield func(T, error) bool) {
			var zero T
			if consumed {
				yield(zero, ErrSequenceConsumed)
				return
			}
			consumed = true

			var err error
			ctx, s, token, err := b.acquire(ctx, true)
			if err != nil {
				yield(zero, err)
				return
			}
			defer b.guard(ctx, s, token, &err)

			var rows backend.Rows
			rows, err = b.query(ctx, s, tpl, args)
			if err != nil {
				yield(zero, err)
				return
			}
			defer rows.Close()

			for rows.Next() {
				item, merr := mapper.mapRow(rows)
				if merr != nil {
					err = merr
					yield(zero, merr)
					return
				}
				if !yield(item, nil) {
					return
				}
			}
			if err = rows.Err(); err != nil {
				yield(zero, err)
			}
		}
	}
}

func (b *Binder) query(ctx context.Context, s *ExecutionScope, tpl *template.Template, args Args) (backend.Rows, error) {
	sqlText, params, err := tpl.Render(args, b.placeholder())
	if err != nil {
		return nil, err
	}
	b.log.DebugContext(ctx, "query", "sql", sqlText)
	return s.cnx.Query(ctx, sqlText, params...)
}

// Transaction wraps fn in an explicit transaction boundary. Bound functions
// called from fn reuse the boundary's connection and defer their commit to
// it: the whole body commits once on normal return, or rolls back once if
// fn returns an error or panics.
func Transaction[T any](b *Binder, fn func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (out T, err error) {
		ctx, s, token, err := b.acquire(ctx, false)
		if err != nil {
			return out, err
		}
		defer b.guard(ctx, s, token, &err)
		return fn(ctx)
	}
}

// TransactionConn is Transaction for bodies that want the live connection,
// e.g. to issue a manual commit or rollback mid-body. The release-on-exit
// guarantee still applies around the whole call.
func TransactionConn[T any](b *Binder, fn func(ctx context.Context, cnx backend.Connection) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (out T, err error) {
		ctx, s, token, err := b.acquire(ctx, false)
		if err != nil {
			return out, err
		}
		defer b.guard(ctx, s, token, &err)
		return fn(ctx, s.cnx)
	}
}

// WithTransaction runs fn inside a transaction boundary immediately, for
// call sites that do not want a reusable wrapper.
func (b *Binder) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	run := Transaction(b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	_, err := run(ctx)
	return err
}
