package binding

import (
	"context"

	"github.com/sqlbind/sqlbind/backend"
)

// ExecutionScope tracks the connection checked out for one logical
// execution context and the transaction nesting depth within it. The scope
// rides on the context.Context, so it follows the call tree: child calls
// (and goroutines handed the same context) see the parent's scope, while
// unrelated contexts never share one.
type ExecutionScope struct {
	cnx        backend.Connection
	depth      int
	autocommit bool
}

// Connection returns the connection owned by this scope.
func (s *ExecutionScope) Connection() backend.Connection { return s.cnx }

type scopeKey struct{}

func scopeFrom(ctx context.Context) *ExecutionScope {
	s, _ := ctx.Value(scopeKey{}).(*ExecutionScope)
	return s
}

// acquire returns the scope already bound to ctx, incrementing its nesting
// depth, or checks a connection out of the pool and creates a fresh scope.
// The returned token must be passed to the matching release; it lets
// release detect out-of-order (non-LIFO) scope handling.
//
// autocommit marks a scope created for a single implicit call rather than
// an explicit transaction boundary; it is recorded on creation only.
func (b *Binder) acquire(ctx context.Context, autocommit bool) (context.Context, *ExecutionScope, int, error) {
	if s := scopeFrom(ctx); s != nil {
		s.depth++
		return ctx, s, s.depth, nil
	}
	pool := b.Pool()
	if pool == nil {
		return ctx, nil, 0, ErrNoPool
	}
	cnx, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, nil, 0, err
	}
	s := &ExecutionScope{cnx: cnx, depth: 1, autocommit: autocommit}
	return context.WithValue(ctx, scopeKey{}, s), s, 1, nil
}

// release undoes one acquire. At depth zero it commits (normal) or rolls
// back (abnormal), returns the connection to the pool and destroys the
// scope. Releases must happen in strict reverse order of acquisition.
func (b *Binder) release(ctx context.Context, s *ExecutionScope, token int, normal bool) error {
	if s.depth != token {
		return ErrScopeOrder
	}
	s.depth--
	if s.depth > 0 {
		return nil
	}

	// The release guarantee must hold even when the caller's context was
	// cancelled mid-flight: the rollback still has to reach the server.
	ctx = context.WithoutCancel(ctx)

	cnx := s.cnx
	s.cnx = nil
	defer b.Pool().Release(cnx)
	if !normal {
		return cnx.Rollback(ctx)
	}
	return cnx.Commit(ctx)
}

// Current returns the connection bound to the calling context's execution
// scope, or nil when no scope is open. Transaction-bound functions use it
// to reach the live connection for manual commit or rollback.
func (b *Binder) Current(ctx context.Context) backend.Connection {
	if s := scopeFrom(ctx); s != nil {
		return s.cnx
	}
	return nil
}
