package binding

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPool is returned when a bound function is called before a pool
	// has been assigned to its binder.
	ErrNoPool = errors.New("binding: no connection pool has been set for the binder")

	// ErrPoolAlreadySet is returned when SetPool is called twice.
	ErrPoolAlreadySet = errors.New("binding: the connection pool can only be set once")

	// ErrTooManyRows is returned when a single-row shape receives more
	// than one result row.
	ErrTooManyRows = errors.New("binding: query returned more than one row")

	// ErrSequenceConsumed is yielded when a lazy result sequence is
	// iterated a second time. Lazy sequences are forward-only and not
	// restartable.
	ErrSequenceConsumed = errors.New("binding: lazy result sequence already consumed")

	// ErrScopeOrder reports a release of an outer execution scope while an
	// inner one is still open. Scope releases must be strictly LIFO.
	ErrScopeOrder = errors.New("binding: execution scope released out of order")
)

// MappingError reports a result row that could not be converted into the
// bound function's declared return shape.
type MappingError struct {
	Shape string
	Err   error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("binding: mapping result to %s: %v", e.Shape, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }
