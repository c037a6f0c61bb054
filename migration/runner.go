// Package migration applies versioned schema scripts in lexicographic name
// order, exactly once, under an advisory lock that keeps concurrent runners
// (e.g. several replicas starting at once) from racing each other.
//
// Scripts author their SQL through the same template engine bound functions
// use, and each script runs in its own transaction: on failure the script's
// work is rolled back, a failed revision is recorded, and the remaining
// batch halts with a *RevisionError.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sqlbind/sqlbind/backend"
	"github.com/sqlbind/sqlbind/binding"
	"github.com/sqlbind/sqlbind/template"
)

// DefaultLockTTL bounds how long a crashed runner's lock row blocks
// subsequent runs.
const DefaultLockTTL = 15 * time.Minute

// Runner applies pending migration scripts against one target database.
type Runner struct {
	pool          backend.Pool
	scripts       []Script
	provider      *schemaProvider
	cache         *template.Cache
	log           *slog.Logger
	lockTTL       time.Duration
	reapplyFailed bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger routes progress logging to l.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithLockTTL overrides the advisory lock's expiry window.
func WithLockTTL(d time.Duration) Option {
	return func(r *Runner) { r.lockTTL = d }
}

// WithReapplyFailed controls whether a previously failed revision is
// treated as pending again on the next run. It defaults to true: an
// operator fixes the script and re-runs. Set it to false to make a failed
// revision block every subsequent run until its record is cleared by hand.
func WithReapplyFailed(v bool) Option {
	return func(r *Runner) { r.reapplyFailed = v }
}

// New validates the script set and constructs a runner for pool's dialect.
func New(pool backend.Pool, scripts []Script, opts ...Option) (*Runner, error) {
	ordered, err := validateScripts(scripts)
	if err != nil {
		return nil, err
	}
	provider, err := providerFor(pool.Dialect().Name())
	if err != nil {
		return nil, err
	}
	r := &Runner{
		pool:          pool,
		scripts:       ordered,
		provider:      provider,
		cache:         template.NewCache(0),
		log:           slog.New(slog.DiscardHandler),
		lockTTL:       DefaultLockTTL,
		reapplyFailed: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Upgrade applies every pending script in order. It creates the tracking
// tables on first use, acquires the advisory lock (failing fast with
// ErrLockContended when another runner holds it), and releases the lock on
// both the success and the failure path. A script failure rolls the script
// back, records the revision as failed and returns a *RevisionError without
// attempting the scripts after it.
func (r *Runner) Upgrade(ctx context.Context) error {
	cnx, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Release(cnx)
	conn := &Conn{cnx: cnx, dialect: r.pool.Dialect(), cache: r.cache}

	if err := r.createTables(ctx, conn); err != nil {
		return err
	}
	pending, err := r.pendingScripts(ctx, conn)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		r.log.InfoContext(ctx, "no pending migrations")
		return nil
	}

	token, err := r.acquireLock(ctx, conn, pending[len(pending)-1].Name)
	if err != nil {
		return err
	}
	return r.applyAll(ctx, conn, token, pending)
}

func (r *Runner) createTables(ctx context.Context, conn *Conn) error {
	for _, ddl := range []string{r.provider.createRevisions, r.provider.createState} {
		if _, err := conn.Execute(ctx, ddl, nil); err != nil {
			return err
		}
	}
	return conn.cnx.Commit(ctx)
}

// pendingScripts computes the scripts with no applied revision record, in
// application order. Failed revisions count as pending again unless
// reapply is disabled, in which case the earliest failed-and-unapplied
// revision blocks the run.
func (r *Runner) pendingScripts(ctx context.Context, conn *Conn) ([]Script, error) {
	rows, err := conn.Query(ctx, selectRevisions, nil)
	if err != nil {
		return nil, err
	}
	applied := make(map[string]bool)
	failed := make(map[string]bool)
	for _, row := range rows {
		name := fmt.Sprintf("%v", normalizeText(row["revision_name"]))
		switch fmt.Sprintf("%v", normalizeText(row["status"])) {
		case revisionApplied:
			applied[name] = true
		case revisionFailed:
			failed[name] = true
		}
	}

	var pending []Script
	for _, s := range r.scripts {
		if applied[s.Name] {
			continue
		}
		if failed[s.Name] && !r.reapplyFailed {
			return nil, &RevisionError{Revision: s.Name,
				Err: fmt.Errorf("previously failed and reapply is disabled")}
		}
		pending = append(pending, s)
	}
	return pending, nil
}

func normalizeText(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// acquireLock sweeps stale lock rows and inserts ours, identified by a
// fresh ULID token. Zero affected rows means another runner holds a live
// lock.
func (r *Runner) acquireLock(ctx context.Context, conn *Conn, target string) (string, error) {
	now := time.Now().UTC()
	if _, err := conn.Execute(ctx, deleteStaleState, binding.Args{"now": now}); err != nil {
		return "", err
	}
	token := ulid.Make().String()
	affected, err := conn.Execute(ctx, r.provider.acquireLock, binding.Args{
		"token":           token,
		"now":             now,
		"expires_at":      now.Add(r.lockTTL),
		"target_revision": target,
	})
	if err != nil {
		return "", err
	}
	if cerr := conn.cnx.Commit(ctx); cerr != nil {
		return "", cerr
	}
	if affected == 0 {
		return "", ErrLockContended
	}
	return token, nil
}

func (r *Runner) applyAll(ctx context.Context, conn *Conn, token string, pending []Script) error {
	count := 0
	for _, s := range pending {
		if err := r.applyOne(ctx, conn, s); err != nil {
			// Bookkeeping after a failure must still reach the database
			// when the caller's context was cancelled mid-script.
			nctx := context.WithoutCancel(ctx)
			r.recordFailure(nctx, conn, s.Name, err)
			r.finishState(nctx, conn, token, err)
			return &RevisionError{Revision: s.Name, Err: err}
		}
		count++
	}
	r.log.InfoContext(ctx, "migrations complete", "applied", count)
	if _, err := conn.Execute(ctx, updateStateComplete, binding.Args{
		"now":           time.Now().UTC(),
		"applied_count": count,
		"token":         token,
	}); err != nil {
		return err
	}
	return conn.cnx.Commit(ctx)
}

// applyOne runs a single script and its applied-revision record in one
// transaction.
func (r *Runner) applyOne(ctx context.Context, conn *Conn, s Script) error {
	r.log.InfoContext(ctx, "applying migration", "revision", s.Name)
	if err := s.Upgrade(ctx, conn); err != nil {
		_ = conn.cnx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	if _, err := conn.Execute(ctx, insertRevision, binding.Args{
		"revision":      s.Name,
		"now":           time.Now().UTC(),
		"status":        revisionApplied,
		"error_type":    nil,
		"error_message": nil,
	}); err != nil {
		_ = conn.cnx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	if err := conn.cnx.Commit(ctx); err != nil {
		_ = conn.cnx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	return nil
}

// recordFailure appends the failed revision record; the script's own work
// was already rolled back.
func (r *Runner) recordFailure(ctx context.Context, conn *Conn, revision string, cause error) {
	_, err := conn.Execute(ctx, insertRevision, binding.Args{
		"revision":      revision,
		"now":           time.Now().UTC(),
		"status":        revisionFailed,
		"error_type":    fmt.Sprintf("%T", cause),
		"error_message": cause.Error(),
	})
	if err == nil {
		err = conn.cnx.Commit(ctx)
	}
	if err != nil {
		r.log.ErrorContext(ctx, "recording failed revision", "revision", revision, "error", err)
	}
}

// finishState moves our lock row to its terminal error status, releasing
// the lock for the next run.
func (r *Runner) finishState(ctx context.Context, conn *Conn, token string, cause error) {
	_, err := conn.Execute(ctx, updateStateError, binding.Args{
		"now":           time.Now().UTC(),
		"error_type":    fmt.Sprintf("%T", cause),
		"error_message": cause.Error(),
		"token":         token,
	})
	if err == nil {
		err = conn.cnx.Commit(ctx)
	}
	if err != nil {
		r.log.ErrorContext(ctx, "releasing migration lock", "error", err)
	}
}
