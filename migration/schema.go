package migration

import "fmt"

// The runner tracks its own state in two tables it creates on first use:
//
//	sqlbind_migration_revisions  append-only, one row per attempted script
//	sqlbind_migration_state      single advisory-lock row (id = 1)
//
// The lock row carries a holder token and an expiry computed by the
// runner, so a crashed holder never wedges future runs: stale rows are
// swept before each acquisition attempt. Timestamps are bound as
// parameters rather than database NOW() calls so the statements stay
// identical across dialects; only the DDL column types and the
// duplicate-key-tolerant insert form differ per dialect.

// schemaProvider carries the dialect-specific statements; the shared DML
// below covers everything else.
type schemaProvider struct {
	createRevisions string
	createState     string
	acquireLock     string
}

const (
	revisionApplied = "applied"
	revisionFailed  = "failed"

	stateRunning  = "running"
	stateComplete = "complete"
	stateError    = "error"
)

const (
	selectRevisions = "SELECT revision_name, status FROM sqlbind_migration_revisions"

	insertRevision = "INSERT INTO sqlbind_migration_revisions " +
		"(revision_name, applied_at, status, error_type, error_message) " +
		"VALUES (#{revision}, #{now}, #{status}, #{error_type}, #{error_message})"

	deleteStaleState = "DELETE FROM sqlbind_migration_state " +
		"WHERE status != 'running' OR expires_at <= #{now}"

	updateStateComplete = "UPDATE sqlbind_migration_state SET " +
		"status = 'complete', completed_at = #{now}, applied_count = #{applied_count} " +
		"WHERE id = 1 AND lock_token = #{token}"

	updateStateError = "UPDATE sqlbind_migration_state SET " +
		"status = 'error', completed_at = #{now}, " +
		"error_type = #{error_type}, error_message = #{error_message} " +
		"WHERE id = 1 AND lock_token = #{token}"
)

// acquireLockBody is the dialect-independent part of the lock insert. The
// WHERE NOT EXISTS guard makes the statement affect zero rows when a live
// lock row is present; the dialect-specific duplicate-key handling around
// it turns the id=1 primary-key race between two concurrent runners into
// zero affected rows as well, so contention never surfaces as an error.
const acquireLockColumns = "(id, status, lock_token, started_at, expires_at, target_revision) " +
	"SELECT 1, 'running', #{token}, #{now}, #{expires_at}, #{target_revision}"

const acquireLockGuard = " WHERE NOT EXISTS " +
	"(SELECT 1 FROM sqlbind_migration_state WHERE status = 'running' AND expires_at > #{now})"

func providerFor(dialect string) (*schemaProvider, error) {
	switch dialect {
	case "postgres":
		return &schemaProvider{
			createRevisions: "CREATE TABLE IF NOT EXISTS sqlbind_migration_revisions (" +
				"revision_name VARCHAR(255) NOT NULL, " +
				"applied_at TIMESTAMPTZ NOT NULL, " +
				"status VARCHAR(20) NOT NULL, " +
				"error_type VARCHAR(255), " +
				"error_message TEXT)",
			createState: "CREATE TABLE IF NOT EXISTS sqlbind_migration_state (" +
				"id INTEGER PRIMARY KEY CHECK (id = 1), " +
				"status VARCHAR(20) NOT NULL, " +
				"lock_token VARCHAR(26) NOT NULL, " +
				"started_at TIMESTAMPTZ NOT NULL, " +
				"completed_at TIMESTAMPTZ, " +
				"expires_at TIMESTAMPTZ NOT NULL, " +
				"target_revision VARCHAR(255) NOT NULL, " +
				"applied_count INTEGER NOT NULL DEFAULT 0, " +
				"error_type VARCHAR(255), " +
				"error_message TEXT)",
			acquireLock: "INSERT INTO sqlbind_migration_state " +
				acquireLockColumns + acquireLockGuard + " ON CONFLICT (id) DO NOTHING",
		}, nil
	case "mysql":
		return &schemaProvider{
			createRevisions: "CREATE TABLE IF NOT EXISTS sqlbind_migration_revisions (" +
				"revision_name VARCHAR(255) NOT NULL, " +
				"applied_at DATETIME(6) NOT NULL, " +
				"status VARCHAR(20) NOT NULL, " +
				"error_type VARCHAR(255), " +
				"error_message TEXT)",
			createState: "CREATE TABLE IF NOT EXISTS sqlbind_migration_state (" +
				"id INTEGER PRIMARY KEY CHECK (id = 1), " +
				"status VARCHAR(20) NOT NULL, " +
				"lock_token VARCHAR(26) NOT NULL, " +
				"started_at DATETIME(6) NOT NULL, " +
				"completed_at DATETIME(6), " +
				"expires_at DATETIME(6) NOT NULL, " +
				"target_revision VARCHAR(255) NOT NULL, " +
				"applied_count INTEGER NOT NULL DEFAULT 0, " +
				"error_type VARCHAR(255), " +
				"error_message TEXT)",
			acquireLock: "INSERT IGNORE INTO sqlbind_migration_state " +
				acquireLockColumns + " FROM DUAL" + acquireLockGuard,
		}, nil
	case "sqlite":
		return &schemaProvider{
			createRevisions: "CREATE TABLE IF NOT EXISTS sqlbind_migration_revisions (" +
				"revision_name TEXT NOT NULL, " +
				"applied_at TEXT NOT NULL, " +
				"status TEXT NOT NULL, " +
				"error_type TEXT, " +
				"error_message TEXT)",
			createState: "CREATE TABLE IF NOT EXISTS sqlbind_migration_state (" +
				"id INTEGER PRIMARY KEY CHECK (id = 1), " +
				"status TEXT NOT NULL, " +
				"lock_token TEXT NOT NULL, " +
				"started_at TEXT NOT NULL, " +
				"completed_at TEXT, " +
				"expires_at TEXT NOT NULL, " +
				"target_revision TEXT NOT NULL, " +
				"applied_count INTEGER NOT NULL DEFAULT 0, " +
				"error_type TEXT, " +
				"error_message TEXT)",
			acquireLock: "INSERT OR IGNORE INTO sqlbind_migration_state " +
				acquireLockColumns + acquireLockGuard,
		}, nil
	}
	return nil, fmt.Errorf("migration: no schema provider for dialect %q", dialect)
}
