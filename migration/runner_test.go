package migration

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlbind/sqlbind/backend"
	"github.com/sqlbind/sqlbind/binding"
)

func newMockRunner(t *testing.T, scripts []Script, opts ...Option) (*Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	r, err := New(backend.NewSQLPool(db, backend.NewSQLiteDialect()), scripts, opts...)
	require.NoError(t, err)
	return r, mock
}

// expectPreamble covers table creation, the applied-revision query and lock
// acquisition, shared by every Upgrade test that reaches the apply phase.
func expectPreamble(mock sqlmock.Sqlmock, revisionRows *sqlmock.Rows) {
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sqlbind_migration_revisions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sqlbind_migration_state").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT revision_name, status FROM sqlbind_migration_revisions").
		WillReturnRows(revisionRows)
	mock.ExpectExec("DELETE FROM sqlbind_migration_state").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT OR IGNORE INTO sqlbind_migration_state").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func noRevisions() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"revision_name", "status"})
}

func execScript(name, sql string) Script {
	return Script{
		Name: name,
		Upgrade: func(ctx context.Context, conn *Conn) error {
			_, err := conn.Execute(ctx, sql, nil)
			return err
		},
	}
}

func TestUpgradeAppliesPendingInOrder(t *testing.T) {
	scripts := []Script{
		execScript("20260101_002_second", "CREATE TABLE b (id INTEGER)"),
		execScript("20260101_001_first", "CREATE TABLE a (id INTEGER)"),
	}
	r, mock := newMockRunner(t, scripts)

	expectPreamble(mock, noRevisions())
	// declared out of order above; applied in lexicographic name order
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO sqlbind_migration_revisions").
		WithArgs("20260101_001_first", sqlmock.AnyArg(), revisionApplied, nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO sqlbind_migration_revisions").
		WithArgs("20260101_002_second", sqlmock.AnyArg(), revisionApplied, nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sqlbind_migration_state").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, r.Upgrade(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpgradeSkipsAppliedRevisions(t *testing.T) {
	scripts := []Script{
		execScript("20260101_001_first", "CREATE TABLE a (id INTEGER)"),
		execScript("20260101_002_second", "CREATE TABLE b (id INTEGER)"),
	}
	r, mock := newMockRunner(t, scripts)

	expectPreamble(mock, noRevisions().AddRow("20260101_001_first", revisionApplied))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO sqlbind_migration_revisions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sqlbind_migration_state").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, r.Upgrade(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpgradeNothingPending(t *testing.T) {
	scripts := []Script{execScript("20260101_001_first", "CREATE TABLE a (id INTEGER)")}
	r, mock := newMockRunner(t, scripts)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sqlbind_migration_revisions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sqlbind_migration_state").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT revision_name, status FROM sqlbind_migration_revisions").
		WillReturnRows(noRevisions().AddRow("20260101_001_first", revisionApplied))
	// no lock acquisition and no rollback to expect; Release rolls back the
	// open read transaction

	err := r.Upgrade(context.Background())
	require.NoError(t, err)
}

func TestUpgradeHaltsBatchOnFailure(t *testing.T) {
	boom := errors.New("syntax error near WIDGET")
	var thirdRan bool
	scripts := []Script{
		execScript("20260101_001_first", "CREATE TABLE a (id INTEGER)"),
		execScript("20260101_002_second", "CREATE WIDGET b"),
		{
			Name: "20260101_003_third",
			Upgrade: func(ctx context.Context, conn *Conn) error {
				thirdRan = true
				return nil
			},
		},
	}
	r, mock := newMockRunner(t, scripts)

	expectPreamble(mock, noRevisions())
	// script 1 applies
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO sqlbind_migration_revisions").
		WithArgs("20260101_001_first", sqlmock.AnyArg(), revisionApplied, nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	// script 2 fails and is rolled back
	mock.ExpectBegin()
	mock.ExpectExec("CREATE WIDGET b").WillReturnError(boom)
	mock.ExpectRollback()
	// its failure is recorded and the lock row moves to its error state
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO sqlbind_migration_revisions").
		WithArgs("20260101_002_second", sqlmock.AnyArg(), revisionFailed, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sqlbind_migration_state").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := r.Upgrade(context.Background())
	var revErr *RevisionError
	require.ErrorAs(t, err, &revErr)
	assert.Equal(t, "20260101_002_second", revErr.Revision)
	assert.ErrorIs(t, err, boom)
	assert.False(t, thirdRan, "script after a failed revision must not run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpgradeLockContended(t *testing.T) {
	scripts := []Script{execScript("20260101_001_first", "CREATE TABLE a (id INTEGER)")}
	r, mock := newMockRunner(t, scripts)

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sqlbind_migration_revisions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sqlbind_migration_state").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT revision_name, status FROM sqlbind_migration_revisions").
		WillReturnRows(noRevisions())
	mock.ExpectExec("DELETE FROM sqlbind_migration_state").
		WillReturnResult(sqlmock.NewResult(0, 0))
	// another runner's live lock row: the guarded insert affects no rows
	mock.ExpectExec("INSERT OR IGNORE INTO sqlbind_migration_state").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := r.Upgrade(context.Background())
	assert.ErrorIs(t, err, ErrLockContended)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpgradeFailedRevisionBlocksWhenReapplyDisabled(t *testing.T) {
	scripts := []Script{
		execScript("20260101_001_first", "CREATE TABLE a (id INTEGER)"),
		execScript("20260101_002_second", "CREATE TABLE b (id INTEGER)"),
	}
	r, mock := newMockRunner(t, scripts, WithReapplyFailed(false))

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sqlbind_migration_revisions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sqlbind_migration_state").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT revision_name, status FROM sqlbind_migration_revisions").
		WillReturnRows(noRevisions().AddRow("20260101_001_first", revisionFailed))

	err := r.Upgrade(context.Background())
	var revErr *RevisionError
	require.ErrorAs(t, err, &revErr)
	assert.Equal(t, "20260101_001_first", revErr.Revision)
}

func TestUpgradeReappliesFailedRevisionByDefault(t *testing.T) {
	scripts := []Script{execScript("20260101_001_first", "CREATE TABLE a (id INTEGER)")}
	r, mock := newMockRunner(t, scripts)

	expectPreamble(mock, noRevisions().AddRow("20260101_001_first", revisionFailed))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO sqlbind_migration_revisions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sqlbind_migration_state").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, r.Upgrade(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScriptsCanQueryThroughTheirConn(t *testing.T) {
	var sawCount any
	scripts := []Script{{
		Name: "20260101_001_backfill",
		Upgrade: func(ctx context.Context, conn *Conn) error {
			rows, err := conn.Query(ctx, "SELECT COUNT(*) AS n FROM widgets WHERE color = #{color}",
				binding.Args{"color": "black"})
			if err != nil {
				return err
			}
			sawCount = rows[0]["n"]
			_, err = conn.Execute(ctx, "DELETE FROM widgets WHERE color = #{color}",
				binding.Args{"color": "black"})
			return err
		},
	}}
	r, mock := newMockRunner(t, scripts)

	expectPreamble(mock, noRevisions())
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("black").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(3)))
	mock.ExpectExec("DELETE FROM widgets").
		WithArgs("black").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO sqlbind_migration_revisions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sqlbind_migration_state").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, r.Upgrade(context.Background()))
	assert.Equal(t, int64(3), sawCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRejectsInvalidScriptSets(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	pool := backend.NewSQLPool(db, backend.NewSQLiteDialect())

	noop := func(ctx context.Context, conn *Conn) error { return nil }
	var discErr *DiscoveryError

	_, err = New(pool, []Script{{Name: "create_users", Upgrade: noop}})
	require.ErrorAs(t, err, &discErr)
	assert.Contains(t, err.Error(), "ordering pattern")

	_, err = New(pool, []Script{
		{Name: "20260101_001_a", Upgrade: noop},
		{Name: "20260101_001_a", Upgrade: noop},
	})
	require.ErrorAs(t, err, &discErr)
	assert.Contains(t, err.Error(), "duplicate")

	_, err = New(pool, []Script{{Name: "20260101_001_a"}})
	require.ErrorAs(t, err, &discErr)
	assert.Contains(t, err.Error(), "upgrade entry point")
}
