package backend

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) (*SQLPool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLPool(db, NewPostgresDialect()), mock
}

func TestSQLPoolExecuteCommit(t *testing.T) {
	pool, mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE widgets").
		WithArgs("blue", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	ctx := context.Background()
	cnx, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer pool.Release(cnx)

	affected, err := cnx.Execute(ctx, "UPDATE widgets SET color = $1 WHERE id = $2", "blue", int64(7))
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)
	require.NoError(t, cnx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPoolQueryRows(t *testing.T) {
	pool, mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name FROM widgets").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "anvil").
			AddRow(int64(2), "hammer"))
	mock.ExpectCommit()

	ctx := context.Background()
	cnx, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer pool.Release(cnx)

	rows, err := cnx.Query(ctx, "SELECT id, name FROM widgets")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, rows.Columns())

	var names []string
	for rows.Next() {
		var id int64
		var name string
		require.NoError(t, rows.Scan(&id, &name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.Equal(t, []string{"anvil", "hammer"}, names)

	require.NoError(t, cnx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPoolReleaseRollsBackOpenTransaction(t *testing.T) {
	pool, mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO widgets").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	ctx := context.Background()
	cnx, err := pool.Acquire(ctx)
	require.NoError(t, err)
	_, err = cnx.Execute(ctx, "INSERT INTO widgets (name) VALUES ($1)", "anvil")
	require.NoError(t, err)

	pool.Release(cnx)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPoolWrapsDriverErrors(t *testing.T) {
	pool, mock := newMockPool(t)
	cause := errors.New("duplicate key value violates unique constraint")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO widgets").WillReturnError(cause)
	mock.ExpectRollback()

	ctx := context.Background()
	cnx, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer pool.Release(cnx)

	_, err = cnx.Execute(ctx, "INSERT INTO widgets (name) VALUES ($1)", "anvil")
	var driverErr *DriverError
	require.ErrorAs(t, err, &driverErr)
	assert.Equal(t, "execute", driverErr.Op)
	assert.ErrorIs(t, err, cause)
}

func TestSQLPoolCommitWithoutStatementsIsNoop(t *testing.T) {
	pool, mock := newMockPool(t)

	ctx := context.Background()
	cnx, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer pool.Release(cnx)

	// No statement ran, so no transaction was begun and there is nothing
	// to commit or roll back.
	require.NoError(t, cnx.Commit(ctx))
	require.NoError(t, cnx.Rollback(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistryDispatch(t *testing.T) {
	var sawHost string
	Register("fakedb", func(_ context.Context, u *url.URL) (Pool, error) {
		sawHost = u.Host
		return nil, nil
	})

	_, err := Open(context.Background(), "fakedb://db.internal:99/app")
	require.NoError(t, err)
	assert.Equal(t, "db.internal:99", sawHost)
	assert.Contains(t, Schemes(), "fakedb")

	assert.Panics(t, func() { Register("fakedb", nil) })
}

func TestOpenUnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), "oracle://db/app")
	var unsupported *UnsupportedBackendError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "oracle", unsupported.Scheme)
}
