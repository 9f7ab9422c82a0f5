package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"migrations/0002_index.up.sql":  {Data: []byte("CREATE INDEX b ON t (x);")},
		"migrations/0001_init.up.sql":   {Data: []byte("CREATE TABLE t (x INT);")},
		"migrations/0001_init.down.sql": {Data: []byte("DROP TABLE t;")},
		"migrations/0003_empty.up.sql":  {Data: []byte("  \n")},
		"migrations/nested/skip.up.sql": {Data: []byte("SELECT 1;")},
	}
}

func newMigrator(t *testing.T) (*Migrator, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewMigrator(db, slog.New(slog.NewTextHandler(io.Discard, nil))), mock
}

func TestListMigrations(t *testing.T) {
	names, err := ListMigrations(testMigrations(), "migrations")

	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init.up.sql", "0002_index.up.sql", "0003_empty.up.sql"}, names)
}

func TestApply_SkipsAppliedVersions(t *testing.T) {
	m, mock := newMigrator(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001_init.up.sql"))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX b ON t (x);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
		WithArgs("0002_index.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, m.Apply(context.Background(), testMigrations(), "migrations"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApply_FailedMigrationRollsBack(t *testing.T) {
	m, mock := newMigrator(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE t (x INT);")).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err := m.Apply(context.Background(), testMigrations(), "migrations")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_init.up.sql")
	require.NoError(t, mock.ExpectationsWereMet())
}
