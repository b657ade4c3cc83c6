package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/db"
	"github.com/hlop3z/lodestone/internal/dialect"
	"github.com/hlop3z/lodestone/internal/metrics"
	"github.com/hlop3z/lodestone/internal/testutil"
)

func mockMigrations(t *testing.T) (*Migrations, *db.Conn, sqlmock.Sqlmock, *prometheus.Registry) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		sqlDB.Close()
	})
	reg := prometheus.NewRegistry()
	ms, err := New(NewMemStore(), WithMetrics(metrics.MustNew(reg)))
	require.NoError(t, err)
	return ms, db.NewConn(sqlDB, dialect.MustGet("pg")), mock, reg
}

func pgMigration() *Migration {
	m := newMigration("m1")
	m.SetSQL("pg", "CREATE TABLE t (id BIGINT);\n", "DROP TABLE t;\n")
	return m
}

func TestApplyRecordsInSameTransaction(t *testing.T) {
	ms, conn, mock, reg := mockMigrations(t)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE t (id BIGINT)").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO lode_migrations (name) VALUES ($1)").
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, ms.Apply(context.Background(), pgMigration(), conn))

	n, err := promtest.GatherAndCount(reg, "lode_migrations_applied_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDowngradeDeletesBookkeepingRow(t *testing.T) {
	ms, conn, mock, _ := mockMigrations(t)
	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE t").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM lode_migrations WHERE name = $1").
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, ms.Downgrade(context.Background(), pgMigration(), conn))
}

func TestApplyFailureIsCounted(t *testing.T) {
	ms, conn, mock, reg := mockMigrations(t)
	boom := errors.New("relation already exists")
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE t (id BIGINT)").WillReturnError(boom)
	mock.ExpectRollback()

	err := ms.Apply(context.Background(), pgMigration(), conn)
	testutil.AssertError(t, err, alerr.ErrSQLExecution)
	assert.ErrorIs(t, err, boom)
	var ae *alerr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "m1", ae.GetContext()["migration"])
	assert.Equal(t, metrics.Up, ae.GetContext()["direction"])

	n, err := promtest.GatherAndCount(reg, "lode_migration_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApplyCanceledBeforeStart(t *testing.T) {
	ms, conn, _, _ := mockMigrations(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ms.Apply(ctx, pgMigration(), conn), context.Canceled)
}
