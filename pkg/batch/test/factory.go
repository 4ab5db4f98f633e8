package test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm/sqlite" // registers the "sqlite" dialect
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/migration"
)

// TestDBName is the connection name used by the helpers below.
const TestDBName = "default"

// NewSQLiteConnection opens a private in-memory SQLite database.
// The connection is closed when the test ends.
//
// Parameters:
//
//	t: The testing.T instance for test reporting.
//
// Returns:
//
//	*gormadapter.GormDBAdapter: The connection, with no tables.
func NewSQLiteConnection(t *testing.T) *gormadapter.GormDBAdapter {
	t.Helper()
	cfg := dbconfig.DatabaseConfig{Type: "sqlite", Database: ":memory:"}
	db, err := gormadapter.Open(cfg, "SILENT")
	require.NoError(t, err)

	conn, err := gormadapter.NewGormDBAdapter(db, cfg, TestDBName)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// NewMigratedSQLiteConnection opens an in-memory SQLite database and applies the framework
// migrations followed by sources.
func NewMigratedSQLiteConnection(t *testing.T, sources ...migration.Source) *gormadapter.GormDBAdapter {
	t.Helper()
	conn := NewSQLiteConnection(t)
	runner := migration.NewRunnerFor(NewTestSingleConnectionResolver(conn), migration.NewMigratorProvider(), TestDBName, sources...)
	require.NoError(t, runner.Run(context.Background()))
	return conn
}

// NewSQLMockConnection returns a MySQL flavoured connection backed by go-sqlmock.
// Expectations that were not met fail the test when it ends.
//
// Parameters:
//
//	t: The testing.T instance for test reporting.
//
// Returns:
//
//	*gormadapter.GormDBAdapter: The connection.
//	sqlmock.Sqlmock: The mock receiving the statements.
func NewSQLMockConnection(t *testing.T) (*gormadapter.GormDBAdapter, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger:         gormadapter.NewGormLogger("SILENT"),
		TranslateError: true,
	})
	require.NoError(t, err)

	conn, err := gormadapter.NewGormDBAdapter(db, dbconfig.DatabaseConfig{Type: "mysql"}, TestDBName)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = sqlDB.Close()
	})
	return conn, mock
}

var _ dbadapter.DBConnection = (*gormadapter.GormDBAdapter)(nil)
