// Package migration applies the embedded schema migrations of the framework and of the
// application to the job repository connection with golang-migrate.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Fixed table names for migration tracking
const (
	FixedFrameworkMigrationsTable = "batch_framework_migrations"
	FixedAppMigrationsTable       = "batch_app_migrations"
)

// Migrator handles database schema migrations.
type Migrator interface {
	// Up applies all pending migrations found under path in migrationFS.
	// tableName: The name of the table used to track migration history (e.g., batch_framework_migrations).
	Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error
}

// MigratorProvider creates a Migrator for a database connection.
type MigratorProvider interface {
	NewMigrator(dbConn database.DBConnection) Migrator
}

type migratorProviderImpl struct{}

// NewMigratorProvider creates the golang-migrate backed MigratorProvider.
func NewMigratorProvider() MigratorProvider {
	return &migratorProviderImpl{}
}

// NewMigrator implements MigratorProvider.
func (p *migratorProviderImpl) NewMigrator(dbConn database.DBConnection) Migrator {
	return NewMigrator(dbConn)
}

// migratorImpl implements Migrator
type migratorImpl struct {
	dbConn database.DBConnection
	dbType string
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(dbConn database.DBConnection) Migrator {
	return &migratorImpl{
		dbConn: dbConn,
		dbType: dbConn.Type(),
	}
}

// getDatabaseDriver retrieves a migrate/v4 Driver based on the database type.
func (m *migratorImpl) getDatabaseDriver(sqlDB *sql.DB, tableName string) (migratedb.Driver, error) {
	switch m.dbType {
	case "postgres", "redshift":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: tableName})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: tableName})
	case "sqlite":
		return sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: tableName})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

func (m *migratorImpl) getMigrateInstance(migrationFS fs.FS, path string, tableName string) (*migrate.Migrate, source.Driver, error) {
	sqlDB, err := m.dbConn.GetSQLDB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sourceDriver, err := iofs.New(migrationFS, path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create iofs source driver for path %s: %w", path, err)
	}

	dbDriver, err := m.getDatabaseDriver(sqlDB, tableName)
	if err != nil {
		_ = sourceDriver.Close()
		return nil, nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	mInstance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		_ = sourceDriver.Close()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mInstance, sourceDriver, nil
}

// Up implements Migrator.
//
// Closing a golang-migrate instance closes the *sql.DB it was given. For SQLite, whose
// single pooled connection may hold an in-memory database, only the source is closed.
// For other databases the instance is closed and the resolver reconnects on next use.
func (m *migratorImpl) Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	logger.Infof("Executing migration 'up' (DB: %s, Path: %s, Table: %s)", m.dbConn.Name(), path, tableName)

	mInstance, sourceDriver, err := m.getMigrateInstance(migrationFS, path, tableName)
	if err != nil {
		return fmt.Errorf("failed to get migrate instance: %w", err)
	}
	if m.dbType == "sqlite" {
		defer sourceDriver.Close()
	} else {
		defer mInstance.Close()
	}

	if err := mInstance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if version, dirty, versionErr := mInstance.Version(); versionErr == nil {
			logger.Errorf("Migration stopped at version %d (dirty: %t).", version, dirty)
		}
		return fmt.Errorf("migration failed (DB: %s, Path: %s): %w", m.dbType, path, err)
	}

	logger.Infof("Migration 'up' completed successfully (Table: %s).", tableName)
	return nil
}
