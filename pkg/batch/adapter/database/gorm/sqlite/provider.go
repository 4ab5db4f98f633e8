// Package sqlite provides a GORM DBProvider implementation for SQLite databases.
package sqlite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

// init registers the SQLite dialector factory with the GORM adapter.
func init() {
	gormadapter.RegisterDialect("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return &dialector{Dialector: &sqlite.Dialector{DSN: ConnectionString(cfg)}}, nil
	}, IsTableNotExistError, tunePool)
}

// dialector adds gorm error translation to the SQLite dialector, so that a UNIQUE or
// PRIMARY KEY violation surfaces as gorm.ErrDuplicatedKey like on the other dialects.
type dialector struct {
	*sqlite.Dialector
}

// Translate implements gorm.ErrorTranslator.
func (d *dialector) Translate(err error) error {
	if IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", gorm.ErrDuplicatedKey, err)
	}
	return err
}

// IsDuplicateKeyError reports whether err is a SQLite UNIQUE or PRIMARY KEY constraint violation.
func IsDuplicateKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// ConnectionString returns the file path (or ":memory:") of the database.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	return c.Database
}

// tunePool pins SQLite to a single long-lived connection. SQLite serialises writers anyway,
// and an in-memory database only lives as long as its connection.
func tunePool(_ dbconfig.DatabaseConfig, pool *dbconfig.PoolConfig) {
	pool.MaxOpenConns = 1
	pool.MaxIdleConns = 1
	pool.ConnMaxLifetimeMinutes = 0
}

// IsTableNotExistError reports whether err is SQLite's "no such table".
func IsTableNotExistError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrError && strings.Contains(sqliteErr.Error(), "no such table")
	}
	return err != nil && strings.Contains(err.Error(), "no such table")
}

// NewProvider creates a new `database.DBProvider` for SQLite.
func NewProvider(cfg *config.Config) database.DBProvider {
	return gormadapter.NewBaseProvider(cfg, "sqlite")
}
