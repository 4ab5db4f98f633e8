// Package postgres provides a GORM DBProvider implementation for PostgreSQL databases.
package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

// undefinedTable is the SQLSTATE for "relation does not exist".
const undefinedTable = "42P01"

// init registers the PostgreSQL dialector factory with the GORM adapter.
func init() {
	gormadapter.RegisterDialector("postgres", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(ConnectionString(cfg)), nil
	}, IsTableNotExistError)
}

// ConnectionString generates the keyword/value DSN for PostgreSQL connections.
//
// Parameters:
//
//	c: The `dbconfig.DatabaseConfig` containing connection details.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
	if c.Schema != "" {
		dsn += " search_path=" + c.Schema
	}
	return dsn
}

// IsTableNotExistError reports whether err carries SQLSTATE 42P01.
func IsTableNotExistError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}

// NewProvider creates a new `database.DBProvider` for PostgreSQL.
//
// Parameters:
//
//	cfg: The application's global configuration.
//
// Returns:
//
//	A `database.DBProvider` instance configured for PostgreSQL.
func NewProvider(cfg *config.Config) database.DBProvider {
	return gormadapter.NewBaseProvider(cfg, "postgres")
}
