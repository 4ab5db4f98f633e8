package database

import (
	"context"
	"database/sql"

	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	coreAdapter "github.com/tigerroll/chunkbatch/pkg/batch/core/adapter"
)

// PageQuery describes one page of an ordered, optionally filtered SELECT.
type PageQuery struct {
	// Table is the table to read. When empty, the table is resolved from the target type.
	Table string
	// Where is a parameterised condition (e.g., "credit > ?"). Empty means no filter.
	Where string
	// Args are the values bound to the placeholders of Where.
	Args []interface{}
	// OrderBy is the ORDER BY clause (e.g., "credit ASC, id ASC").
	OrderBy string
	Offset  int64
	Limit   int
}

// DBExecutor is an interface that defines common write and read operations for a database.
// It is embedded in both DBConnection and tx.Tx, so repositories and sources run the same
// code with or without an active transaction.
type DBExecutor interface {
	// ExecuteUpdate performs write operations (INSERT, UPDATE, DELETE).
	//
	// model: The target model struct or slice.
	// operation: "CREATE", "UPDATE" or "DELETE".
	// tableName: The name of the table to operate on.
	// query: Conditions for UPDATE/DELETE, combined with AND.
	// Returns: The number of affected rows and an error.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert performs an UPSERT operation (INSERT ... ON CONFLICT DO UPDATE).
	//
	// conflictColumns: Columns used to detect conflicts.
	// updateColumns: Columns updated on conflict. DO NOTHING if nil or empty.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)

	// ExecuteQuery executes a SELECT with equality conditions.
	ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error

	// ExecuteQueryAdvanced executes a SELECT with equality conditions, ordering and a limit.
	// A limit of 0 retrieves all records.
	ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error

	// ExecuteQueryPage executes one page of an ordered, filtered SELECT into target.
	ExecuteQueryPage(ctx context.Context, target interface{}, page PageQuery) error

	// Count counts the number of records matching the query.
	Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error)

	// IsTableNotExistError checks if the given error indicates that a table does not exist.
	IsTableNotExistError(err error) bool
}

// DBConnection represents an abstraction of a database connection.
// It embeds coreAdapter.ResourceConnection for generic connection management
// and DBExecutor for database-specific operations.
type DBConnection interface {
	coreAdapter.ResourceConnection
	DBExecutor

	// RefreshConnection pings the pool and reports whether the connection is usable.
	RefreshConnection(ctx context.Context) error
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying *sql.DB connection (used by schema migration).
	GetSQLDB() (*sql.DB, error)
}

// DBConnectionResolver resolves a named database connection, reconnecting if necessary.
type DBConnectionResolver interface {
	coreAdapter.ResourceConnectionResolver

	// ResolveDBConnection resolves a database connection instance by name.
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProvider provides database connections of one database type.
type DBProvider interface {
	// GetConnection retrieves a database connection with the specified name.
	GetConnection(name string) (DBConnection, error)
	// ForceReconnect closes and re-establishes the connection with the specified name.
	ForceReconnect(name string) (DBConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the database type handled by this provider (e.g., "postgres").
	Type() string
}

// DBProviderGroup is the Fx value group collecting all DBProvider implementations.
const DBProviderGroup = "db_providers"
