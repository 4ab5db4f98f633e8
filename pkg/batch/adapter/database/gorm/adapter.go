// Package gorm implements the database adapter of the chunkbatch framework on top of GORM.
// Dialect specific packages (mysql, postgres, sqlite) register their dialector and
// error classifier with this package in init.
package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// TableNamer represents a struct that has a TableName() string method.
type TableNamer interface {
	TableName() string
}

// applyTableName applies the table name to the GORM DB session if the model implements the TableNamer interface.
func applyTableName(db *gorm.DB, model interface{}) *gorm.DB {
	val := reflect.ValueOf(model)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if namer, ok := model.(TableNamer); ok {
		return db.Table(namer.TableName())
	}

	// For slices, check the element type. TableName() may be declared on the value receiver.
	if val.Kind() == reflect.Slice || val.Kind() == reflect.Array {
		elemType := val.Type().Elem()
		if elemType.Kind() == reflect.Ptr {
			elemType = elemType.Elem()
		}
		if namer, ok := reflect.New(elemType).Interface().(TableNamer); ok {
			return db.Table(namer.TableName())
		}
	}

	return db.Model(model)
}

// executeUpdate runs a CREATE, UPDATE or DELETE on db.
// UPDATE writes every column of model, zero values included, so counters reset to 0 persist.
func executeUpdate(db *gorm.DB, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	if tableName != "" {
		db = db.Table(tableName)
	}

	var result *gorm.DB
	switch operation {
	case "CREATE":
		result = db.Create(model)
	case "UPDATE":
		db = db.Model(model)
		if len(query) > 0 {
			db = db.Where(query)
		}
		result = db.Select("*").Updates(model)
	case "DELETE":
		if len(query) > 0 {
			db = db.Where(query)
		}
		result = db.Delete(model)
	default:
		return 0, fmt.Errorf("unsupported update operation: %s", operation)
	}

	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// executeUpsert runs INSERT ... ON CONFLICT on db.
func executeUpsert(db *gorm.DB, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	if tableName != "" {
		db = db.Table(tableName)
	}

	columns := make([]clause.Column, 0, len(conflictColumns))
	for _, col := range conflictColumns {
		columns = append(columns, clause.Column{Name: col})
	}

	onConflict := clause.OnConflict{Columns: columns}
	if len(updateColumns) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(updateColumns)
	} else {
		onConflict.DoNothing = true
	}

	result := db.Clauses(onConflict).Create(model)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func executeQuery(db *gorm.DB, target interface{}, query map[string]interface{}, orderBy string, limit int) error {
	db = applyTableName(db, target)
	if len(query) > 0 {
		db = db.Where(query)
	}
	if orderBy != "" {
		db = db.Order(orderBy)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	// Find does not return ErrRecordNotFound for slices; callers check the length.
	return db.Find(target).Error
}

func executeQueryPage(db *gorm.DB, target interface{}, page database.PageQuery) error {
	if page.Table != "" {
		db = db.Table(page.Table)
	} else {
		db = applyTableName(db, target)
	}
	if page.Where != "" {
		db = db.Where(page.Where, page.Args...)
	}
	if page.OrderBy != "" {
		db = db.Order(page.OrderBy)
	}
	if page.Offset > 0 {
		db = db.Offset(int(page.Offset))
	}
	if page.Limit > 0 {
		db = db.Limit(page.Limit)
	}
	return db.Find(target).Error
}

func count(db *gorm.DB, model interface{}, query map[string]interface{}) (int64, error) {
	db = applyTableName(db, model)
	if len(query) > 0 {
		db = db.Where(query)
	}
	var n int64
	if err := db.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// GormDBAdapter implements database.DBConnection on a *gorm.DB connection pool.
type GormDBAdapter struct {
	db         *gorm.DB
	sqlDB      *sql.DB
	cfg        dbconfig.DatabaseConfig
	dbType     string
	name       string
	classifier TableNotExistClassifier
}

// NewGormDBAdapter creates a new GormDBAdapter.
//
// Parameters:
//
//	db: An opened GORM connection.
//	cfg: The configuration the connection was opened with. cfg.Type selects the error classifier.
//	name: The connection name (e.g., "default").
//
// Returns:
//
//	The adapter, or an error when the underlying *sql.DB cannot be obtained.
func NewGormDBAdapter(db *gorm.DB, cfg dbconfig.DatabaseConfig, name string) (*GormDBAdapter, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	return &GormDBAdapter{
		db:         db,
		sqlDB:      sqlDB,
		cfg:        cfg,
		dbType:     cfg.Type,
		name:       name,
		classifier: GetTableNotExistClassifier(cfg.Type),
	}, nil
}

// GetGormDB returns the underlying *gorm.DB instance.
// It is meant for the gorm adapter itself and for test setup.
func (a *GormDBAdapter) GetGormDB() *gorm.DB {
	return a.db
}

// Close implements database.DBConnection.
func (a *GormDBAdapter) Close() error {
	if a.sqlDB != nil {
		logger.Infof("Closing database connection '%s'...", a.name)
		return a.sqlDB.Close()
	}
	return nil
}

// Type implements database.DBConnection.
func (a *GormDBAdapter) Type() string {
	return a.dbType
}

// Name implements database.DBConnection.
func (a *GormDBAdapter) Name() string {
	return a.name
}

// RefreshConnection implements database.DBConnection.
func (a *GormDBAdapter) RefreshConnection(ctx context.Context) error {
	if a.sqlDB == nil {
		return fmt.Errorf("database connection is not initialized")
	}
	return a.sqlDB.PingContext(ctx)
}

// Config implements database.DBConnection.
func (a *GormDBAdapter) Config() dbconfig.DatabaseConfig {
	return a.cfg
}

// GetSQLDB implements database.DBConnection.
func (a *GormDBAdapter) GetSQLDB() (*sql.DB, error) {
	if a.sqlDB == nil {
		return nil, fmt.Errorf("underlying sql.DB is nil")
	}
	return a.sqlDB, nil
}

// session returns a context-bound session that skips GORM's implicit per-statement transaction.
func (a *GormDBAdapter) session(ctx context.Context) *gorm.DB {
	return a.db.WithContext(ctx).Session(&gorm.Session{SkipDefaultTransaction: true})
}

// ExecuteUpdate implements database.DBExecutor.
func (a *GormDBAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return executeUpdate(a.session(ctx), model, operation, tableName, query)
}

// ExecuteUpsert implements database.DBExecutor.
func (a *GormDBAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return executeUpsert(a.session(ctx), model, tableName, conflictColumns, updateColumns)
}

// ExecuteQuery implements database.DBExecutor.
func (a *GormDBAdapter) ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error {
	return executeQuery(a.db.WithContext(ctx), target, query, "", 0)
}

// ExecuteQueryAdvanced implements database.DBExecutor.
func (a *GormDBAdapter) ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error {
	return executeQuery(a.db.WithContext(ctx), target, query, orderBy, limit)
}

// ExecuteQueryPage implements database.DBExecutor.
func (a *GormDBAdapter) ExecuteQueryPage(ctx context.Context, target interface{}, page database.PageQuery) error {
	return executeQueryPage(a.db.WithContext(ctx), target, page)
}

// Count implements database.DBExecutor.
func (a *GormDBAdapter) Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error) {
	return count(a.db.WithContext(ctx), model, query)
}

// IsTableNotExistError implements database.DBExecutor.
func (a *GormDBAdapter) IsTableNotExistError(err error) bool {
	return a.classifier(err)
}

var _ database.DBConnection = (*GormDBAdapter)(nil)
