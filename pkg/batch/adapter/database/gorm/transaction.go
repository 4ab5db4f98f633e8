package gorm

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

// GormTxAdapter implements tx.Tx on a GORM transaction.
// Reads and writes made through it see the transaction's own uncommitted changes.
type GormTxAdapter struct {
	db          *gorm.DB
	classifier  TableNotExistClassifier
	afterCommit []func()
}

// AfterCommit implements tx.Synchronizer. fn runs after a successful Commit and is dropped on Rollback.
func (t *GormTxAdapter) AfterCommit(fn func()) {
	t.afterCommit = append(t.afterCommit, fn)
}

// GetGormDB returns the transaction's *gorm.DB.
func (t *GormTxAdapter) GetGormDB() *gorm.DB {
	return t.db
}

// ExecuteUpdate implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return executeUpdate(t.db.WithContext(ctx), model, operation, tableName, query)
}

// ExecuteUpsert implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return executeUpsert(t.db.WithContext(ctx), model, tableName, conflictColumns, updateColumns)
}

// ExecuteQuery implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error {
	return executeQuery(t.db.WithContext(ctx), target, query, "", 0)
}

// ExecuteQueryAdvanced implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error {
	return executeQuery(t.db.WithContext(ctx), target, query, orderBy, limit)
}

// ExecuteQueryPage implements tx.TxExecutor.
func (t *GormTxAdapter) ExecuteQueryPage(ctx context.Context, target interface{}, page database.PageQuery) error {
	return executeQueryPage(t.db.WithContext(ctx), target, page)
}

// Count implements tx.TxExecutor.
func (t *GormTxAdapter) Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error) {
	return count(t.db.WithContext(ctx), model, query)
}

// IsTableNotExistError implements tx.TxExecutor.
func (t *GormTxAdapter) IsTableNotExistError(err error) bool {
	return t.classifier(err)
}

// Savepoint implements tx.Tx.
func (t *GormTxAdapter) Savepoint(name string) error {
	return t.db.SavePoint(name).Error
}

// RollbackToSavepoint implements tx.Tx.
func (t *GormTxAdapter) RollbackToSavepoint(name string) error {
	return t.db.RollbackTo(name).Error
}

// GormTransactionManager implements tx.TransactionManager.
// The connection is resolved by name on every Begin, so a reconnect done by the
// resolver is picked up by the next chunk.
type GormTransactionManager struct {
	dbResolver database.DBConnectionResolver
	dbName     string
}

// NewGormTransactionManager creates a transaction manager for the named connection.
func NewGormTransactionManager(dbResolver database.DBConnectionResolver, dbName string) *GormTransactionManager {
	return &GormTransactionManager{dbResolver: dbResolver, dbName: dbName}
}

// Begin implements tx.TransactionManager.
func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	conn, err := m.dbResolver.ResolveDBConnection(ctx, m.dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DB connection '%s' for transaction: %w", m.dbName, err)
	}
	adapter, ok := conn.(*GormDBAdapter)
	if !ok {
		return nil, fmt.Errorf("internal error: DBConnection implementation is not *GormDBAdapter (got %T)", conn)
	}

	var txOpts *sql.TxOptions
	if len(opts) > 0 && opts[0] != nil {
		txOpts = opts[0]
	}

	gormTx := adapter.GetGormDB().WithContext(ctx).Begin(txOpts)
	if gormTx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", gormTx.Error)
	}
	return &GormTxAdapter{db: gormTx, classifier: adapter.classifier}, nil
}

// Commit implements tx.TransactionManager.
func (m *GormTransactionManager) Commit(t tx.Tx) error {
	gormTx, ok := t.(*GormTxAdapter)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	if err := gormTx.db.Commit().Error; err != nil {
		return err
	}
	hooks := gormTx.afterCommit
	gormTx.afterCommit = nil
	for _, fn := range hooks {
		fn()
	}
	return nil
}

// Rollback implements tx.TransactionManager.
func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	gormTx, ok := t.(*GormTxAdapter)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	gormTx.afterCommit = nil
	return gormTx.db.Rollback().Error
}

// GormTransactionManagerFactory is the GORM implementation of tx.TransactionManagerFactory.
type GormTransactionManagerFactory struct {
	dbResolver database.DBConnectionResolver
}

// NewGormTransactionManagerFactory creates an instance of GormTransactionManagerFactory.
func NewGormTransactionManagerFactory(dbResolver database.DBConnectionResolver) tx.TransactionManagerFactory {
	return &GormTransactionManagerFactory{dbResolver: dbResolver}
}

// NewTransactionManager implements tx.TransactionManagerFactory.
func (f *GormTransactionManagerFactory) NewTransactionManager(conn database.DBConnection) tx.TransactionManager {
	return NewGormTransactionManager(f.dbResolver, conn.Name())
}

var (
	_ tx.Tx                        = (*GormTxAdapter)(nil)
	_ tx.Synchronizer              = (*GormTxAdapter)(nil)
	_ tx.TransactionManager        = (*GormTransactionManager)(nil)
	_ tx.TransactionManagerFactory = (*GormTransactionManagerFactory)(nil)
)
