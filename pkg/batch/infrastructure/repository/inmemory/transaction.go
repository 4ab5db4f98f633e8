package inmemory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

// ErrNotSupported is returned by the SQL operations of a MemoryTx.
var ErrNotSupported = errors.New("operation not supported by the in-memory transaction")

// MemoryTx is a transaction over in-memory state. It holds the callbacks registered with
// AfterCommit and runs them, in registration order, when it commits.
type MemoryTx struct {
	mu    sync.Mutex
	hooks []func()
	done  bool
}

// AfterCommit implements tx.Synchronizer.
func (t *MemoryTx) AfterCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, fn)
}

func (t *MemoryTx) finish() ([]func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, errors.New("transaction already finished")
	}
	t.done = true
	hooks := t.hooks
	t.hooks = nil
	return hooks, nil
}

// ExecuteUpdate implements tx.TxExecutor.
func (t *MemoryTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	return 0, ErrNotSupported
}

// ExecuteUpsert implements tx.TxExecutor.
func (t *MemoryTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	return 0, ErrNotSupported
}

// ExecuteQuery implements tx.TxExecutor.
func (t *MemoryTx) ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error {
	return ErrNotSupported
}

// ExecuteQueryAdvanced implements tx.TxExecutor.
func (t *MemoryTx) ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error {
	return ErrNotSupported
}

// ExecuteQueryPage implements tx.TxExecutor.
func (t *MemoryTx) ExecuteQueryPage(ctx context.Context, target interface{}, page database.PageQuery) error {
	return ErrNotSupported
}

// Count implements tx.TxExecutor.
func (t *MemoryTx) Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error) {
	return 0, ErrNotSupported
}

// IsTableNotExistError implements tx.TxExecutor.
func (t *MemoryTx) IsTableNotExistError(err error) bool {
	return false
}

// Savepoint implements tx.Tx.
func (t *MemoryTx) Savepoint(name string) error {
	return ErrNotSupported
}

// RollbackToSavepoint implements tx.Tx.
func (t *MemoryTx) RollbackToSavepoint(name string) error {
	return ErrNotSupported
}

// MemoryTransactionManager implements tx.TransactionManager with MemoryTx.
type MemoryTransactionManager struct{}

// NewMemoryTransactionManager creates a MemoryTransactionManager.
func NewMemoryTransactionManager() *MemoryTransactionManager {
	return &MemoryTransactionManager{}
}

// Begin implements tx.TransactionManager.
func (m *MemoryTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	return &MemoryTx{}, nil
}

// Commit implements tx.TransactionManager.
func (m *MemoryTransactionManager) Commit(t tx.Tx) error {
	memTx, ok := t.(*MemoryTx)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *MemoryTx, got %T", t)
	}
	hooks, err := memTx.finish()
	if err != nil {
		return err
	}
	for _, fn := range hooks {
		fn()
	}
	return nil
}

// Rollback implements tx.TransactionManager. Registered callbacks are dropped.
func (m *MemoryTransactionManager) Rollback(t tx.Tx) error {
	memTx, ok := t.(*MemoryTx)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *MemoryTx, got %T", t)
	}
	_, err := memTx.finish()
	return err
}

var (
	_ tx.Tx                 = (*MemoryTx)(nil)
	_ tx.Synchronizer       = (*MemoryTx)(nil)
	_ tx.TransactionManager = (*MemoryTransactionManager)(nil)
)
