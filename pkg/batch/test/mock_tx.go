package test

import (
	"context"
	"database/sql"

	"github.com/stretchr/testify/mock"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

// MockTx is a mock implementation of the tx.Tx interface.
// It allows isolated testing of components that write through a transaction.
type MockTx struct {
	mock.Mock
}

// ExecuteUpdate mocks the ExecuteUpdate method of tx.TxExecutor.
func (m *MockTx) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error) {
	args := m.Called(ctx, model, operation, tableName, query)
	return args.Get(0).(int64), args.Error(1)
}

// ExecuteUpsert mocks the ExecuteUpsert method of tx.TxExecutor.
func (m *MockTx) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error) {
	args := m.Called(ctx, model, tableName, conflictColumns, updateColumns)
	return args.Get(0).(int64), args.Error(1)
}

// ExecuteQuery mocks the ExecuteQuery method of tx.TxExecutor.
func (m *MockTx) ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error {
	args := m.Called(ctx, target, query)
	return args.Error(0)
}

// ExecuteQueryAdvanced mocks the ExecuteQueryAdvanced method of tx.TxExecutor.
func (m *MockTx) ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error {
	args := m.Called(ctx, target, query, orderBy, limit)
	return args.Error(0)
}

// ExecuteQueryPage mocks the ExecuteQueryPage method of tx.TxExecutor.
func (m *MockTx) ExecuteQueryPage(ctx context.Context, target interface{}, page database.PageQuery) error {
	args := m.Called(ctx, target, page)
	return args.Error(0)
}

// Count mocks the Count method of tx.TxExecutor.
func (m *MockTx) Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error) {
	args := m.Called(ctx, model, query)
	return args.Get(0).(int64), args.Error(1)
}

// IsTableNotExistError mocks the IsTableNotExistError method of tx.TxExecutor.
func (m *MockTx) IsTableNotExistError(err error) bool {
	args := m.Called(err)
	return args.Bool(0)
}

// Savepoint mocks the Savepoint method of tx.Tx.
func (m *MockTx) Savepoint(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

// RollbackToSavepoint mocks the RollbackToSavepoint method of tx.Tx.
func (m *MockTx) RollbackToSavepoint(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

// MockTxManager is a mock implementation of the tx.TransactionManager interface.
type MockTxManager struct {
	mock.Mock
}

// Begin mocks the Begin method of tx.TransactionManager.
func (m *MockTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(tx.Tx), args.Error(1)
}

// Commit mocks the Commit method of tx.TransactionManager.
func (m *MockTxManager) Commit(t tx.Tx) error {
	args := m.Called(t)
	return args.Error(0)
}

// Rollback mocks the Rollback method of tx.TransactionManager.
func (m *MockTxManager) Rollback(t tx.Tx) error {
	args := m.Called(t)
	return args.Error(0)
}

var _ tx.Tx = (*MockTx)(nil)
var _ tx.TransactionManager = (*MockTxManager)(nil)
