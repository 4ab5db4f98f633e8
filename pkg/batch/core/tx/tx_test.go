package tx_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	mocktx "github.com/tigerroll/chunkbatch/pkg/batch/test"
)

func TestRunInTx_CommitsOnSuccess(t *testing.T) {
	mockTx := new(mocktx.MockTx)
	tm := new(mocktx.MockTxManager)
	tm.On("Begin", mock.Anything, mock.Anything).Return(mockTx, nil)
	tm.On("Commit", mockTx).Return(nil)

	var seen tx.Tx
	err := tx.RunInTx(context.Background(), tm, func(ctx context.Context) error {
		seen, _ = tx.TxFromContext(ctx)
		return nil
	})

	require.NoError(t, err)
	assert.Same(t, mockTx, seen)
	tm.AssertExpectations(t)
	tm.AssertNotCalled(t, "Rollback", mock.Anything)
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	mockTx := new(mocktx.MockTx)
	tm := new(mocktx.MockTxManager)
	tm.On("Begin", mock.Anything, mock.Anything).Return(mockTx, nil)
	tm.On("Rollback", mockTx).Return(nil)

	boom := errors.New("write failed")
	err := tx.RunInTx(context.Background(), tm, func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	tm.AssertExpectations(t)
	tm.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestRunInTx_RollbackFailureIsReported(t *testing.T) {
	mockTx := new(mocktx.MockTx)
	tm := new(mocktx.MockTxManager)
	tm.On("Begin", mock.Anything, mock.Anything).Return(mockTx, nil)
	tm.On("Rollback", mockTx).Return(errors.New("connection lost"))

	boom := errors.New("write failed")
	err := tx.RunInTx(context.Background(), tm, func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "connection lost")
}

func TestRunInTx_RollsBackOnPanic(t *testing.T) {
	mockTx := new(mocktx.MockTx)
	tm := new(mocktx.MockTxManager)
	tm.On("Begin", mock.Anything, mock.Anything).Return(mockTx, nil)
	tm.On("Rollback", mockTx).Return(nil)

	assert.PanicsWithValue(t, "transformer bug", func() {
		_ = tx.RunInTx(context.Background(), tm, func(ctx context.Context) error {
			panic("transformer bug")
		})
	})
	tm.AssertCalled(t, "Rollback", mockTx)
	tm.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestRunInTx_JoinsExistingTransaction(t *testing.T) {
	outer := new(mocktx.MockTx)
	tm := new(mocktx.MockTxManager)

	ctx := tx.WithTx(context.Background(), outer)
	var seen tx.Tx
	err := tx.RunInTx(ctx, tm, func(ctx context.Context) error {
		seen, _ = tx.TxFromContext(ctx)
		return nil
	})

	require.NoError(t, err)
	assert.Same(t, outer, seen)
	tm.AssertNotCalled(t, "Begin", mock.Anything, mock.Anything)
}

func TestRunInTx_BeginFailure(t *testing.T) {
	tm := new(mocktx.MockTxManager)
	tm.On("Begin", mock.Anything, mock.Anything).Return(nil, errors.New("pool exhausted"))

	called := false
	err := tx.RunInTx(context.Background(), tm, func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.Error(t, err)
	assert.False(t, called)
}

func TestTxFromContext_Empty(t *testing.T) {
	_, ok := tx.TxFromContext(context.Background())
	assert.False(t, ok)
}
