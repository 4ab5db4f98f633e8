// Package tx provides the transaction abstraction of the chunkbatch framework.
// A chunk's write and its progress update share one transaction, carried in the
// context so that sources, writers and the execution state store join it.
package tx

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// TxExecutor defines the operations executable within a transaction.
// It is the same contract as database.DBExecutor, so callers use a Tx and a
// DBConnection interchangeably.
type TxExecutor interface {
	database.DBExecutor
}

// Tx represents an ongoing database transaction.
type Tx interface {
	TxExecutor

	// Savepoint creates a new savepoint within the current transaction.
	Savepoint(name string) error
	// RollbackToSavepoint rolls back the transaction to the named savepoint.
	RollbackToSavepoint(name string) error
}

// Synchronizer is implemented by transactions that can defer work until they commit.
// In-memory stores use it to stage changes; the callbacks are dropped on rollback.
type Synchronizer interface {
	AfterCommit(fn func())
}

// AfterCommit registers fn on the transaction carried by ctx when it supports
// synchronization, and runs fn immediately otherwise.
func AfterCommit(ctx context.Context, fn func()) {
	if t, ok := TxFromContext(ctx); ok {
		if s, ok := t.(Synchronizer); ok {
			s.AfterCommit(fn)
			return
		}
	}
	fn()
}

// TransactionManager manages the lifecycle of database transactions.
type TransactionManager interface {
	// Begin starts a new database transaction.
	// opts: Optional transaction options (e.g., isolation level, read-only flag).
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	// Commit commits the specified transaction.
	Commit(tx Tx) error
	// Rollback rolls back the specified transaction.
	Rollback(tx Tx) error
}

// TransactionManagerFactory creates TransactionManager instances for a database connection.
type TransactionManagerFactory interface {
	// NewTransactionManager creates a TransactionManager bound to conn.
	NewTransactionManager(conn database.DBConnection) TransactionManager
}

type txContextKey struct{}

// WithTx returns a copy of ctx carrying t.
func WithTx(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, t)
}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txContextKey{}).(Tx)
	return t, ok && t != nil
}

// RunInTx runs fn inside one transaction scope.
//
// The transaction is committed when fn returns nil and rolled back when fn returns
// an error or panics; a panic is re-raised after the rollback. When ctx already
// carries a transaction, fn joins it and the outer scope decides the outcome.
//
// Parameters:
//
//	ctx: The parent context.
//	tm: The transaction manager used to begin the transaction.
//	fn: The work to run. Its context carries the transaction.
//
// Returns:
//
//	The error of fn, of the commit, or of the rollback combined with the error of fn.
func RunInTx(ctx context.Context, tm TransactionManager, fn func(ctx context.Context) error, opts ...*sql.TxOptions) (err error) {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	t, err := tm.Begin(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tm.Rollback(t); rbErr != nil {
				logger.Errorf("Failed to roll back transaction after panic: %v", rbErr)
			}
			panic(p)
		}
	}()

	if err = fn(WithTx(ctx, t)); err != nil {
		if rbErr := tm.Rollback(t); rbErr != nil {
			return multierror.Append(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}

	if err = tm.Commit(t); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
