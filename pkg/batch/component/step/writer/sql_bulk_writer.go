// Package writer provides ChunkWriter implementations and the parquet exporter.
package writer

import (
	"context"
	"errors"
	"fmt"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ErrNoTransaction is returned by writers that require the chunk transaction in the context.
var ErrNoTransaction = errors.New("transaction not found in context")

// SqlBulkWriter is an implementation of [port.ChunkWriter] that upserts rows in bulk.
// It participates in the chunk transaction carried by the context and relies on
// [tx.Tx.ExecuteUpsert], so replaying a chunk after a restart updates the same rows.
type SqlBulkWriter[T any] struct {
	name            string   // name is the writer name used in logs and errors.
	bulkSize        int      // bulkSize is the maximum number of rows per statement. Zero writes the batch in one statement.
	tableName       string   // tableName is the target table, or empty to use T's table.
	conflictColumns []string // conflictColumns identify a row (e.g., the primary key).
	updateColumns   []string // updateColumns are overwritten on conflict.
}

// NewSqlBulkWriter creates a new instance of [SqlBulkWriter].
//
// Parameters:
//
//	name: A unique name for this writer instance.
//	bulkSize: The maximum number of rows per statement.
//	tableName: The name of the target database table.
//	conflictColumns: The identifier columns used to detect an existing row.
//	updateColumns: The columns to update on conflict.
//
// Returns:
//
//	A new [SqlBulkWriter] instance.
func NewSqlBulkWriter[T any](name string, bulkSize int, tableName string, conflictColumns []string, updateColumns []string) *SqlBulkWriter[T] {
	return &SqlBulkWriter[T]{
		name:            name,
		bulkSize:        bulkSize,
		tableName:       tableName,
		conflictColumns: conflictColumns,
		updateColumns:   updateColumns,
	}
}

// Write implements port.ChunkWriter.
func (w *SqlBulkWriter[T]) Write(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}

	currentTx, ok := tx.TxFromContext(ctx)
	if !ok {
		return exception.NewWriteError(w.name, len(items), ErrNoTransaction)
	}

	size := w.bulkSize
	if size <= 0 {
		size = len(items)
	}
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		part := items[i:end]

		if _, err := currentTx.ExecuteUpsert(ctx, &part, w.tableName, w.conflictColumns, w.updateColumns); err != nil {
			return exception.NewWriteError(w.name, len(items), fmt.Errorf("bulk upsert at index %d: %w", i, err))
		}
		logger.Debugf("SqlBulkWriter '%s': Wrote %d rows (start index %d).", w.name, len(part), i)
	}
	return nil
}

var _ port.ChunkWriter[any] = (*SqlBulkWriter[any])(nil)
