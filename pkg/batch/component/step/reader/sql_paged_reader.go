// Package reader provides PagedSource implementations for chunk steps.
package reader

import (
	"context"
	"fmt"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DefaultIDColumn is the identifier column used to break ordering ties.
const DefaultIDColumn = "id"

// SqlPagedReaderConfig configures a SqlPagedReader.
type SqlPagedReaderConfig struct {
	// Name identifies the reader in logs and errors.
	Name string
	// DBName is the connection used when the context carries no transaction.
	DBName string
	// Table is the table to read. When empty, it is resolved from T.
	Table string
	// OrderKey is the ordering column. Defaults to IDColumn.
	OrderKey string
	// IDColumn is the identifier column breaking ties. Defaults to DefaultIDColumn.
	IDColumn string
	// Filter is applied to every page. The zero Filter reads the whole table.
	Filter port.Filter
}

// SqlPagedReader is a [port.PagedSource] that reads rows with
// WHERE <filter> ORDER BY <orderKey>, <id> LIMIT ? OFFSET ?.
//
// Inside a chunk transaction it reads through that transaction, so a page sees the
// same snapshot as the chunk's writes; otherwise it reads through the named connection.
type SqlPagedReader[T any] struct {
	name       string                        // name is the reader name used in logs.
	dbResolver database.DBConnectionResolver // dbResolver resolves the connection used outside a transaction.
	dbName     string                        // dbName is the name of the connection.
	table      string                        // table is the table read, or empty to use T's table.
	orderBy    string                        // orderBy is the rendered ORDER BY clause.
	where      string                        // where is the rendered filter condition.
	args       []interface{}                 // args are the values bound to where.
}

// NewSqlPagedReader creates a new instance of SqlPagedReader.
//
// Parameters:
//
//	dbResolver: Resolves the connection named cfg.DBName.
//	cfg: The reader configuration.
//
// Returns:
//
//	The reader, or an error if the filter or a column name is invalid.
func NewSqlPagedReader[T any](dbResolver database.DBConnectionResolver, cfg SqlPagedReaderConfig) (*SqlPagedReader[T], error) {
	if err := cfg.Filter.Validate(); err != nil {
		return nil, exception.NewBatchError("reader", fmt.Sprintf("invalid filter for SqlPagedReader '%s'", cfg.Name), err)
	}
	idColumn := cfg.IDColumn
	if idColumn == "" {
		idColumn = DefaultIDColumn
	}
	orderKey := cfg.OrderKey
	if orderKey == "" {
		orderKey = idColumn
	}
	for _, col := range []string{idColumn, orderKey} {
		if err := (port.Filter{Field: col, Op: port.OpEqual, Value: 0}).Validate(); err != nil {
			return nil, exception.NewBatchError("reader", fmt.Sprintf("invalid ordering column for SqlPagedReader '%s'", cfg.Name), err)
		}
	}

	orderBy := fmt.Sprintf("%s ASC", idColumn)
	if orderKey != idColumn {
		orderBy = fmt.Sprintf("%s ASC, %s ASC", orderKey, idColumn)
	}
	where, args := cfg.Filter.Clause()

	logger.Infof("SqlPagedReader '%s': table=%s filter=%s order=%s", cfg.Name, cfg.Table, cfg.Filter, orderBy)
	return &SqlPagedReader[T]{
		name:       cfg.Name,
		dbResolver: dbResolver,
		dbName:     cfg.DBName,
		table:      cfg.Table,
		orderBy:    orderBy,
		where:      where,
		args:       args,
	}, nil
}

// NextPage implements port.PagedSource.
func (r *SqlPagedReader[T]) NextPage(ctx context.Context, offset int64, pageSize int) ([]T, error) {
	executor, err := r.executor(ctx)
	if err != nil {
		return nil, exception.NewSourceError(r.name, offset, err)
	}

	var rows []T
	page := database.PageQuery{
		Table:   r.table,
		Where:   r.where,
		Args:    r.args,
		OrderBy: r.orderBy,
		Offset:  offset,
		Limit:   pageSize,
	}
	if err := executor.ExecuteQueryPage(ctx, &rows, page); err != nil {
		return nil, exception.NewSourceError(r.name, offset, err)
	}
	logger.Debugf("SqlPagedReader '%s': Fetched %d rows at offset %d.", r.name, len(rows), offset)
	return rows, nil
}

func (r *SqlPagedReader[T]) executor(ctx context.Context) (database.DBExecutor, error) {
	if t, ok := tx.TxFromContext(ctx); ok {
		return t, nil
	}
	return r.dbResolver.ResolveDBConnection(ctx, r.dbName)
}

var _ port.PagedSource[any] = (*SqlPagedReader[any])(nil)
