package reader_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/step/reader"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/test"
)

func credits(rows []test.CreditRecord) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Credit
	}
	return out
}

func TestSqlPagedReader_FiltersAndPagesInOrder(t *testing.T) {
	conn := test.NewSQLiteConnection(t)
	test.SeedCreditTable(t, conn, test.NewCreditRecords(50, 150, 200, 80, 300))

	r, err := reader.NewSqlPagedReader[test.CreditRecord](test.NewTestSingleConnectionResolver(conn), reader.SqlPagedReaderConfig{
		Name:   "creditReader",
		DBName: test.TestDBName,
		Filter: port.Filter{Field: "credit", Op: port.OpGreaterThan, Value: 100.0},
	})
	require.NoError(t, err)

	ctx := context.Background()
	page, err := r.NextPage(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{150, 200}, credits(page))

	page, err = r.NextPage(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{300}, credits(page))

	page, err = r.NextPage(ctx, 3, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestSqlPagedReader_OrderKeyWithIDTieBreak(t *testing.T) {
	conn := test.NewSQLiteConnection(t)
	test.SeedCreditTable(t, conn, test.NewCreditRecords(300, 100, 300, 100))

	r, err := reader.NewSqlPagedReader[test.CreditRecord](test.NewTestSingleConnectionResolver(conn), reader.SqlPagedReaderConfig{
		Name:     "creditReader",
		DBName:   test.TestDBName,
		OrderKey: "credit",
	})
	require.NoError(t, err)

	page, err := r.NextPage(context.Background(), 0, 10)
	require.NoError(t, err)
	ids := make([]int64, len(page))
	for i, row := range page {
		ids[i] = row.ID
	}
	assert.Equal(t, []int64{2, 4, 1, 3}, ids)
}

func TestSqlPagedReader_UsesTransactionFromContext(t *testing.T) {
	mockTx := new(test.MockTx)
	mockTx.On("ExecuteQueryPage", mock.Anything, mock.Anything, mock.MatchedBy(func(p database.PageQuery) bool {
		return p.Where == "credit > ?" && p.OrderBy == "id ASC" && p.Offset == 4 && p.Limit == 2
	})).Return(nil).Once()

	resolver := new(test.MockDBConnectionResolver)
	r, err := reader.NewSqlPagedReader[test.CreditRecord](resolver, reader.SqlPagedReaderConfig{
		Name:   "creditReader",
		DBName: test.TestDBName,
		Filter: port.Filter{Field: "credit", Op: port.OpGreaterThan, Value: 100.0},
	})
	require.NoError(t, err)

	_, err = r.NextPage(tx.WithTx(context.Background(), mockTx), 4, 2)
	require.NoError(t, err)
	mockTx.AssertExpectations(t)
	resolver.AssertNotCalled(t, "ResolveDBConnection", mock.Anything, mock.Anything)
}

func TestSqlPagedReader_WrapsFailuresAsSourceError(t *testing.T) {
	mockTx := new(test.MockTx)
	mockTx.On("ExecuteQueryPage", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()

	r, err := reader.NewSqlPagedReader[test.CreditRecord](new(test.MockDBConnectionResolver), reader.SqlPagedReaderConfig{Name: "creditReader"})
	require.NoError(t, err)

	_, err = r.NextPage(tx.WithTx(context.Background(), mockTx), 0, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrSource)
}

func TestSqlPagedReader_RejectsInvalidColumns(t *testing.T) {
	_, err := reader.NewSqlPagedReader[test.CreditRecord](nil, reader.SqlPagedReaderConfig{OrderKey: "credit desc"})
	assert.Error(t, err)
	_, err = reader.NewSqlPagedReader[test.CreditRecord](nil, reader.SqlPagedReaderConfig{
		Filter: port.Filter{Field: "credit", Op: "LIKE", Value: "x"},
	})
	assert.Error(t, err)
}

func TestSliceSource(t *testing.T) {
	records := test.NewCreditRecords(50, 150, 200, 80, 300)
	src := reader.NewSliceSource(records,
		func(a, b test.CreditRecord) bool { return a.ID < b.ID },
		func(r test.CreditRecord) bool { return r.Credit > 100 },
	)
	assert.Equal(t, 3, src.Len())

	ctx := context.Background()
	page, err := src.NextPage(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{150, 200}, credits(page))

	page, err = src.NextPage(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{300}, credits(page))

	page, err = src.NextPage(ctx, 3, 2)
	require.NoError(t, err)
	assert.Empty(t, page)

	// Pages are copies.
	page, _ = src.NextPage(ctx, 0, 1)
	page[0].Credit = 0
	again, _ := src.NextPage(ctx, 0, 1)
	assert.Equal(t, 150.0, again[0].Credit)
}
