package writer_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/step/writer"
	coreAdapter "github.com/tigerroll/chunkbatch/pkg/batch/core/adapter"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/test"
)

var errBoom = errors.New("boom")

func newTxManager(t *testing.T) (*gormadapter.GormDBAdapter, tx.TransactionManager) {
	t.Helper()
	conn := test.NewSQLiteConnection(t)
	return conn, gormadapter.NewGormTransactionManager(test.NewTestSingleConnectionResolver(conn), test.TestDBName)
}

func TestSqlBulkWriter_UpsertsInsideTransaction(t *testing.T) {
	conn, tm := newTxManager(t)
	test.SeedCreditTable(t, conn, test.NewCreditRecords(150, 200))

	w := writer.NewSqlBulkWriter[test.CreditRecord]("creditWriter", 2, "", []string{"id"}, []string{"credit"})
	batch := []test.CreditRecord{
		{ID: 1, Name: "customer", Credit: 160},
		{ID: 2, Name: "customer", Credit: 210},
		{ID: 3, Name: "customer", Credit: 310},
	}

	ctx := context.Background()
	require.NoError(t, tx.RunInTx(ctx, tm, func(txCtx context.Context) error {
		return w.Write(txCtx, batch)
	}))
	// Replaying the same batch leaves the table unchanged.
	require.NoError(t, tx.RunInTx(ctx, tm, func(txCtx context.Context) error {
		return w.Write(txCtx, batch)
	}))

	assert.Equal(t, batch, test.LoadCreditTable(t, conn))
}

func TestSqlBulkWriter_RollbackDiscardsRows(t *testing.T) {
	conn, tm := newTxManager(t)
	test.SeedCreditTable(t, conn, test.NewCreditRecords(150))

	w := writer.NewSqlBulkWriter[test.CreditRecord]("creditWriter", 0, "", []string{"id"}, []string{"credit"})
	err := tx.RunInTx(context.Background(), tm, func(txCtx context.Context) error {
		if err := w.Write(txCtx, []test.CreditRecord{{ID: 1, Name: "customer", Credit: 999}}); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	assert.Equal(t, 150.0, test.LoadCreditTable(t, conn)[0].Credit)
}

func TestSqlBulkWriter_RequiresTransaction(t *testing.T) {
	w := writer.NewSqlBulkWriter[test.CreditRecord]("creditWriter", 10, "", []string{"id"}, nil)
	err := w.Write(context.Background(), []test.CreditRecord{{ID: 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, writer.ErrNoTransaction)
	assert.Equal(t, exception.KindWrite, exception.KindOf(err))
}

func TestSqlBulkWriter_SplitsIntoSubBatchesAndWrapsErrors(t *testing.T) {
	mockTx := new(test.MockTx)
	mockTx.On("ExecuteUpsert", mock.Anything, mock.Anything, "test_credit", []string{"id"}, []string{"credit"}).Return(int64(2), nil).Once()
	mockTx.On("ExecuteUpsert", mock.Anything, mock.Anything, "test_credit", []string{"id"}, []string{"credit"}).Return(int64(0), errBoom).Once()

	w := writer.NewSqlBulkWriter[test.CreditRecord]("creditWriter", 2, "test_credit", []string{"id"}, []string{"credit"})
	ctx := tx.WithTx(context.Background(), mockTx)
	err := w.Write(ctx, test.NewCreditRecords(1, 2, 3))

	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, exception.KindWrite, exception.KindOf(err))
	mockTx.AssertNumberOfCalls(t, "ExecuteUpsert", 2)
}

func TestSqlBulkWriter_EmptyBatchIsNoop(t *testing.T) {
	w := writer.NewSqlBulkWriter[test.CreditRecord]("creditWriter", 2, "", []string{"id"}, nil)
	assert.NoError(t, w.Write(context.Background(), nil))
}

func TestSliceWriter_UpsertsByKeyOnCommit(t *testing.T) {
	_, tm := newTxManager(t)
	w := writer.NewSliceWriter[test.CreditRecord, int64](test.CreditRecordID)
	ctx := context.Background()

	require.NoError(t, tx.RunInTx(ctx, tm, func(txCtx context.Context) error {
		require.NoError(t, w.Write(txCtx, test.NewCreditRecords(10, 20)))
		assert.Equal(t, 0, w.Len(), "rows must not be visible before commit")
		return nil
	}))
	require.NoError(t, w.Write(ctx, []test.CreditRecord{{ID: 1, Name: "customer", Credit: 11}}))

	assert.Equal(t, []test.CreditRecord{
		{ID: 1, Name: "customer", Credit: 11},
		{ID: 2, Name: "customer", Credit: 20},
	}, w.Items())
	got, ok := w.Get(2)
	require.True(t, ok)
	assert.Equal(t, 20.0, got.Credit)
}

func TestSliceWriter_RollbackDropsStagedRows(t *testing.T) {
	_, tm := newTxManager(t)
	w := writer.NewSliceWriter[test.CreditRecord, int64](test.CreditRecordID)

	err := tx.RunInTx(context.Background(), tm, func(txCtx context.Context) error {
		require.NoError(t, w.Write(txCtx, test.NewCreditRecords(10)))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, w.Items())
}

type staticStorageResolver struct {
	conn storage.StorageConnection
}

func (r *staticStorageResolver) ResolveStorageConnection(ctx context.Context, name string) (storage.StorageConnection, error) {
	return r.conn, nil
}

func (r *staticStorageResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.conn, nil
}

func newExporter(t *testing.T) (*writer.ParquetExporter[test.CreditRecord], storage.StorageConnection) {
	t.Helper()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: "local", BaseDir: t.TempDir()}, "export")
	require.NoError(t, err)
	exp, err := writer.NewParquetExporter[test.CreditRecord]("creditExport", config.ExportConfig{
		StorageRef:      "export",
		Bucket:          "exports",
		OutputBaseDir:   "customer_credit",
		CompressionType: "SNAPPY",
	}, &staticStorageResolver{conn: conn}, new(test.CreditRecord))
	require.NoError(t, err)
	return exp, conn
}

func TestParquetExporter_ExportsCommittedRowsOnly(t *testing.T) {
	_, tm := newTxManager(t)
	exp, conn := newExporter(t)
	sink := writer.NewSliceWriter[test.CreditRecord, int64](test.CreditRecordID)
	w := exp.Wrap(sink)
	ctx := context.Background()

	require.NoError(t, tx.RunInTx(ctx, tm, func(txCtx context.Context) error {
		return w.Write(txCtx, test.NewCreditRecords(160, 210))
	}))
	require.ErrorIs(t, tx.RunInTx(ctx, tm, func(txCtx context.Context) error {
		require.NoError(t, w.Write(txCtx, []test.CreditRecord{{ID: 3, Name: "customer", Credit: 310}}))
		return errBoom
	}), errBoom)
	assert.Equal(t, 2, exp.Buffered())

	objectName, err := exp.Export(ctx)
	require.NoError(t, err)
	assert.Contains(t, objectName, "customer_credit/data_")
	assert.Equal(t, 0, exp.Buffered())

	rc, err := conn.Download(ctx, "exports", objectName)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PAR1")))
	assert.True(t, bytes.HasSuffix(data, []byte("PAR1")))
}

func TestParquetExporter_NothingBufferedSkipsUpload(t *testing.T) {
	exp, conn := newExporter(t)
	objectName, err := exp.Export(context.Background())
	require.NoError(t, err)
	assert.Empty(t, objectName)

	var names []string
	require.NoError(t, conn.ListObjects(context.Background(), "exports", "", func(name string) error {
		names = append(names, name)
		return nil
	}))
	assert.Empty(t, names)
}

func TestParquetExporter_InnerWriteErrorIsNotBuffered(t *testing.T) {
	exp, _ := newExporter(t)
	w := exp.Wrap(writer.NewSqlBulkWriter[test.CreditRecord]("creditWriter", 0, "", []string{"id"}, nil))
	require.Error(t, w.Write(context.Background(), test.NewCreditRecords(1)))
	assert.Equal(t, 0, exp.Buffered())
}

func TestNewParquetExporter_Validation(t *testing.T) {
	resolver := &staticStorageResolver{}
	_, err := writer.NewParquetExporter[test.CreditRecord]("x", config.ExportConfig{OutputBaseDir: "d"}, resolver, nil)
	assert.Error(t, err)
	_, err = writer.NewParquetExporter[test.CreditRecord]("x", config.ExportConfig{StorageRef: "s"}, resolver, nil)
	assert.Error(t, err)
	_, err = writer.NewParquetExporter[test.CreditRecord]("x", config.ExportConfig{StorageRef: "s", OutputBaseDir: "d", CompressionType: "LZMA"}, resolver, nil)
	assert.Error(t, err)
}
