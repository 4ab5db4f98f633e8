package job

import (
	"context"
	"fmt"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	reader "github.com/tigerroll/chunkbatch/pkg/batch/component/step/reader"
	writer "github.com/tigerroll/chunkbatch/pkg/batch/component/step/writer"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	coreConfig "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"

	"github.com/tigerroll/chunkbatch/example/customercredit/internal/domain/entity"
)

// SQLComponents reads and upserts customer_credit on the batch source connection.
type SQLComponents struct {
	dbResolver database.DBConnectionResolver
	cfg        *coreConfig.Config
}

// NewSQLComponents creates SQLComponents.
func NewSQLComponents(dbResolver database.DBConnectionResolver, cfg *coreConfig.Config) *SQLComponents {
	return &SQLComponents{dbResolver: dbResolver, cfg: cfg}
}

// Source implements Components.
func (c *SQLComponents) Source(filter port.Filter) (port.PagedSource[entity.CustomerCredit], error) {
	batch := c.cfg.ChunkBatch.Batch
	source, err := reader.NewSqlPagedReader[entity.CustomerCredit](c.dbResolver, reader.SqlPagedReaderConfig{
		Name:     "customerCreditReader",
		DBName:   batch.SourceDBRef,
		Table:    entity.CustomerCredit{}.TableName(),
		OrderKey: batch.OrderKey,
		Filter:   filter,
	})
	if err != nil {
		return nil, err
	}
	return source, nil
}

// Writer implements Components. Rows are upserted on id, so replaying a chunk is harmless.
func (c *SQLComponents) Writer() port.ChunkWriter[entity.CustomerCredit] {
	return writer.NewSqlBulkWriter[entity.CustomerCredit](
		"customerCreditWriter",
		c.cfg.ChunkBatch.Batch.ChunkSize,
		entity.CustomerCredit{}.TableName(),
		[]string{"id"},
		[]string{"name", "credit"},
	)
}

// MemorySink collects the customers written by a dry run.
type MemorySink = writer.SliceWriter[entity.CustomerCredit, int64]

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return writer.NewSliceWriter[entity.CustomerCredit, int64](entity.CustomerCreditID)
}

// MemoryComponents runs the job over the demo customers without a database.
type MemoryComponents struct {
	records []entity.CustomerCredit
	sink    *MemorySink
}

// NewMemoryComponents creates MemoryComponents over the demo customers writing to sink.
func NewMemoryComponents(sink *MemorySink) *MemoryComponents {
	return &MemoryComponents{records: entity.DemoCustomers(), sink: sink}
}

// Source implements Components. Only the credit column can be filtered.
func (c *MemoryComponents) Source(filter port.Filter) (port.PagedSource[entity.CustomerCredit], error) {
	if filter.IsZero() {
		return reader.NewSliceSource(c.records, entity.ByID, nil), nil
	}
	if filter.Field != "credit" {
		return nil, fmt.Errorf("in-memory source cannot filter on '%s'", filter.Field)
	}
	threshold, ok := filter.Value.(float64)
	if !ok {
		return nil, fmt.Errorf("in-memory source needs a numeric filter value, got %T", filter.Value)
	}
	match := func(c entity.CustomerCredit) bool {
		switch {
		case c.Credit < threshold:
			return filter.Op.Compare(-1)
		case c.Credit > threshold:
			return filter.Op.Compare(1)
		default:
			return filter.Op.Compare(0)
		}
	}
	return reader.NewSliceSource(c.records, entity.ByID, match), nil
}

// Writer implements Components.
func (c *MemoryComponents) Writer() port.ChunkWriter[entity.CustomerCredit] {
	return c.sink
}

// NewCustomerCreditExporter creates the parquet exporter of written customers, or nil when
// export is disabled.
func NewCustomerCreditExporter(cfg *coreConfig.Config, resolver storage.StorageConnectionResolver) (*writer.ParquetExporter[entity.CustomerCredit], error) {
	if !cfg.ChunkBatch.Export.Enabled {
		logger.Debugf("Parquet export is disabled.")
		return nil, nil
	}
	return writer.NewParquetExporter[entity.CustomerCredit]("customerCreditExporter", cfg.ChunkBatch.Export, resolver, &entity.CustomerCredit{})
}

// ExportWritten exports the customers written by a completed run when an exporter is configured.
func ExportWritten(ctx context.Context, exporter *writer.ParquetExporter[entity.CustomerCredit]) (string, error) {
	if exporter == nil {
		return "", nil
	}
	return exporter.Export(ctx)
}

var (
	_ Components = (*SQLComponents)(nil)
	_ Components = (*MemoryComponents)(nil)
)
