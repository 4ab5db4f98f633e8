package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ParquetExporter collects the records committed by a chunk step and exports them
// as one parquet file to a storage connection.
//
// Records enter the exporter through the writer returned by [ParquetExporter.Wrap]; they are
// buffered only once their chunk transaction commits, so a rolled back chunk never reaches the file.
type ParquetExporter[T any] struct {
	name      string
	cfg       config.ExportConfig
	codec     parquet.CompressionCodec
	resolver  storage.StorageConnectionResolver
	prototype *T

	mu       sync.Mutex
	buffered []T
}

// NewParquetExporter creates a new instance of ParquetExporter.
//
// Parameters:
//
//	name: The unique name of the exporter, used in logs and errors.
//	cfg: The export configuration (storage reference, bucket, base directory, compression).
//	resolver: Resolver for storage connections.
//	prototype: A pointer to a zero-value T, used for parquet schema reflection.
//
// Returns:
//
//	A new ParquetExporter, or an error if the configuration is incomplete.
func NewParquetExporter[T any](name string, cfg config.ExportConfig, resolver storage.StorageConnectionResolver, prototype *T) (*ParquetExporter[T], error) {
	if cfg.StorageRef == "" {
		return nil, exception.NewBatchErrorf("writer", "ParquetExporter '%s' requires 'storage_ref'", name)
	}
	if cfg.OutputBaseDir == "" {
		return nil, exception.NewBatchErrorf("writer", "ParquetExporter '%s' requires 'output_base_dir'", name)
	}
	codec, err := getCompressionCodec(cfg.CompressionType)
	if err != nil {
		return nil, exception.NewBatchError("writer", fmt.Sprintf("invalid compression type for ParquetExporter '%s'", name), err)
	}
	if prototype == nil {
		prototype = new(T)
	}
	return &ParquetExporter[T]{
		name:      name,
		cfg:       cfg,
		codec:     codec,
		resolver:  resolver,
		prototype: prototype,
	}, nil
}

// Wrap returns a ChunkWriter that delegates to inner and buffers each batch for export
// after the chunk transaction commits.
func (e *ParquetExporter[T]) Wrap(inner port.ChunkWriter[T]) port.ChunkWriter[T] {
	return &exportingWriter[T]{inner: inner, exporter: e}
}

// Buffered returns the number of committed records waiting for export.
func (e *ParquetExporter[T]) Buffered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffered)
}

func (e *ParquetExporter[T]) add(items []T) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffered = append(e.buffered, items...)
}

// Export writes the buffered records to a parquet file and uploads it.
// The buffer is cleared whether or not the upload succeeds. With nothing buffered,
// no file is produced and the returned object name is empty.
//
// Parameters:
//
//	ctx: The context for the operation.
//
// Returns:
//
//	string: The object name of the uploaded file.
//	error: The aggregated errors of encoding and upload.
func (e *ParquetExporter[T]) Export(ctx context.Context) (string, error) {
	e.mu.Lock()
	items := e.buffered
	e.buffered = nil
	e.mu.Unlock()

	if len(items) == 0 {
		logger.Infof("ParquetExporter '%s': No records buffered, skipping parquet file generation.", e.name)
		return "", nil
	}

	buf, err := e.encode(items)
	if err != nil {
		return "", err
	}

	conn, err := e.resolver.ResolveStorageConnection(ctx, e.cfg.StorageRef)
	if err != nil {
		return "", exception.NewBatchError("writer",
			fmt.Sprintf("failed to resolve storage connection '%s' for ParquetExporter '%s'", e.cfg.StorageRef, e.name), err)
	}

	fileName := fmt.Sprintf("data_%s_%s.parquet", time.Now().UTC().Format("20060102150405"), uuid.NewString()[:8])
	objectName := path.Join(e.cfg.OutputBaseDir, fileName)

	logger.Debugf("ParquetExporter '%s': Uploading %d bytes to %s/%s", e.name, buf.Len(), e.cfg.StorageRef, objectName)
	if err := conn.Upload(ctx, e.cfg.Bucket, objectName, buf, "application/octet-stream"); err != nil {
		return "", exception.NewBatchError("writer",
			fmt.Sprintf("failed to upload parquet file '%s' in ParquetExporter '%s'", objectName, e.name), err)
	}
	logger.Infof("ParquetExporter '%s': Uploaded %d records to %s", e.name, len(items), objectName)
	return objectName, nil
}

// encode renders items as a single row group parquet file.
func (e *ParquetExporter[T]) encode(items []T) (buf *bytes.Buffer, err error) {
	buf = new(bytes.Buffer)
	pw, err := pqwriter.NewParquetWriterFromWriter(buf, e.prototype, 1)
	if err != nil {
		return nil, exception.NewBatchError("writer", fmt.Sprintf("failed to create parquet writer in ParquetExporter '%s'", e.name), err)
	}
	pw.CompressionType = e.codec

	var result *multierror.Error
	for i, item := range items {
		if werr := pw.Write(item); werr != nil {
			result = multierror.Append(result, fmt.Errorf("record %d: %w", i, werr))
		}
	}

	// WriteStop panics on some schema errors.
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("ParquetExporter '%s': Recovered from panic during WriteStop: %v", e.name, r)
				result = multierror.Append(result, fmt.Errorf("parquet writer panicked during WriteStop: %v", r))
			}
		}()
		if serr := pw.WriteStop(); serr != nil {
			result = multierror.Append(result, fmt.Errorf("write stop: %w", serr))
		}
	}()

	if result.ErrorOrNil() != nil {
		return nil, exception.NewBatchError("writer", fmt.Sprintf("failed to encode parquet in ParquetExporter '%s'", e.name), result.ErrorOrNil())
	}
	return buf, nil
}

// exportingWriter is the ChunkWriter returned by ParquetExporter.Wrap.
type exportingWriter[T any] struct {
	inner    port.ChunkWriter[T]
	exporter *ParquetExporter[T]
}

// Write implements port.ChunkWriter.
func (w *exportingWriter[T]) Write(ctx context.Context, items []T) error {
	if err := w.inner.Write(ctx, items); err != nil {
		return err
	}
	staged := append([]T(nil), items...)
	tx.AfterCommit(ctx, func() { w.exporter.add(staged) })
	return nil
}

// getCompressionCodec returns the parquet compression codec from a string.
func getCompressionCodec(compressionType string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compressionType) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compressionType)
	}
}
