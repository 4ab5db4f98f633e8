// Package storage defines the common interfaces for object storage adapters.
// The parquet exporter uploads through these interfaces, so the same job can
// target a local directory or a GCS bucket by configuration alone.
package storage

import (
	"context"
	"io"

	coreAdapter "github.com/tigerroll/chunkbatch/pkg/batch/core/adapter"
)

// StorageProviderGroup is the Fx value group collecting all StorageProvider implementations.
const StorageProviderGroup = "storage_providers"

// StorageExecutor defines generic storage operations.
type StorageExecutor interface {
	// Upload uploads data to the specified bucket and object name.
	// 'data' is the stream of data to upload. 'contentType' is the MIME type of the data.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download downloads data from the specified bucket and object name.
	// It returns a ReadCloser which must be closed by the caller after use.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects lists objects within the specified bucket and prefix.
	// fn is called for each object name found.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
}

// StorageConnection represents a generic data storage connection.
type StorageConnection interface {
	coreAdapter.ResourceConnection
	StorageExecutor
}

// StorageProvider manages the connections of one storage type.
type StorageProvider interface {
	// GetConnection retrieves a StorageConnection with the specified name.
	GetConnection(name string) (StorageConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the storage type handled by this provider (e.g., "local", "gcs").
	Type() string
}

// StorageConnectionResolver resolves a named storage connection.
type StorageConnectionResolver interface {
	coreAdapter.ResourceConnectionResolver

	// ResolveStorageConnection resolves a StorageConnection instance by name.
	ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error)
}
