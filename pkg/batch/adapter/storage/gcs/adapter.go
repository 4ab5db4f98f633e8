// Package gcs provides a Google Cloud Storage implementation of the storage adapter interfaces.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	storageAdapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ProviderType defines the type identifier for this storage provider.
const ProviderType = "gcs"

// gcsAdapter implements storage.StorageConnection on a GCS client.
type gcsAdapter struct {
	client *storage.Client
	cfg    storageConfig.StorageConfig
	name   string
}

var _ storageAdapter.StorageConnection = (*gcsAdapter)(nil)

// NewGCSAdapter creates a GCS connection.
// A credentials file is used when configured, application default credentials otherwise.
//
// Parameters:
//
//	ctx: The context used to create the client.
//	cfg: The storage configuration of the connection.
//	name: The connection name.
//
// Returns:
//
//	The connection, or an error if the client cannot be created.
func NewGCSAdapter(ctx context.Context, cfg storageConfig.StorageConfig, name string) (storageAdapter.StorageConnection, error) {
	opts := clientOptions(cfg)
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage adapter '%s': failed to create client: %w", name, err)
	}
	return &gcsAdapter{client: client, cfg: cfg, name: name}, nil
}

func clientOptions(cfg storageConfig.StorageConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	return opts
}

// Close closes the GCS client.
func (a *gcsAdapter) Close() error {
	logger.Debugf("GCS storage adapter '%s' closed.", a.name)
	return a.client.Close()
}

// Type returns "gcs".
func (a *gcsAdapter) Type() string {
	return ProviderType
}

// Name returns the name of this connection.
func (a *gcsAdapter) Name() string {
	return a.name
}

func (a *gcsAdapter) bucket(name string) (*storage.BucketHandle, error) {
	if name == "" {
		name = a.cfg.BucketName
	}
	if name == "" {
		return nil, fmt.Errorf("gcs storage adapter '%s': no bucket specified", a.name)
	}
	return a.client.Bucket(name), nil
}

// Upload writes data to bucket/objectName.
func (a *gcsAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	bkt, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	w := bkt.Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload object '%s': %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object '%s': %w", objectName, err)
	}
	logger.Debugf("Uploaded object '%s' (gcs adapter '%s').", objectName, a.name)
	return nil
}

// Download returns a reader for bucket/objectName. The caller closes it.
func (a *gcsAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	bkt, err := a.bucket(bucket)
	if err != nil {
		return nil, err
	}
	r, err := bkt.Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open object '%s': %w", objectName, err)
	}
	return r, nil
}

// ListObjects calls fn for every object under prefix.
func (a *gcsAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	bkt, err := a.bucket(bucket)
	if err != nil {
		return err
	}
	it := bkt.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list objects with prefix '%s': %w", prefix, err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}
