// Package local stores exported objects as files under a base directory.
// A bucket is a sub directory of the base directory.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	storageAdapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ProviderType is the storage type handled by this package.
const ProviderType = "local"

// partialSuffix marks a file still being written by Upload. ListObjects skips such files.
const partialSuffix = ".partial"

type localAdapter struct {
	name string
	root string // absolute BaseDir
	// bucket is used when a call passes an empty bucket.
	bucket string
}

var _ storageAdapter.StorageConnection = (*localAdapter)(nil)

// NewLocalAdapter opens the base directory of cfg, creating it when missing.
func NewLocalAdapter(cfg storageConfig.StorageConfig, name string) (storageAdapter.StorageConnection, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage '%s': base_dir is required", name)
	}
	root, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("local storage '%s': %w", name, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("local storage '%s': failed to prepare base_dir '%s': %w", name, root, err)
	}
	return &localAdapter{name: name, root: root, bucket: cfg.BucketName}, nil
}

func (a *localAdapter) Close() error { return nil }

func (a *localAdapter) Type() string { return ProviderType }

func (a *localAdapter) Name() string { return a.name }

// Upload writes data to bucket/objectName. The file appears under its final name only once
// it is complete, so a failed export never leaves a truncated object behind.
func (a *localAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	target, err := a.objectPath(bucket, objectName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("local storage '%s': %w", a.name, err)
	}

	partial := target + partialSuffix
	f, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("local storage '%s': %w", a.name, err)
	}
	_, copyErr := io.Copy(f, data)
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("local storage '%s': failed to write '%s': %w", a.name, objectName, copyErr)
	}
	if err := os.Rename(partial, target); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("local storage '%s': %w", a.name, err)
	}
	logger.Debugf("Stored '%s' (local storage '%s').", target, a.name)
	return nil
}

// Download opens bucket/objectName. The caller closes the reader.
func (a *localAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	path, err := a.objectPath(bucket, objectName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("local storage '%s': %w", a.name, err)
	}
	return f, nil
}

// ListObjects calls fn with the slash separated name of every complete object in bucket
// whose name starts with prefix. A bucket that was never written to is empty.
func (a *localAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	dir, err := a.objectPath(bucket, "")
	if err != nil {
		return err
	}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir && os.IsNotExist(walkErr) {
				return filepath.SkipDir
			}
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(path, partialSuffix) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		return fn(name)
	})
	if err != nil {
		return fmt.Errorf("local storage '%s': failed to list '%s': %w", a.name, prefix, err)
	}
	return nil
}

// objectPath maps bucket/objectName below the base directory and rejects names leaving it.
func (a *localAdapter) objectPath(bucket, objectName string) (string, error) {
	if bucket == "" {
		bucket = a.bucket
	}
	path := filepath.Join(a.root, bucket, filepath.FromSlash(objectName))
	if path != a.root && !strings.HasPrefix(path, a.root+string(filepath.Separator)) {
		return "", fmt.Errorf("local storage '%s': object '%s' is outside of base_dir", a.name, objectName)
	}
	return path, nil
}
