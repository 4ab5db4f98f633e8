package gcs

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
	coreConfig "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// GCSProvider implements storage.StorageProvider for GCS connections.
type GCSProvider struct {
	cfg         *coreConfig.Config
	connections map[string]storageAdapter.StorageConnection
	mu          sync.Mutex
}

// NewGCSProvider creates a new GCSProvider.
func NewGCSProvider(cfg *coreConfig.Config) *GCSProvider {
	return &GCSProvider{
		cfg:         cfg,
		connections: make(map[string]storageAdapter.StorageConnection),
	}
}

// GetConnection retrieves the connection with the given name, creating the client on first use.
func (p *GCSProvider) GetConnection(name string) (storageAdapter.StorageConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connections[name]; ok {
		return conn, nil
	}

	var cfg storageConfig.StorageConfig
	if err := coreConfig.DecodeSection(p.cfg.ChunkBatch.StorageConfigs, name, &cfg); err != nil {
		return nil, fmt.Errorf("storage %w", err)
	}
	if cfg.Type != ProviderType {
		return nil, fmt.Errorf("storage config type mismatch for '%s': expected '%s', got '%s'", name, ProviderType, cfg.Type)
	}

	conn, err := NewGCSAdapter(context.Background(), cfg, name)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Infof("Established new GCS storage connection '%s' (bucket: %s).", name, cfg.BucketName)
	return conn, nil
}

// CloseAll closes every GCS client.
func (p *GCSProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close gcs storage connection '%s': %w", name, err))
		}
		delete(p.connections, name)
	}
	return result.ErrorOrNil()
}

// Type returns "gcs".
func (p *GCSProvider) Type() string {
	return ProviderType
}

var _ storageAdapter.StorageProvider = (*GCSProvider)(nil)

// Module registers the GCSProvider in the storage provider group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewGCSProvider,
		fx.As(new(storageAdapter.StorageProvider)),
		fx.ResultTags(`group:"storage_providers"`),
	)),
)
