package local

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	storageAdapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
	coreConfig "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// LocalProvider implements the storage.StorageProvider interface for managing local file system connections.
type LocalProvider struct {
	cfg         *coreConfig.Config
	connections map[string]storageAdapter.StorageConnection
	mu          sync.Mutex
}

// NewLocalProvider creates a new LocalProvider instance.
func NewLocalProvider(cfg *coreConfig.Config) *LocalProvider {
	return &LocalProvider{
		cfg:         cfg,
		connections: make(map[string]storageAdapter.StorageConnection),
	}
}

// GetConnection retrieves the connection with the given name, creating it on first use.
func (p *LocalProvider) GetConnection(name string) (storageAdapter.StorageConnection, error) {
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

	conn, err := NewLocalAdapter(cfg, name)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Debugf("Created new local storage connection '%s'.", name)
	return conn, nil
}

// CloseAll closes all connections managed by this provider.
func (p *LocalProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close local storage connection '%s': %w", name, err))
		}
		delete(p.connections, name)
	}
	return result.ErrorOrNil()
}

// Type returns "local".
func (p *LocalProvider) Type() string {
	return ProviderType
}

var _ storageAdapter.StorageProvider = (*LocalProvider)(nil)
