package storage

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	storageConfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
	coreAdapter "github.com/tigerroll/chunkbatch/pkg/batch/core/adapter"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ConnectionResolver resolves named storage connections through the provider of their type.
type ConnectionResolver struct {
	providers map[string]StorageProvider
	cfg       *config.Config
}

// ConnectionResolverParams defines the dependencies of NewConnectionResolver.
type ConnectionResolverParams struct {
	fx.In
	Providers []StorageProvider `group:"storage_providers"`
	Cfg       *config.Config
}

// NewConnectionResolver creates a ConnectionResolver over every registered StorageProvider.
func NewConnectionResolver(p ConnectionResolverParams) *ConnectionResolver {
	providers := make(map[string]StorageProvider, len(p.Providers))
	for _, provider := range p.Providers {
		providers[provider.Type()] = provider
	}
	return &ConnectionResolver{providers: providers, cfg: p.Cfg}
}

// ResolveStorageConnection implements StorageConnectionResolver.
func (r *ConnectionResolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	var cfg storageConfig.StorageConfig
	if err := config.DecodeSection(r.cfg.ChunkBatch.StorageConfigs, name, &cfg); err != nil {
		return nil, fmt.Errorf("StorageConnectionResolver: %w", err)
	}
	provider, ok := r.providers[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("StorageConnectionResolver: no storage provider found for type '%s' (connection '%s')", cfg.Type, name)
	}
	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("StorageConnectionResolver: failed to get connection '%s' from provider '%s': %w", name, cfg.Type, err)
	}
	return conn, nil
}

// ResolveConnection implements coreAdapter.ResourceConnectionResolver.
func (r *ConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveStorageConnection(ctx, name)
}

// CloseAll closes the connections of every provider.
func (r *ConnectionResolver) CloseAll() error {
	var result *multierror.Error
	for _, provider := range r.providers {
		if err := provider.CloseAll(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Module provides the StorageConnectionResolver. Concrete providers come from the local and gcs packages.
var Module = fx.Options(
	fx.Provide(NewConnectionResolver),
	fx.Provide(func(r *ConnectionResolver) StorageConnectionResolver { return r }),
	fx.Invoke(func(lc fx.Lifecycle, r *ConnectionResolver) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				logger.Debugf("Closing all storage connections.")
				return r.CloseAll()
			},
		})
	}),
)

var _ StorageConnectionResolver = (*ConnectionResolver)(nil)
