package gorm

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	coreAdapter "github.com/tigerroll/chunkbatch/pkg/batch/core/adapter"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// GormDBConnectionResolver is the GORM implementation of database.DBConnectionResolver.
type GormDBConnectionResolver struct {
	dbProviders map[string]database.DBProvider // keyed by database type (e.g., "postgres")
	cfg         *config.Config
}

// GormDBConnectionResolverParams defines the dependencies of NewGormDBConnectionResolver.
type GormDBConnectionResolverParams struct {
	fx.In
	DBProviders []database.DBProvider `group:"db_providers"`
	Cfg         *config.Config
}

// NewGormDBConnectionResolver creates a new GormDBConnectionResolver.
//
// Parameters:
//
//	p: An Fx parameter struct containing every registered DBProvider and the application Config.
//
// Returns:
//
//	A new GormDBConnectionResolver instance.
func NewGormDBConnectionResolver(p GormDBConnectionResolverParams) *GormDBConnectionResolver {
	providerMap := make(map[string]database.DBProvider, len(p.DBProviders))
	for _, provider := range p.DBProviders {
		providerMap[provider.Type()] = provider
	}
	return &GormDBConnectionResolver{
		dbProviders: providerMap,
		cfg:         p.Cfg,
	}
}

// ResolveDBConnection resolves a database connection with the specified name.
// A connection that fails to ping is re-established once.
//
// Parameters:
//
//	ctx: The context for the operation.
//	name: The name of the database connection to resolve.
//
// Returns:
//
//	The resolved database.DBConnection and an error if resolution or reconnection fails.
func (r *GormDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	var dbConfig dbconfig.DatabaseConfig
	if err := config.DecodeSection(r.cfg.ChunkBatch.DatabaseConfigs, name, &dbConfig); err != nil {
		return nil, fmt.Errorf("DBConnectionResolver: %w", err)
	}

	provider, ok := r.dbProviders[dbConfig.Type]
	if !ok {
		return nil, fmt.Errorf("DBConnectionResolver: DBProvider for type '%s' not found for connection '%s'", dbConfig.Type, name)
	}

	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("DBConnectionResolver: failed to get connection '%s': %w", name, err)
	}

	if pingErr := conn.RefreshConnection(ctx); pingErr != nil {
		logger.Warnf("DBConnectionResolver: Connection '%s' is invalid (%v). Attempting to reconnect.", name, pingErr)
		reconnected, reconnectErr := provider.ForceReconnect(name)
		if reconnectErr != nil {
			return nil, fmt.Errorf("DBConnectionResolver: failed to reconnect connection '%s': %w", name, reconnectErr)
		}
		logger.Infof("DBConnectionResolver: Successfully reconnected connection '%s'.", name)
		return reconnected, nil
	}
	return conn, nil
}

// ResolveConnection implements coreAdapter.ResourceConnectionResolver.
func (r *GormDBConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveDBConnection(ctx, name)
}

// CloseAll closes the connections of every provider.
func (r *GormDBConnectionResolver) CloseAll() error {
	var result *multierror.Error
	for _, provider := range r.dbProviders {
		if err := provider.CloseAll(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

var _ database.DBConnectionResolver = (*GormDBConnectionResolver)(nil)
