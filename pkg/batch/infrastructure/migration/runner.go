package migration

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// SourceGroup is the fx value group collecting application migration sources.
const SourceGroup = "migration_sources"

// Runner applies the framework migrations and then every application Source to one connection.
type Runner struct {
	dbResolver database.DBConnectionResolver
	provider   MigratorProvider
	dbName     string
	sources    []Source
}

// RunnerParams defines the dependencies of NewRunner.
type RunnerParams struct {
	fx.In
	DBResolver database.DBConnectionResolver
	Provider   MigratorProvider
	Cfg        *config.Config
	Sources    []Source `group:"migration_sources"`
}

// NewRunner creates a Runner for the job repository connection.
func NewRunner(p RunnerParams) *Runner {
	return &Runner{
		dbResolver: p.DBResolver,
		provider:   p.Provider,
		dbName:     p.Cfg.ChunkBatch.Infrastructure.JobRepositoryDBRef,
		sources:    p.Sources,
	}
}

// NewRunnerFor creates a Runner without fx.
//
// Parameters:
//
//	dbResolver: Resolves the connection named dbName.
//	provider: Creates the Migrator of the resolved connection.
//	dbName: The connection to migrate.
//	sources: Application migrations applied after the framework ones.
//
// Returns:
//
//	A new Runner.
func NewRunnerFor(dbResolver database.DBConnectionResolver, provider MigratorProvider, dbName string, sources ...Source) *Runner {
	return &Runner{dbResolver: dbResolver, provider: provider, dbName: dbName, sources: sources}
}

// Run applies all pending migrations. The directory of each source is the database type
// of the connection (e.g., "postgres").
func (r *Runner) Run(ctx context.Context) error {
	all := append([]Source{{Name: "framework", FS: FrameworkMigrationsFS(), Table: FixedFrameworkMigrationsTable}}, r.sources...)
	for _, src := range all {
		table := src.Table
		if table == "" {
			table = FixedAppMigrationsTable
		}
		// Resolved per source: a migrator may close the connection it used.
		conn, err := r.dbResolver.ResolveDBConnection(ctx, r.dbName)
		if err != nil {
			return fmt.Errorf("failed to resolve DB connection '%s' for migration: %w", r.dbName, err)
		}
		logger.Debugf("Applying migrations '%s' to '%s'.", src.Name, r.dbName)
		if err := r.provider.NewMigrator(conn).Up(ctx, src.FS, conn.Type(), table); err != nil {
			return fmt.Errorf("migrations '%s': %w", src.Name, err)
		}
	}
	return nil
}

func registerMigrationHook(lc fx.Lifecycle, cfg *config.Config, runner *Runner) {
	if !cfg.ChunkBatch.Infrastructure.MigrateOnStart {
		logger.Debugf("Schema migration on start is disabled.")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return runner.Run(ctx)
		},
	})
}

// Module runs the migrations on application start when infrastructure.migrate_on_start is set.
var Module = fx.Options(
	fx.Provide(NewMigratorProvider),
	fx.Provide(NewRunner),
	fx.Invoke(registerMigrationHook),
)
