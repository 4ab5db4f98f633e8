// Package app wires the customer credit batch application with uber-fx.
package app

import (
	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm/postgres"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/local"
	usecase "github.com/tigerroll/chunkbatch/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	coremetrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	inframetrics "github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/migration"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/sql"
	batchlistener "github.com/tigerroll/chunkbatch/pkg/batch/listener"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"

	appjob "github.com/tigerroll/chunkbatch/example/customercredit/internal/job"
	appmigration "github.com/tigerroll/chunkbatch/example/customercredit/internal/migration"
)

// DBProviderMap is used by main.go to select dialects from DB_ADAPTORS.
var DBProviderMap = map[string]fx.Option{
	"postgres": postgres.Module,
	"mysql":    mysql.Module,
	"sqlite":   sqlite.Module,
}

// coreModules are shared by every run mode.
var coreModules = fx.Options(
	logger.Module,
	config.Module,
	usecase.Module,
	batchlistener.Module,
	appjob.Module,
)

// databaseModules persist job metadata and customers through the configured connections.
var databaseModules = fx.Options(
	gormadapter.Module,
	sql.Module,
	migration.Module,
	fx.Provide(fx.Annotate(appmigration.Source, fx.ResultTags(`group:"`+migration.SourceGroup+`"`))),
	storage.Module,
	local.Module,
	gcs.Module,
	inframetrics.Module,
	appjob.SQLModule,
	fx.Provide(NewSeeder),
)

// dryRunModules run the job over the demo customers in memory, without telemetry.
var dryRunModules = fx.Options(
	inmemory.Module,
	coremetrics.NoOpModule,
	appjob.MemoryModule,
)

// modules selects the fx options of cmd. dbProviders are ignored by a dry run.
func modules(cmd Command, dbProviders []fx.Option) fx.Option {
	if cmd.DryRun {
		return fx.Options(coreModules, dryRunModules)
	}
	return fx.Options(coreModules, fx.Options(dbProviders...), databaseModules)
}
