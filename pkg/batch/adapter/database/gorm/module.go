package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	coreAdapter "github.com/tigerroll/chunkbatch/pkg/batch/core/adapter"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Module exports the components of the gorm adapter package (excluding concrete DB providers,
// which come from the dialect packages).
var Module = fx.Options(
	fx.Provide(NewGormTransactionManagerFactory),
	fx.Provide(NewGormDBConnectionResolver),
	fx.Provide(func(r *GormDBConnectionResolver) database.DBConnectionResolver { return r }),
	fx.Provide(func(r *GormDBConnectionResolver) coreAdapter.ResourceConnectionResolver { return r }),
	fx.Invoke(registerCloseHook),
)

func registerCloseHook(lc fx.Lifecycle, r *GormDBConnectionResolver) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Closing all database connections.")
			return r.CloseAll()
		},
	})
}
