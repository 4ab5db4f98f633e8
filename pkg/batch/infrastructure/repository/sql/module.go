package sql

import (
	"go.uber.org/fx"

	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
)

// Module provides the SQL JobRepository, the transaction manager of its connection and
// the ExecutionStateStore built on both.
var Module = fx.Options(
	fx.Provide(NewJobRepository),
	fx.Provide(NewTransactionManager),
	fx.Provide(NewExecutionStateStore),
	fx.Provide(func(s *repository.DefaultExecutionStateStore) repository.ExecutionStateStore { return s }),
)
