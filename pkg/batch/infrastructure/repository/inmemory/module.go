package inmemory

import (
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

// NewExecutionStateStore creates an ExecutionStateStore over repo and txManager for the configured step.
func NewExecutionStateStore(repo *InMemoryJobRepository, txManager *MemoryTransactionManager, cfg *config.Config) *repository.DefaultExecutionStateStore {
	return repository.NewExecutionStateStore(repo, txManager, cfg.ChunkBatch.Batch.StepName)
}

// Module provides the in-memory JobRepository, its transaction manager and the
// ExecutionStateStore built on both. It replaces the SQL repository module in dry runs.
var Module = fx.Options(
	fx.Provide(
		NewInMemoryJobRepository,
		NewMemoryTransactionManager,
		NewExecutionStateStore,
	),
	fx.Provide(func(r *InMemoryJobRepository) repository.JobRepository { return r }),
	fx.Provide(func(m *MemoryTransactionManager) tx.TransactionManager { return m }),
	fx.Provide(func(s *repository.DefaultExecutionStateStore) repository.ExecutionStateStore { return s }),
)
