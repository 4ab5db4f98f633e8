package inmemory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

func newExecution(t *testing.T, repo *InMemoryJobRepository) (*model.JobExecution, *model.StepExecution) {
	t.Helper()
	ctx := context.Background()
	params := model.NewJobParametersBuilder().AddString("run", "1").ToJobParameters()

	ji := model.NewJobInstance("job", params)
	require.NoError(t, repo.SaveJobInstance(ctx, ji))
	je := model.NewJobExecution(ji.ID, "job", params)
	se := model.NewStepExecution(model.NewID(), je, "step")
	je.AddStepExecution(se)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	require.NoError(t, repo.SaveStepExecution(ctx, se))
	return je, se
}

func TestInMemoryJobRepository_StoresCopies(t *testing.T) {
	repo := NewInMemoryJobRepository()
	_, se := newExecution(t, repo)

	se.ReadCount = 99
	found, err := repo.FindStepExecutionByID(context.Background(), se.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, found.ReadCount)

	found.ReadCount = 42
	again, err := repo.FindStepExecutionByID(context.Background(), se.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.ReadCount)
}

func TestInMemoryJobRepository_UpdateStepExecution_VersionCheck(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryJobRepository()
	_, se := newExecution(t, repo)

	stale := se.Snapshot()
	se.ReadCount = 10
	require.NoError(t, repo.UpdateStepExecution(ctx, se))
	assert.Equal(t, 1, se.Version)

	stale.ReadCount = 5
	err := repo.UpdateStepExecution(ctx, stale)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrOptimisticLockingFailure))
	assert.Equal(t, 0, stale.Version)

	found, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, found.ReadCount)
}

func TestInMemoryJobRepository_AppliesWritesOnCommitOnly(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryJobRepository()
	tm := NewMemoryTransactionManager()
	_, se := newExecution(t, repo)

	rolledBack := se.Snapshot()
	err := tx.RunInTx(ctx, tm, func(txCtx context.Context) error {
		rolledBack.WriteCount = 3
		if err := repo.UpdateStepExecution(txCtx, rolledBack); err != nil {
			return err
		}
		return errors.New("write failed")
	})
	require.Error(t, err)

	found, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, found.WriteCount)
	assert.Equal(t, 0, found.Version)

	committed := se.Snapshot()
	require.NoError(t, tx.RunInTx(ctx, tm, func(txCtx context.Context) error {
		committed.WriteCount = 3
		return repo.UpdateStepExecution(txCtx, committed)
	}))

	found, err = repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, found.WriteCount)
	assert.Equal(t, 1, found.Version)
}

func TestInMemoryJobRepository_SaveJobInstance_RejectsDuplicateIdentity(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryJobRepository()
	params := model.NewJobParametersBuilder().AddString("run", "1").ToJobParameters()

	require.NoError(t, repo.SaveJobInstance(ctx, model.NewJobInstance("job", params)))
	err := repo.SaveJobInstance(ctx, model.NewJobInstance("job", params))
	assert.True(t, exception.IsOptimisticLockingFailure(err))
}

func TestInMemoryJobRepository_FindLatestJobExecution(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryJobRepository()
	first, _ := newExecution(t, repo)

	_, err := repo.FindLatestJobExecution(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)

	second := model.NewJobExecution(first.JobInstanceID, "job", first.Parameters)
	second.RestartCount = 1
	second.CreateTime = first.CreateTime
	require.NoError(t, repo.SaveJobExecution(ctx, second))

	latest, err := repo.FindLatestJobExecution(ctx, first.JobInstanceID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	byFirst, err := repo.FindJobExecutionByID(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, byFirst.StepExecutions, 1)
	assert.Same(t, byFirst, byFirst.StepExecutions[0].JobExecution)
}

func TestMemoryTransactionManager_FinishOnce(t *testing.T) {
	tm := NewMemoryTransactionManager()
	memTx, err := tm.Begin(context.Background())
	require.NoError(t, err)

	ran := 0
	memTx.(*MemoryTx).AfterCommit(func() { ran++ })
	require.NoError(t, tm.Commit(memTx))
	assert.Equal(t, 1, ran)
	assert.Error(t, tm.Rollback(memTx))
	assert.Equal(t, 1, ran)
}
