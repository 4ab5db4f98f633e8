package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

const (
	jobName  = "customerCreditJob"
	stepName = "creditStep"
)

func newStore() (*repository.DefaultExecutionStateStore, *inmemory.InMemoryJobRepository) {
	repo := inmemory.NewInMemoryJobRepository()
	return repository.NewExecutionStateStore(repo, inmemory.NewMemoryTransactionManager(), stepName), repo
}

func params() model.JobParameters {
	return model.NewJobParametersBuilder().AddDouble("minCredit", 100).ToJobParameters()
}

// finish moves the single step and its job to status, persisting both.
func finish(t *testing.T, store *repository.DefaultExecutionStateStore, je *model.JobExecution, status model.JobStatus, offset int64) {
	t.Helper()
	ctx := context.Background()
	se := je.StepExecutions[0]
	se.MarkAsStarted()
	je.MarkAsStarted()
	se.LastCommittedOffset = offset
	se.ReadCount = int(offset)
	switch status {
	case model.BatchStatusCompleted:
		se.MarkAsCompleted()
		je.MarkAsCompleted()
	case model.BatchStatusFailed:
		se.MarkAsFailed(errors.New("boom"))
		je.MarkAsFailed(errors.New("boom"))
	case model.BatchStatusStopped:
		se.MarkAsStopped()
		require.NoError(t, je.MarkAsStopping())
		je.MarkAsStopped()
	}
	require.NoError(t, store.UpdateStep(ctx, se))
	require.NoError(t, store.UpdateJob(ctx, je))
}

func TestCreateExecution_FirstLaunch(t *testing.T) {
	store, repo := newStore()
	ctx := context.Background()

	je, err := store.CreateExecution(ctx, jobName, params())
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStarting, je.Status)
	require.Len(t, je.StepExecutions, 1)
	assert.Equal(t, stepName, je.StepExecutions[0].StepName)
	assert.Equal(t, int64(0), je.StepExecutions[0].LastCommittedOffset)

	stored, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, je.JobInstanceID, stored.JobInstanceID)
}

func TestCreateExecution_RejectsRunningInstance(t *testing.T) {
	store, _ := newStore()
	ctx := context.Background()

	_, err := store.CreateExecution(ctx, jobName, params())
	require.NoError(t, err)

	_, err = store.CreateExecution(ctx, jobName, params())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrConcurrentLaunch)
}

func TestCreateExecution_RejectsCompletedInstance(t *testing.T) {
	store, _ := newStore()
	ctx := context.Background()

	je, err := store.CreateExecution(ctx, jobName, params())
	require.NoError(t, err)
	finish(t, store, je, model.BatchStatusCompleted, 10)

	_, err = store.CreateExecution(ctx, jobName, params())
	assert.ErrorIs(t, err, exception.ErrInstanceAlreadyComplete)

	other := model.NewJobParametersBuilder().AddDouble("minCredit", 200).ToJobParameters()
	_, err = store.CreateExecution(ctx, jobName, other)
	assert.NoError(t, err)
}

func TestCreateExecution_ResumesFailedExecution(t *testing.T) {
	for _, status := range []model.JobStatus{model.BatchStatusFailed, model.BatchStatusStopped} {
		t.Run(string(status), func(t *testing.T) {
			store, repo := newStore()
			ctx := context.Background()

			first, err := store.CreateExecution(ctx, jobName, params())
			require.NoError(t, err)
			finish(t, store, first, status, 150)

			second, err := store.CreateExecution(ctx, jobName, params())
			require.NoError(t, err)
			assert.Equal(t, first.JobInstanceID, second.JobInstanceID)
			assert.Equal(t, 1, second.RestartCount)
			assert.Equal(t, int64(150), second.StepExecutions[0].LastCommittedOffset)
			assert.Equal(t, 150, second.StepExecutions[0].ReadCount)

			previous, err := repo.FindJobExecutionByID(ctx, first.ID)
			require.NoError(t, err)
			assert.Equal(t, model.BatchStatusAbandoned, previous.Status)

			last, err := store.LoadLastExecution(ctx, jobName, params())
			require.NoError(t, err)
			assert.Equal(t, second.StepExecutions[0].ID, last.ID)
		})
	}
}

func TestUpdateStep_StaleVersion(t *testing.T) {
	store, _ := newStore()
	ctx := context.Background()

	je, err := store.CreateExecution(ctx, jobName, params())
	require.NoError(t, err)
	se := je.StepExecutions[0]
	stale := se.Snapshot()

	require.NoError(t, store.UpdateStep(ctx, se))
	err = store.UpdateStep(ctx, stale)
	assert.True(t, exception.IsOptimisticLockingFailure(err))
}

func TestLoadLastExecution_NotFound(t *testing.T) {
	store, _ := newStore()
	_, err := store.LoadLastExecution(context.Background(), jobName, params())
	assert.ErrorIs(t, err, repository.ErrStepExecutionNotFound)
}
