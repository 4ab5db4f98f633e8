package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/component/step/reader"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/step/writer"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/test"
)

const (
	jobName  = "ioSampleJob"
	stepName = "step1"
)

var errBoom = errors.New("boom")

type writerFunc func(ctx context.Context, batch []test.CreditRecord) error

func (f writerFunc) Write(ctx context.Context, batch []test.CreditRecord) error {
	return f(ctx, batch)
}

type transformerFunc func(ctx context.Context, in test.CreditRecord) (*test.CreditRecord, error)

func (f transformerFunc) Transform(ctx context.Context, in test.CreditRecord) (*test.CreditRecord, error) {
	return f(ctx, in)
}

// env wires the launcher, operator and explorer over the in-memory repository.
// hook, when set, runs after every staged write with the 1-based write call number.
type env struct {
	repo     *inmemory.InMemoryJobRepository
	store    *repository.DefaultExecutionStateStore
	sink     *writer.SliceWriter[test.CreditRecord, int64]
	launcher *usecase.SimpleJobLauncher
	operator *usecase.DefaultJobOperator
	explorer *usecase.SimpleJobExplorer
	hook     func(ctx context.Context, call int) error
	calls    int
}

func newEnv(t *testing.T, listeners ...port.JobExecutionListener) *env {
	t.Helper()
	tm := inmemory.NewMemoryTransactionManager()
	repo := inmemory.NewInMemoryJobRepository()
	e := &env{
		repo:  repo,
		store: repository.NewExecutionStateStore(repo, tm, stepName),
		sink:  writer.NewSliceWriter[test.CreditRecord, int64](test.CreditRecordID),
	}

	job := runner.NewChunkJob(jobName, stepName, func(params model.JobParameters) (port.Step, error) {
		min, _ := params.GetDouble("credit")
		source := reader.NewSliceSource(test.NewCreditRecords(50, 150, 200, 80, 300),
			func(a, b test.CreditRecord) bool { return a.ID < b.ID },
			func(r test.CreditRecord) bool { return r.Credit > min })
		step, err := item.NewChunkStep(item.ChunkStepConfig[test.CreditRecord, test.CreditRecord]{
			StepName:  stepName,
			ChunkSize: 2,
			Source:    source,
			Transformer: transformerFunc(func(ctx context.Context, in test.CreditRecord) (*test.CreditRecord, error) {
				in.Credit += 10
				return &in, nil
			}),
			Writer:    writerFunc(e.write),
			TxManager: tm,
			Store:     e.store,
		})
		if err != nil {
			return nil, err
		}
		return step, nil
	}, func(params model.JobParameters) error {
		if _, ok := params.GetDouble("credit"); !ok {
			return errors.New("job parameter 'credit' is required")
		}
		return nil
	})

	registry, err := usecase.NewJobRegistry(usecase.JobRegistryParams{Jobs: []port.Job{job}})
	require.NoError(t, err)

	e.launcher = usecase.NewSimpleJobLauncher(e.store, repo, registry, nil, nil, 0, listeners...)
	e.operator = usecase.NewDefaultJobOperator(repo, e.store, e.launcher)
	e.explorer = usecase.NewSimpleJobExplorer(repo, registry)
	return e
}

func (e *env) write(ctx context.Context, batch []test.CreditRecord) error {
	e.calls++
	if err := e.sink.Write(ctx, batch); err != nil {
		return err
	}
	if e.hook != nil {
		return e.hook(ctx, e.calls)
	}
	return nil
}

func params(min float64) model.JobParameters {
	return model.NewJobParametersBuilder().AddDouble("credit", min).ToJobParameters()
}

func credits(sink *writer.SliceWriter[test.CreditRecord, int64]) []float64 {
	out := make([]float64, 0, sink.Len())
	for _, r := range sink.Items() {
		out = append(out, r.Credit)
	}
	return out
}

// executionID returns the job execution id of the step being written.
func executionID(ctx context.Context) string {
	return port.GetStepExecutionFromContext(ctx).JobExecutionID
}

func TestLauncher_Launch_Completes(t *testing.T) {
	e := newEnv(t)

	je, err := e.launcher.Launch(context.Background(), jobName, params(100))
	require.NoError(t, err)

	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, model.ExitStatusCompleted, je.ExitStatus)
	se := je.StepExecution(stepName)
	require.NotNil(t, se)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 3, se.ReadCount)
	assert.Equal(t, 3, se.WriteCount)
	assert.Equal(t, 2, se.CommitCount)
	assert.Equal(t, []float64{160, 210, 310}, credits(e.sink))

	stored, err := e.explorer.GetJobExecution(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.False(t, e.launcher.IsRunning(je.ID))
}

func TestLauncher_Launch_RejectsUnknownJobAndInvalidParameters(t *testing.T) {
	e := newEnv(t)

	je, err := e.launcher.Launch(context.Background(), "unknownJob", params(100))
	assert.Error(t, err)
	assert.Nil(t, je)

	je, err = e.launcher.Launch(context.Background(), jobName, model.NewJobParameters())
	assert.Error(t, err)
	assert.Nil(t, je)

	_, err = e.explorer.FindJobInstance(context.Background(), jobName, model.NewJobParameters())
	assert.Error(t, err, "no instance is created for invalid parameters")
}

func TestLauncher_Launch_CompletedInstanceIsRejected(t *testing.T) {
	e := newEnv(t)
	_, err := e.launcher.Launch(context.Background(), jobName, params(100))
	require.NoError(t, err)

	je, err := e.launcher.Launch(context.Background(), jobName, params(100))
	assert.Nil(t, je)
	assert.ErrorIs(t, err, exception.ErrInstanceAlreadyComplete)
}

func TestLauncher_Launch_FailureAndAutomaticResume(t *testing.T) {
	e := newEnv(t)
	e.hook = func(ctx context.Context, call int) error {
		if call == 2 {
			return errBoom
		}
		return nil
	}

	je, err := e.launcher.Launch(context.Background(), jobName, params(100))
	require.Error(t, err)

	var failure *usecase.JobFailureError
	require.True(t, errors.As(err, &failure))
	assert.Same(t, je, failure.Execution)
	assert.ErrorIs(t, err, exception.ErrWrite)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, model.BatchStatusFailed, je.Status)

	se := je.StepExecution(stepName)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, int64(2), se.LastCommittedOffset)
	assert.Equal(t, 1, se.CommitCount)
	assert.Equal(t, 1, se.RollbackCount)
	assert.Equal(t, []float64{160, 210}, credits(e.sink))

	e.hook = nil
	resumed, err := e.launcher.Launch(context.Background(), jobName, params(100))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, resumed.Status)
	assert.Equal(t, 1, resumed.RestartCount)
	assert.Equal(t, 3, resumed.StepExecution(stepName).WriteCount)
	assert.Equal(t, []float64{160, 210, 310}, credits(e.sink))

	previous, err := e.explorer.GetJobExecution(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAbandoned, previous.Status)
}

func TestOperator_Stop_InProcessThenRestart(t *testing.T) {
	e := newEnv(t)
	e.hook = func(ctx context.Context, call int) error {
		if call == 1 {
			return e.operator.Stop(context.Background(), executionID(ctx))
		}
		return nil
	}

	je, err := e.launcher.Launch(context.Background(), jobName, params(100))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.Equal(t, model.ExitStatusStopped, je.ExitStatus)
	se := je.StepExecution(stepName)
	assert.Equal(t, model.BatchStatusStopped, se.Status)
	assert.Equal(t, int64(2), se.LastCommittedOffset)

	stored, err := e.explorer.GetJobExecution(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, stored.Status)

	_, err = e.operator.Restart(context.Background(), je.ID, params(50))
	assert.ErrorIs(t, err, exception.ErrRestartMismatch)

	e.hook = nil
	restarted, err := e.operator.Restart(context.Background(), je.ID, params(100))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, restarted.Status)
	assert.Equal(t, []float64{160, 210, 310}, credits(e.sink))
	assert.Equal(t, 2, restarted.StepExecution(stepName).CommitCount)

	_, err = e.operator.Restart(context.Background(), je.ID, params(100))
	assert.Error(t, err, "an abandoned execution cannot be restarted")
}

func TestLauncher_ObservesStopFromAnotherProcess(t *testing.T) {
	e := newEnv(t)
	e.hook = func(ctx context.Context, call int) error {
		if call != 1 {
			return nil
		}
		// Marks the stored execution STOPPING without touching the launcher's stop flag.
		stored, err := e.repo.FindJobExecutionByID(context.Background(), executionID(ctx))
		if err != nil {
			return err
		}
		if err := stored.MarkAsStopping(); err != nil {
			return err
		}
		return e.store.UpdateJob(context.Background(), stored)
	}

	je, err := e.launcher.Launch(context.Background(), jobName, params(100))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.Equal(t, 1, je.StepExecution(stepName).CommitCount)

	stored, err := e.explorer.GetJobExecution(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, stored.Status)
}

func TestLauncher_ContextCancellationStops(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.hook = func(_ context.Context, call int) error {
		if call == 1 {
			cancel()
		}
		return nil
	}

	je, err := e.launcher.Launch(ctx, jobName, params(100))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.Equal(t, int64(2), je.StepExecution(stepName).LastCommittedOffset)

	stored, err := e.explorer.GetJobExecution(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, stored.Status)
}

func TestOperator_StopAndAbandon_FinishedExecutions(t *testing.T) {
	e := newEnv(t)
	e.hook = func(ctx context.Context, call int) error { return errBoom }

	je, err := e.launcher.Launch(context.Background(), jobName, params(100))
	require.Error(t, err)
	require.Equal(t, model.BatchStatusFailed, je.Status)

	assert.Error(t, e.operator.Stop(context.Background(), je.ID))

	require.NoError(t, e.operator.Abandon(context.Background(), je.ID))
	stored, err := e.explorer.GetJobExecution(context.Background(), je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAbandoned, stored.Status)

	require.NoError(t, e.operator.Abandon(context.Background(), je.ID), "abandoning twice is a no-op")

	_, err = e.operator.Restart(context.Background(), je.ID, params(100))
	assert.Error(t, err)
}

func TestExplorer_Queries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.hook = func(ctx context.Context, call int) error {
		if call == 1 {
			return errBoom
		}
		return nil
	}
	first, err := e.launcher.Launch(ctx, jobName, params(100))
	require.Error(t, err)
	e.hook = nil
	second, err := e.launcher.Launch(ctx, jobName, params(100))
	require.NoError(t, err)

	names, err := e.explorer.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{jobName}, names)

	instance, err := e.explorer.FindJobInstance(ctx, jobName, params(100))
	require.NoError(t, err)
	assert.Equal(t, second.JobInstanceID, instance.ID)

	got, err := e.explorer.GetJobInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, jobName, got.JobName)

	executions, err := e.explorer.GetJobExecutions(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, second.ID, executions[0].ID)
	assert.Equal(t, first.ID, executions[1].ID)

	last, err := e.explorer.GetLastJobExecution(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)

	p, err := e.explorer.GetParameters(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, p.Equal(params(100)))

	_, err = e.explorer.GetJobExecution(ctx, "missing")
	assert.Error(t, err)
}

type recordingListener struct {
	before []model.JobStatus
	after  []model.JobStatus
}

func (l *recordingListener) BeforeJob(ctx context.Context, je *model.JobExecution) {
	l.before = append(l.before, je.Status)
}

func (l *recordingListener) AfterJob(ctx context.Context, je *model.JobExecution) {
	l.after = append(l.after, je.Status)
}

func TestLauncher_NotifiesJobListeners(t *testing.T) {
	listener := &recordingListener{}
	e := newEnv(t, listener)

	_, err := e.launcher.Launch(context.Background(), jobName, params(100))
	require.NoError(t, err)
	assert.Equal(t, []model.JobStatus{model.BatchStatusStarted}, listener.before)
	assert.Equal(t, []model.JobStatus{model.BatchStatusCompleted}, listener.after)
}

type namedJob struct{ name string }

func (j namedJob) JobName() string { return j.name }

func (j namedJob) ValidateParameters(params model.JobParameters) error { return nil }

func (j namedJob) Run(ctx context.Context, je *model.JobExecution, stop port.StopSignal) error {
	return nil
}

func TestJobRegistry(t *testing.T) {
	_, err := usecase.NewJobRegistry(usecase.JobRegistryParams{Jobs: []port.Job{namedJob{"a"}, namedJob{"a"}}})
	assert.Error(t, err)

	registry, err := usecase.NewJobRegistry(usecase.JobRegistryParams{Jobs: []port.Job{namedJob{"b"}, namedJob{"a"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, registry.JobNames())

	job, err := registry.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", job.JobName())

	_, err = registry.Get("c")
	assert.Error(t, err)
}

// orphanExecution leaves an execution behind as a process killed after its first chunk would:
// STARTED, with one committed chunk and no final status.
func orphanExecution(t *testing.T, e *env) *model.JobExecution {
	t.Helper()
	ctx := context.Background()
	je, err := e.store.CreateExecution(ctx, jobName, params(100))
	require.NoError(t, err)
	je.MarkAsStarted()
	require.NoError(t, e.store.UpdateJob(ctx, je))

	se := je.StepExecution(stepName)
	se.MarkAsStarted()
	se.ReadCount, se.WriteCount, se.CommitCount, se.LastCommittedOffset = 2, 2, 1, 2
	require.NoError(t, e.store.UpdateStep(ctx, se))
	return je
}

func TestOperator_Abandon_OrphanedExecutionThenResume(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	orphan := orphanExecution(t, e)

	_, err := e.launcher.Launch(ctx, jobName, params(100))
	assert.ErrorIs(t, err, exception.ErrConcurrentLaunch)

	require.NoError(t, e.operator.Abandon(ctx, orphan.ID))
	stored, err := e.explorer.GetJobExecution(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAbandoned, stored.Status)

	resumed, err := e.launcher.Launch(ctx, jobName, params(100))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, resumed.Status)
	assert.Equal(t, 1, resumed.RestartCount)
	se := resumed.StepExecution(stepName)
	assert.Equal(t, int64(3), se.LastCommittedOffset)
	assert.Equal(t, 3, se.WriteCount)
	assert.Equal(t, 2, se.CommitCount)
	// Only the record after the committed chunk is written.
	assert.Equal(t, 1, e.calls)
	assert.Equal(t, []float64{310}, credits(e.sink))
}

func TestOperator_Abandon_StoppingOrphan(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	orphan := orphanExecution(t, e)
	require.NoError(t, e.operator.Stop(ctx, orphan.ID))

	require.NoError(t, e.operator.Abandon(ctx, orphan.ID))
	stored, err := e.explorer.GetJobExecution(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAbandoned, stored.Status)
}

func TestOperator_Abandon_RejectsExecutionRunningInProcess(t *testing.T) {
	e := newEnv(t)
	var abandonErr error
	e.hook = func(ctx context.Context, call int) error {
		if call == 1 {
			abandonErr = e.operator.Abandon(context.Background(), executionID(ctx))
		}
		return nil
	}

	je, err := e.launcher.Launch(context.Background(), jobName, params(100))
	require.NoError(t, err)
	assert.Error(t, abandonErr)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
}

func TestLauncher_Launch_ResumesAfterAbandonedFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.hook = func(ctx context.Context, call int) error {
		if call == 2 {
			return errBoom
		}
		return nil
	}

	failed, err := e.launcher.Launch(ctx, jobName, params(100))
	require.Error(t, err)
	require.Equal(t, int64(2), failed.StepExecution(stepName).LastCommittedOffset)
	require.NoError(t, e.operator.Abandon(ctx, failed.ID))

	e.hook = nil
	resumed, err := e.launcher.Launch(ctx, jobName, params(100))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, resumed.Status)
	assert.Equal(t, 1, resumed.RestartCount)
	se := resumed.StepExecution(stepName)
	assert.Equal(t, 3, se.WriteCount)
	assert.Equal(t, 2, se.CommitCount)
	assert.Equal(t, 3, e.calls, "the committed first chunk is not written again")
	assert.Equal(t, []float64{160, 210, 310}, credits(e.sink))

	stored, err := e.explorer.GetJobExecution(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAbandoned, stored.Status)
}

func TestLauncher_ObservesAbandonFromAnotherProcess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.hook = func(ctx context.Context, call int) error {
		if call != 1 {
			return nil
		}
		stored, err := e.repo.FindJobExecutionByID(context.Background(), executionID(ctx))
		if err != nil {
			return err
		}
		stored.MarkAsAbandoned()
		return e.store.UpdateJob(context.Background(), stored)
	}

	je, err := e.launcher.Launch(ctx, jobName, params(100))
	require.NoError(t, err)
	assert.Equal(t, 1, je.StepExecution(stepName).CommitCount)

	stored, err := e.explorer.GetJobExecution(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusAbandoned, stored.Status, "the abandoned status is not overwritten")

	e.hook = nil
	resumed, err := e.launcher.Launch(ctx, jobName, params(100))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, resumed.Status)
	assert.Equal(t, []float64{160, 210, 310}, credits(e.sink))
	assert.Equal(t, 2, e.calls)
}
