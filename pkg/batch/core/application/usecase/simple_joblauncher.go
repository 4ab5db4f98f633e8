package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// SimpleJobLauncher implements JobLauncher for local, synchronous execution.
//
// A running execution stops at its next chunk boundary when Stop is requested in this
// process, when the launch context is cancelled, or when another process has marked it
// STOPPING in the repository. The repository is polled at most once per pollInterval.
type SimpleJobLauncher struct {
	store          repository.ExecutionStateStore
	jobRepository  repository.JobRepository
	registry       *JobRegistry
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
	listeners      []port.JobExecutionListener
	pollInterval   time.Duration

	// running holds the stop flags of executions launched by this process.
	running map[string]*atomic.Bool
	mu      sync.Mutex
}

// NewSimpleJobLauncher creates a new SimpleJobLauncher.
//
// Parameters:
//   store: The state store creating and updating executions.
//   repo: The repository polled for stop requests from other processes.
//   registry: The registered jobs.
//   recorder: The metric recorder. nil means no metrics.
//   tracer: The tracer. nil means no tracing.
//   pollInterval: The minimum time between two repository polls of a running execution.
//   listeners: Job listeners notified before and after every run.
//
// Returns:
//   A new SimpleJobLauncher.
func NewSimpleJobLauncher(
	store repository.ExecutionStateStore,
	repo repository.JobRepository,
	registry *JobRegistry,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
	pollInterval time.Duration,
	listeners ...port.JobExecutionListener,
) *SimpleJobLauncher {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &SimpleJobLauncher{
		store:          store,
		jobRepository:  repo,
		registry:       registry,
		metricRecorder: recorder,
		tracer:         tracer,
		listeners:      listeners,
		pollInterval:   pollInterval,
		running:        make(map[string]*atomic.Bool),
	}
}

// SimpleJobLauncherParams defines dependencies for the fx constructor of SimpleJobLauncher.
type SimpleJobLauncherParams struct {
	fx.In
	Store          repository.ExecutionStateStore
	JobRepository  repository.JobRepository
	Registry       *JobRegistry
	MetricRecorder metrics.MetricRecorder
	Tracer         metrics.Tracer
	Config         *config.Config
	Listeners      []port.JobExecutionListener `group:"jobListeners"`
}

// NewSimpleJobLauncherFromParams builds a SimpleJobLauncher from fx dependencies.
func NewSimpleJobLauncherFromParams(p SimpleJobLauncherParams) *SimpleJobLauncher {
	interval := time.Duration(p.Config.ChunkBatch.Batch.PollingIntervalSeconds) * time.Second
	return NewSimpleJobLauncher(p.Store, p.JobRepository, p.Registry, p.MetricRecorder, p.Tracer, interval, p.Listeners...)
}

// Launch launches a job execution and runs it to the end.
func (l *SimpleJobLauncher) Launch(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	const op = "SimpleJobLauncher.Launch"
	logger.Infof("Launching Job '%s'. Parameters: %s", jobName, params.String())

	job, err := l.registry.Get(jobName)
	if err != nil {
		return nil, exception.NewBatchError(op, "failed to resolve job", err)
	}
	if err := job.ValidateParameters(params); err != nil {
		logger.Errorf("Job '%s': JobParameters validation failed: %v", jobName, err)
		return nil, exception.NewBatchError(op, "JobParameters validation error", err)
	}

	jobExecution, err := l.store.CreateExecution(ctx, jobName, params)
	if err != nil {
		logger.Errorf("Job '%s': failed to create JobExecution: %v", jobName, err)
		return nil, err
	}
	logger.Infof("Created JobExecution (ID: %s) for Job '%s'. Restart count: %d", jobExecution.ID, jobName, jobExecution.RestartCount)

	return l.run(ctx, job, jobExecution)
}

// run executes job for jobExecution and persists the final status.
func (l *SimpleJobLauncher) run(ctx context.Context, job port.Job, jobExecution *model.JobExecution) (*model.JobExecution, error) {
	stopFlag := l.register(jobExecution.ID)
	defer l.unregister(jobExecution.ID)

	ctx, endSpan := l.tracer.StartJobSpan(ctx, jobExecution)
	defer endSpan()

	jobExecution.MarkAsStarted()
	if err := l.store.UpdateJob(ctx, jobExecution); err != nil {
		logger.Errorf("Failed to update JobExecution (ID: %s) status to STARTED: %v", jobExecution.ID, err)
		jobExecution.MarkAsFailed(err)
		l.persistFinal(ctx, jobExecution)
		return jobExecution, &JobFailureError{Execution: jobExecution, Err: err}
	}

	l.metricRecorder.RecordJobStart(ctx, jobExecution)
	for _, listener := range l.listeners {
		listener.BeforeJob(ctx, jobExecution)
	}

	runErr := job.Run(ctx, jobExecution, l.stopSignal(jobExecution, stopFlag))
	finishExecution(jobExecution, runErr)
	l.persistFinal(ctx, jobExecution)

	for _, listener := range l.listeners {
		listener.AfterJob(ctx, jobExecution)
	}
	l.metricRecorder.RecordJobEnd(ctx, jobExecution)

	logger.Infof("Job '%s' (Execution ID: %s) finished. Final Status: %s, Exit Status: %s",
		jobExecution.JobName, jobExecution.ID, jobExecution.Status, jobExecution.ExitStatus)
	for _, se := range jobExecution.StepExecutions {
		logger.Debugf("  StepExecution Details (Step: %s): %s", se.StepName, se.DebugString())
	}

	if runErr != nil {
		l.tracer.RecordError(ctx, "job_launcher", runErr)
		return jobExecution, &JobFailureError{Execution: jobExecution, Err: runErr}
	}
	if jobExecution.Status == model.BatchStatusFailed {
		return jobExecution, &JobFailureError{
			Execution: jobExecution,
			Err:       fmt.Errorf("job finished with status %s: %v", jobExecution.Status, jobExecution.Failures),
		}
	}
	return jobExecution, nil
}

// finishExecution derives the final job status from the outcome of its step.
func finishExecution(jobExecution *model.JobExecution, runErr error) {
	switch {
	case runErr != nil:
		jobExecution.MarkAsFailed(runErr)
	case stepStopped(jobExecution):
		if jobExecution.Status == model.BatchStatusStarted {
			if err := jobExecution.MarkAsStopping(); err != nil {
				logger.Warnf("Could not mark JobExecution (ID: %s) STOPPING: %v", jobExecution.ID, err)
			}
		}
		jobExecution.MarkAsStopped()
	default:
		jobExecution.MarkAsCompleted()
	}
}

func stepStopped(jobExecution *model.JobExecution) bool {
	for _, se := range jobExecution.StepExecutions {
		if se.Status == model.BatchStatusStopped {
			return true
		}
	}
	return false
}

// persistFinal stores the final status even when ctx is cancelled.
// A version conflict means another process marked the execution STOPPING or ABANDONED. A
// STOPPING execution is updated again against the stored version; an abandoned one is left as is.
func (l *SimpleJobLauncher) persistFinal(ctx context.Context, jobExecution *model.JobExecution) {
	ctx = context.WithoutCancel(ctx)
	err := l.store.UpdateJob(ctx, jobExecution)
	if exception.IsOptimisticLockingFailure(err) {
		current, findErr := l.jobRepository.FindJobExecutionByID(ctx, jobExecution.ID)
		if findErr == nil && current.Status == model.BatchStatusAbandoned {
			logger.Warnf("JobExecution (ID: %s) was abandoned while running. Its final status %s is not stored.", jobExecution.ID, jobExecution.Status)
			return
		}
		if findErr == nil {
			logger.Debugf("JobExecution (ID: %s) was updated concurrently (version %d -> %d). Retrying final update.",
				jobExecution.ID, jobExecution.Version, current.Version)
			jobExecution.Version = current.Version
			err = l.store.UpdateJob(ctx, jobExecution)
		}
	}
	if err != nil {
		logger.Errorf("Failed to persist final state of JobExecution (ID: %s): %v", jobExecution.ID, err)
	}
}

// stopSignal observes the local stop flag, cancellation of ctx and the stored status.
func (l *SimpleJobLauncher) stopSignal(jobExecution *model.JobExecution, stopFlag *atomic.Bool) port.StopSignal {
	var lastPoll time.Time
	return port.StopSignalFunc(func(ctx context.Context) bool {
		if stopFlag.Load() {
			return true
		}
		if ctx.Err() != nil {
			logger.Warnf("Context cancelled, stopping JobExecution (ID: %s): %v", jobExecution.ID, ctx.Err())
			return true
		}
		if !lastPoll.IsZero() && time.Since(lastPoll) < l.pollInterval {
			return false
		}
		lastPoll = time.Now()

		current, err := l.jobRepository.FindJobExecutionByID(ctx, jobExecution.ID)
		if err != nil {
			logger.Warnf("Could not poll status of JobExecution (ID: %s): %v", jobExecution.ID, err)
			return false
		}
		switch current.Status {
		case model.BatchStatusStopping:
			logger.Infof("JobExecution (ID: %s) was marked STOPPING by another process.", jobExecution.ID)
			jobExecution.Status = current.Status
			jobExecution.Version = current.Version
			jobExecution.LastUpdated = current.LastUpdated
		case model.BatchStatusAbandoned:
			logger.Warnf("JobExecution (ID: %s) was abandoned by another process. Stopping at the chunk boundary.", jobExecution.ID)
		default:
			return false
		}
		stopFlag.Store(true)
		return true
	})
}

func (l *SimpleJobLauncher) register(executionID string) *atomic.Bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	flag := new(atomic.Bool)
	l.running[executionID] = flag
	logger.Debugf("Registered stop flag for JobExecution (ID: %s).", executionID)
	return flag
}

func (l *SimpleJobLauncher) unregister(executionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.running, executionID)
}

// RequestStop raises the stop flag of an execution running in this process.
// It reports false when the execution is not running here.
func (l *SimpleJobLauncher) RequestStop(executionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	flag, ok := l.running[executionID]
	if ok {
		flag.Store(true)
	}
	return ok
}

// IsRunning reports whether the execution is running in this process.
func (l *SimpleJobLauncher) IsRunning(executionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.running[executionID]
	return ok
}

var _ JobLauncher = (*SimpleJobLauncher)(nil)
