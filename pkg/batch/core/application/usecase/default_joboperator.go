package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DefaultJobOperator is the default implementation of the JobOperator interface.
// It changes execution status through the ExecutionStateStore and launches restarts
// through a SimpleJobLauncher.
type DefaultJobOperator struct {
	jobRepository repository.JobRepository
	store         repository.ExecutionStateStore
	jobLauncher   *SimpleJobLauncher
}

// Verify that DefaultJobOperator implements the JobOperator interface.
var _ JobOperator = (*DefaultJobOperator)(nil)

// NewDefaultJobOperator creates a new instance of DefaultJobOperator.
func NewDefaultJobOperator(repo repository.JobRepository, store repository.ExecutionStateStore, launcher *SimpleJobLauncher) *DefaultJobOperator {
	return &DefaultJobOperator{
		jobRepository: repo,
		store:         store,
		jobLauncher:   launcher,
	}
}

// Restart restarts the specified JobExecution.
// The execution must be FAILED or STOPPED, be the latest execution of its instance, and
// have been launched with params.
func (o *DefaultJobOperator) Restart(ctx context.Context, executionID string, params model.JobParameters) (*model.JobExecution, error) {
	const op = "job_operator"
	logger.Infof("JobOperator: Restart method called. Execution ID: %s", executionID)

	prev, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("Restart processing error: Failed to load JobExecution (ID: %s)", executionID), err)
	}

	if !prev.Parameters.Equal(params) {
		expected, _ := prev.Parameters.Hash()
		actual, _ := params.Hash()
		logger.Warnf("JobExecution (ID: %s) cannot be restarted with different parameters.", executionID)
		return nil, exception.NewRestartMismatchError(executionID, expected, actual)
	}

	if !prev.Status.IsRestartable() {
		return nil, exception.NewBatchErrorf(op, "Restart processing error: JobExecution (ID: %s) is not in a restartable state (current status: %s)", executionID, prev.Status)
	}

	latest, err := o.jobRepository.FindLatestJobExecution(ctx, prev.JobInstanceID)
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("Restart processing error: Failed to load the latest execution of JobInstance (ID: %s)", prev.JobInstanceID), err)
	}
	if latest.ID != prev.ID {
		return nil, exception.NewBatchErrorf(op, "Restart processing error: JobExecution (ID: %s) was superseded by JobExecution (ID: %s)", executionID, latest.ID)
	}
	logger.Infof("JobExecution (ID: %s) is in a restartable state (%s).", executionID, prev.Status)

	return o.jobLauncher.Launch(ctx, prev.JobName, prev.Parameters)
}

// Stop marks the specified JobExecution STOPPING.
// When the execution runs in this process its stop flag is raised as well; otherwise the
// owning process observes the stored status when it next polls.
func (o *DefaultJobOperator) Stop(ctx context.Context, executionID string) error {
	const op = "job_operator"
	logger.Infof("JobOperator: Stop method called. Execution ID: %s", executionID)

	jobExecution, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("Stop processing error: Failed to load JobExecution (ID: %s)", executionID), err)
	}

	if jobExecution.Status != model.BatchStatusStopping {
		if err := jobExecution.MarkAsStopping(); err != nil {
			return exception.NewBatchError(op, fmt.Sprintf("Stop processing error: JobExecution (ID: %s) cannot be stopped", executionID), err)
		}
		if err := o.store.UpdateJob(ctx, jobExecution); err != nil {
			return exception.NewBatchError(op, fmt.Sprintf("Stop processing error: Failed to update JobExecution (ID: %s) status", executionID), err)
		}
		logger.Infof("Updated JobExecution (ID: %s) status to STOPPING.", executionID)
	}

	if o.jobLauncher.RequestStop(executionID) {
		logger.Infof("Sent stop signal for JobExecution (ID: %s).", executionID)
	} else {
		logger.Infof("JobExecution (ID: %s) is not running in this process. Its owner stops at the next chunk boundary.", executionID)
	}
	return nil
}

// Abandon abandons the specified JobExecution.
// Executions running in this process cannot be abandoned. Any other STARTED or STOPPING
// execution is treated as left behind by a process that died. The next launch of its instance
// resumes from its last committed chunk.
func (o *DefaultJobOperator) Abandon(ctx context.Context, executionID string) error {
	const op = "job_operator"
	logger.Infof("JobOperator: Abandon method called. Execution ID: %s", executionID)

	if o.jobLauncher.IsRunning(executionID) {
		return exception.NewBatchErrorf(op, "Abandon processing error: JobExecution (ID: %s) is running in this process", executionID)
	}

	jobExecution, err := o.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("Abandon processing error: Failed to load JobExecution (ID: %s)", executionID), err)
	}

	switch jobExecution.Status {
	case model.BatchStatusAbandoned:
		logger.Infof("JobExecution (ID: %s) is already in ABANDONED status.", executionID)
		return nil
	case model.BatchStatusStarting, model.BatchStatusFailed, model.BatchStatusStopped:
	case model.BatchStatusStarted, model.BatchStatusStopping:
		logger.Warnf("JobExecution (ID: %s) is %s but not running in this process. Abandoning it as orphaned.", executionID, jobExecution.Status)
	default:
		return exception.NewBatchErrorf(op, "Abandon processing error: JobExecution (ID: %s) cannot be abandoned in status %s", executionID, jobExecution.Status)
	}

	jobExecution.MarkAsAbandoned()
	if err := o.store.UpdateJob(ctx, jobExecution); err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("Abandon processing error: Failed to update JobExecution (ID: %s) status", executionID), err)
	}

	logger.Infof("Successfully abandoned JobExecution (ID: %s).", executionID)
	return nil
}
