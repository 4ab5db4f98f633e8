package usecase

import (
	"context"
	"fmt"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// JobLauncher is an interface for launching a Job with JobParameters.
// It is equivalent to Spring Batch's JobLauncher.
type JobLauncher interface {
	// Launch starts the specified Job with JobParameters and runs it to the end.
	// It resumes the last execution of the same instance when that one FAILED or STOPPED.
	//
	// Parameters:
	//   ctx: The context for the operation. Cancelling it stops the job at the next chunk boundary.
	//   jobName: The name of a registered job.
	//   params: The identifying parameters of the job instance.
	//
	// Returns:
	//   *model.JobExecution: The finished JobExecution, or nil if it could not be created.
	//   error: A launch error (validation, concurrent launch, completed instance), or a *JobFailureError.
	Launch(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)
}

// JobOperator is an interface for performing operations on job executions (restart, stop, abandon).
// It is equivalent to Spring Batch's JobOperator.
type JobOperator interface {
	// Restart restarts the specified JobExecution.
	// params must match the parameters of the execution being restarted.
	// It returns the new, finished JobExecution.
	Restart(ctx context.Context, executionID string, params model.JobParameters) (*model.JobExecution, error)

	// Stop requests the specified JobExecution to stop.
	// The step observes the request at its next chunk boundary.
	Stop(ctx context.Context, executionID string) error

	// Abandon abandons the specified JobExecution.
	// An abandoned job cannot be restarted.
	Abandon(ctx context.Context, executionID string) error
}

// JobExplorer is an interface for querying batch metadata (JobInstance, JobExecution, StepExecution).
// It is equivalent to Spring Batch's JobExplorer.
type JobExplorer interface {
	// GetJobExecution retrieves a JobExecution by its ID.
	GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error)

	// GetJobExecutions retrieves all JobExecutions associated with the specified JobInstance.
	GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error)

	// GetLastJobExecution retrieves the latest JobExecution for a given JobInstance.
	GetLastJobExecution(ctx context.Context, instanceID string) (*model.JobExecution, error)

	// GetJobInstance retrieves a JobInstance by its ID.
	GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error)

	// FindJobInstance finds the JobInstance of the specified job name and parameters.
	FindJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)

	// GetJobNames retrieves all registered job names.
	GetJobNames(ctx context.Context) ([]string, error)

	// GetParameters retrieves the JobParameters for the specified JobExecution.
	GetParameters(ctx context.Context, executionID string) (model.JobParameters, error)
}

// JobFailureError is returned by Launch when the job ran and failed.
// Execution holds the final counters and status of the failed run.
type JobFailureError struct {
	Execution *model.JobExecution
	Err       error
}

// Error implements error.
func (e *JobFailureError) Error() string {
	return fmt.Sprintf("job '%s' (Execution ID: %s) failed: %v", e.Execution.JobName, e.Execution.ID, e.Err)
}

// Unwrap returns the error that failed the step.
func (e *JobFailureError) Unwrap() error {
	return e.Err
}
