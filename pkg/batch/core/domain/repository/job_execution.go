package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// ErrJobExecutionNotFound is the error returned when a JobExecution is not found.
var ErrJobExecutionNotFound = errors.New("job execution not found")

// JobExecution defines operations for persisting and retrieving job executions.
type JobExecution interface {
	// SaveJobExecution persists a new JobExecution.
	SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error

	// UpdateJobExecution updates the state of an existing JobExecution (version-checked).
	UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error

	// FindJobExecutionByID finds a JobExecution by its ID, with its StepExecutions.
	FindJobExecutionByID(ctx context.Context, executionID string) (*model.JobExecution, error)

	// FindLatestJobExecution finds the most recently created JobExecution of a JobInstance,
	// with its StepExecutions, whatever its status.
	FindLatestJobExecution(ctx context.Context, jobInstanceID string) (*model.JobExecution, error)

	// FindJobExecutionsByJobInstance finds all JobExecutions of the JobInstance, latest first.
	// StepExecutions are not loaded.
	FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *model.JobInstance) ([]*model.JobExecution, error)
}
