package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// ErrStepExecutionNotFound is the error returned when StepExecution is not found.
var ErrStepExecutionNotFound = errors.New("step execution not found")

// StepExecution defines operations for persisting and retrieving step executions.
type StepExecution interface {
	// SaveStepExecution persists a new StepExecution.
	SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error

	// UpdateStepExecution updates the state of an existing StepExecution (version-checked).
	UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error

	// FindStepExecutionByID finds a StepExecution by its ID.
	FindStepExecutionByID(ctx context.Context, executionID string) (*model.StepExecution, error)

	// FindStepExecutionsByJobExecutionID finds the StepExecutions of a JobExecution in start order.
	FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID string) ([]*model.StepExecution, error)
}
