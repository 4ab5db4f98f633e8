// Package repository declares the persistence contracts of batch execution metadata.
package repository

import (
	"context"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// JobRepository is the interface for persisting and managing batch execution metadata.
// It embeds smaller repository interfaces to separate concerns.
type JobRepository interface {
	JobInstance
	JobExecution
	StepExecution

	// Close releases resources used by the repository.
	Close() error
}

// ExecutionStateStore persists job and step progress for the chunk engine.
type ExecutionStateStore interface {
	// CreateExecution creates (or finds) the JobInstance of jobName and params and a new
	// JobExecution holding one STARTING StepExecution.
	//
	// It fails with exception.ErrConcurrentLaunch when an execution of the same instance is
	// STARTING, STARTED or STOPPING, and with exception.ErrInstanceAlreadyComplete when the
	// last execution completed. When the last execution FAILED or STOPPED, it is ABANDONED
	// and the new step execution resumes from its committed offset, counters and context.
	CreateExecution(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)

	// UpdateStep persists the counters, offset, context and status of stepExecution.
	// It joins the transaction carried by ctx, so the update commits with the chunk.
	UpdateStep(ctx context.Context, stepExecution *model.StepExecution) error

	// UpdateJob persists the status, exit status and failures of jobExecution.
	UpdateJob(ctx context.Context, jobExecution *model.JobExecution) error

	// LoadLastExecution returns the step execution of the latest job execution of
	// jobName and params, or ErrStepExecutionNotFound.
	LoadLastExecution(ctx context.Context, jobName string, params model.JobParameters) (*model.StepExecution, error)
}
