// Package port defines the core interfaces (ports) of the chunk engine.
// Sources, transformers and writers are plugged into a chunk step through these
// contracts, so the engine never depends on a concrete store.
package port

import (
	"context"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// PagedSource reads records in a stable total order, one page at a time.
// T is the type of record produced.
type PagedSource[T any] interface {
	// NextPage returns at most pageSize records starting at offset in the source order.
	// An empty slice means the source is exhausted.
	//
	// Parameters:
	//   ctx: The context for the operation. When it carries a transaction, the page is read through it.
	//   offset: The zero-based position of the first record to return.
	//   pageSize: The maximum number of records to return.
	//
	// Returns:
	//   []T: The records of the page.
	//   error: An error if the page could not be fetched.
	NextPage(ctx context.Context, offset int64, pageSize int) ([]T, error)
}

// RecordTransformer converts one input record into one output record.
// Implementations are pure: they keep no state between calls.
type RecordTransformer[I, O any] interface {
	// Transform converts in. A nil output means the record is filtered out.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   in: The record read from the source.
	//
	// Returns:
	//   *O: The transformed record, or nil if filtered.
	//   error: A domain violation; it aborts the chunk.
	Transform(ctx context.Context, in I) (*O, error)
}

// ChunkWriter persists a batch of transformed records.
// It is called inside the chunk transaction, which it takes from ctx.
// Writes are idempotent per record identifier, so replaying a chunk after a restart is safe.
type ChunkWriter[T any] interface {
	// Write persists batch.
	//
	// Parameters:
	//   ctx: The context carrying the chunk transaction.
	//   batch: The records to persist, in source order.
	//
	// Returns:
	//   error: An error if any record could not be persisted.
	Write(ctx context.Context, batch []T) error
}

// StopSignal reports whether a stop has been requested for a running execution.
// The engine consults it only at chunk boundaries.
type StopSignal interface {
	// StopRequested reports whether the execution should stop before the next chunk.
	StopRequested(ctx context.Context) bool
}

// StopSignalFunc adapts a function to StopSignal.
type StopSignalFunc func(ctx context.Context) bool

// StopRequested implements StopSignal.
func (f StopSignalFunc) StopRequested(ctx context.Context) bool {
	return f(ctx)
}

// Step executes one step execution to completion, failure or stop.
type Step interface {
	// StepName returns the name of the step.
	StepName() string
	// Execute runs the step for stepExecution, updating it in place.
	Execute(ctx context.Context, stepExecution *model.StepExecution, stop StopSignal) error
}

// Job is an executable batch job made of one chunk step.
type Job interface {
	// JobName returns the logical name of the job.
	JobName() string
	// ValidateParameters validates job parameters before an execution is created.
	//
	// Parameters:
	//   params: The job parameters to validate.
	//
	// Returns:
	//   error: An error if validation fails.
	ValidateParameters(params model.JobParameters) error
	// Run executes the job's step for jobExecution.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   jobExecution: The execution created for this run. Its single StepExecution is updated in place.
	//   stop: The stop signal observed at chunk boundaries.
	//
	// Returns:
	//   error: The error that failed the step, or nil when it completed or stopped.
	Run(ctx context.Context, jobExecution *model.JobExecution, stop StopSignal) error
}

// JobExecutionListener is an interface for handling job execution events.
type JobExecutionListener interface {
	// BeforeJob is called just before a job execution starts.
	BeforeJob(ctx context.Context, jobExecution *model.JobExecution)
	// AfterJob is called after a job execution finishes (regardless of success or failure).
	AfterJob(ctx context.Context, jobExecution *model.JobExecution)
}

// StepExecutionListener is an interface for handling step execution events.
type StepExecutionListener interface {
	// BeforeStep is called just before a step execution starts.
	BeforeStep(ctx context.Context, stepExecution *model.StepExecution)
	// AfterStep is called after a step execution finishes (regardless of success or failure).
	AfterStep(ctx context.Context, stepExecution *model.StepExecution)
}

// ChunkListener is an interface for handling chunk processing events.
type ChunkListener interface {
	// BeforeChunk is called inside the chunk transaction, before the first read.
	BeforeChunk(ctx context.Context, stepExecution *model.StepExecution)
	// AfterChunk is called after the chunk committed. stepExecution holds the committed progress.
	AfterChunk(ctx context.Context, stepExecution *model.StepExecution)
	// AfterChunkError is called after the chunk rolled back.
	AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error)
}

type contextKey string

// StepExecutionKey is the context key of the StepExecution being processed.
const StepExecutionKey contextKey = "stepExecution"

// JobParametersIncrementer derives the parameters of a new job instance.
type JobParametersIncrementer interface {
	// GetNext returns a copy of params changed so that it identifies a new instance.
	GetNext(params model.JobParameters) model.JobParameters
}

// GetContextWithStepExecution stores a StepExecution in the Context.
//
// Parameters:
//   ctx: The context for the operation.
//   se: The StepExecution to store.
//
// Returns:
//   context.Context: A new context with the StepExecution stored.
func GetContextWithStepExecution(ctx context.Context, se *model.StepExecution) context.Context {
	return context.WithValue(ctx, StepExecutionKey, se)
}

// GetStepExecutionFromContext retrieves a StepExecution from the Context. Returns nil if not found.
func GetStepExecutionFromContext(ctx context.Context) *model.StepExecution {
	if se, ok := ctx.Value(StepExecutionKey).(*model.StepExecution); ok {
		return se
	}
	return nil
}
