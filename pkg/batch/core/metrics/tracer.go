package metrics

import (
	"context"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// Tracer is an abstract interface for distributed tracing.
// It lets an OpenTelemetry backend show a job, its step and every chunk as nested spans.
type Tracer interface {
	// StartJobSpan starts a Span for a JobExecution.
	//
	// ctx: The parent context.
	// execution: The JobExecution to be traced.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	//          It is recommended to call the returned function in a defer statement.
	StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func())

	// StartStepSpan starts a Span for a StepExecution.
	//
	// ctx: The parent context (typically a context with a JobSpan).
	// execution: The StepExecution to be traced.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func())

	// StartChunkSpan starts a Span for one chunk iteration of a step.
	//
	// ctx: The parent context (typically a context with a StepSpan).
	// stepName: The name of the step.
	// offset: The committed offset the chunk starts reading from.
	StartChunkSpan(ctx context.Context, stepName string, offset int64) (context.Context, func())

	// RecordError records an error in the current Span.
	//
	// ctx: The context with the current Span.
	// module: The name of the module or component where the error occurred (e.g., "source", "writer").
	// err: The error to record.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current Span.
	//
	// ctx: The context with the current Span.
	// name: The name of the event (e.g., "chunk_committed").
	// attributes: Additional attributes to associate with the event.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
