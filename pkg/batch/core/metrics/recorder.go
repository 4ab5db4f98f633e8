// Package metrics declares the telemetry abstractions used by the chunk engine and the launcher.
// Backends (Prometheus, OpenTelemetry) live in infrastructure/metrics.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// MetricRecorder is an abstract interface for recording metrics related to batch execution.
//
// Counts are recorded once per committed chunk rather than per record, so a rolled back
// chunk never shows up in the item counters.
type MetricRecorder interface {
	// RecordJobStart records the start of a JobExecution.
	//
	// ctx: The context for the operation.
	// execution: Details of the started JobExecution.
	RecordJobStart(ctx context.Context, execution *model.JobExecution)

	// RecordJobEnd records the end of a JobExecution.
	//
	// ctx: The context for the operation.
	// execution: Details of the ended JobExecution.
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)

	// RecordStepStart records the start of a StepExecution.
	RecordStepStart(ctx context.Context, execution *model.StepExecution)

	// RecordStepEnd records the end of a StepExecution.
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	// RecordItemRead records the source records consumed by a committed chunk.
	//
	// ctx: The context for the operation.
	// stepName: The name of the step.
	// count: The number of records read.
	RecordItemRead(ctx context.Context, stepName string, count int)

	// RecordItemFilter records the records a transformer dropped in a committed chunk.
	RecordItemFilter(ctx context.Context, stepName string, count int)

	// RecordItemWrite records the records written by a committed chunk.
	RecordItemWrite(ctx context.Context, stepName string, count int)

	// RecordChunkCommit records the commit of a chunk.
	//
	// ctx: The context for the operation.
	// stepName: The name of the step where the chunk was committed.
	// count: The number of items written by the chunk.
	RecordChunkCommit(ctx context.Context, stepName string, count int)

	// RecordChunkRollback records a rolled back chunk.
	//
	// ctx: The context for the operation.
	// stepName: The name of the step.
	// reason: The error kind that caused the rollback (e.g., "WriteError").
	RecordChunkRollback(ctx context.Context, stepName string, reason string)

	// RecordDuration records the execution time of a specific operation.
	//
	// ctx: The context for the operation.
	// name: The name of the duration to record (e.g., "chunk", "export").
	// duration: The length of the duration to record.
	// tags: Additional tags to associate with the duration.
	//       Example: `{"step_name": "step1", "status": "success"}`
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
