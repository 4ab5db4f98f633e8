package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
// Jobs, steps and chunks become nested spans.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a new instance of OpenTelemetryTracer.
func NewOpenTelemetryTracer(tracer trace.Tracer) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: tracer}
}

// StartJobSpan starts a new span for a JobExecution.
// The span ends with the final status of the execution.
func (t *OpenTelemetryTracer) StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "job "+execution.JobName, trace.WithAttributes(
		attribute.String("batch.job.name", execution.JobName),
		attribute.String("batch.job.execution_id", execution.ID),
		attribute.String("batch.job.instance_id", execution.JobInstanceID),
		attribute.Int("batch.job.restart_count", execution.RestartCount),
	))
	return ctx, func() {
		span.SetAttributes(
			attribute.String("batch.job.status", execution.Status.String()),
			attribute.String("batch.job.exit_status", execution.ExitStatus.String()),
		)
		if execution.Status == model.BatchStatusFailed {
			span.SetStatus(codes.Error, fmt.Sprintf("job finished with status %s", execution.Status))
		}
		span.End()
	}
}

// StartStepSpan starts a new span for a StepExecution.
func (t *OpenTelemetryTracer) StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "step "+execution.StepName, trace.WithAttributes(
		attribute.String("batch.step.name", execution.StepName),
		attribute.String("batch.step.execution_id", execution.ID),
		attribute.Int64("batch.step.start_offset", execution.LastCommittedOffset),
	))
	return ctx, func() {
		span.SetAttributes(
			attribute.String("batch.step.status", execution.Status.String()),
			attribute.Int("batch.step.read_count", execution.ReadCount),
			attribute.Int("batch.step.write_count", execution.WriteCount),
			attribute.Int("batch.step.filter_count", execution.FilterCount),
			attribute.Int("batch.step.commit_count", execution.CommitCount),
			attribute.Int("batch.step.rollback_count", execution.RollbackCount),
		)
		if execution.Status == model.BatchStatusFailed {
			span.SetStatus(codes.Error, "step failed")
		}
		span.End()
	}
}

// StartChunkSpan starts a new span for one chunk transaction.
func (t *OpenTelemetryTracer) StartChunkSpan(ctx context.Context, stepName string, offset int64) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "chunk", trace.WithAttributes(
		attribute.String("batch.step.name", stepName),
		attribute.Int64("batch.chunk.offset", offset),
	))
	return ctx, func() { span.End() }
}

// RecordError records an error in the current span.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(
		attribute.String("batch.module", module),
		attribute.String("batch.error.kind", string(exception.KindOf(err))),
	))
	span.SetStatus(codes.Error, exception.ExtractErrorMessage(err))
}

// RecordEvent records an event in the current span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

// toAttributes converts event attributes to OpenTelemetry key-values.
func toAttributes(attributes map[string]interface{}) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			kvs = append(kvs, attribute.String(k, val))
		case int:
			kvs = append(kvs, attribute.Int(k, val))
		case int64:
			kvs = append(kvs, attribute.Int64(k, val))
		case float64:
			kvs = append(kvs, attribute.Float64(k, val))
		case bool:
			kvs = append(kvs, attribute.Bool(k, val))
		default:
			kvs = append(kvs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return kvs
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
