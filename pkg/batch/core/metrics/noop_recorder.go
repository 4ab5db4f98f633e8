package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

// RecordJobStart does nothing.
func (r *NoOpMetricRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {}

// RecordJobEnd does nothing.
func (r *NoOpMetricRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {}

// RecordStepStart does nothing.
func (r *NoOpMetricRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {}

// RecordStepEnd does nothing.
func (r *NoOpMetricRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {}

// RecordItemRead does nothing.
func (r *NoOpMetricRecorder) RecordItemRead(ctx context.Context, stepName string, count int) {}

// RecordItemFilter does nothing.
func (r *NoOpMetricRecorder) RecordItemFilter(ctx context.Context, stepName string, count int) {}

// RecordItemWrite does nothing.
func (r *NoOpMetricRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {}

// RecordChunkCommit does nothing.
func (r *NoOpMetricRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {}

// RecordChunkRollback does nothing.
func (r *NoOpMetricRecorder) RecordChunkRollback(ctx context.Context, stepName string, reason string) {
}

// RecordDuration does nothing.
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartJobSpan returns ctx unchanged.
func (t *NoOpTracer) StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func()) {
	return ctx, func() {}
}

// StartStepSpan returns ctx unchanged.
func (t *NoOpTracer) StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	return ctx, func() {}
}

// StartChunkSpan returns ctx unchanged.
func (t *NoOpTracer) StartChunkSpan(ctx context.Context, stepName string, offset int64) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError does nothing.
func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

// RecordEvent does nothing.
func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
