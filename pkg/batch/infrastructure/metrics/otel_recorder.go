package metrics

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
)

// OTelRecorder is an OpenTelemetry implementation of metrics.MetricRecorder.
// Instruments mirror the Prometheus recorder; the meter provider decides where they are exported.
type OTelRecorder struct {
	jobDuration   metric.Float64Histogram
	jobStatus     metric.Int64Counter
	stepDuration  metric.Float64Histogram
	stepStatus    metric.Int64Counter
	itemRead      metric.Int64Counter
	itemFilter    metric.Int64Counter
	itemWrite     metric.Int64Counter
	chunkCommit   metric.Int64Counter
	chunkRollback metric.Int64Counter
	operation     metric.Float64Histogram
}

// NewOTelRecorder creates the instruments of an OTelRecorder on meter.
func NewOTelRecorder(meter metric.Meter) (*OTelRecorder, error) {
	var errs error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = multierror.Append(errs, err).ErrorOrNil()
		return c
	}
	histogram := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		errs = multierror.Append(errs, err).ErrorOrNil()
		return h
	}

	r := &OTelRecorder{
		jobDuration:   histogram("batch.job.duration", "Duration of batch job executions."),
		jobStatus:     counter("batch.job.status", "Batch job executions by status."),
		stepDuration:  histogram("batch.step.duration", "Duration of batch step executions."),
		stepStatus:    counter("batch.step.status", "Batch step executions by status."),
		itemRead:      counter("batch.step.read", "Records read by committed chunks."),
		itemFilter:    counter("batch.step.filter", "Records filtered by committed chunks."),
		itemWrite:     counter("batch.step.write", "Records written by committed chunks."),
		chunkCommit:   counter("batch.step.commit", "Chunk commits."),
		chunkRollback: counter("batch.step.rollback", "Chunk rollbacks by error kind."),
		operation:     histogram("batch.operation.duration", "Duration of batch operations such as chunks and exports."),
	}
	if errs != nil {
		return nil, errs
	}
	return r, nil
}

// RecordJobStart records the start of a JobExecution.
func (r *OTelRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobStatus.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_name", execution.JobName),
		attribute.String("status", execution.Status.String()),
	))
}

// RecordJobEnd records the end of a JobExecution.
func (r *OTelRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	attrs := metric.WithAttributes(
		attribute.String("job_name", execution.JobName),
		attribute.String("status", execution.Status.String()),
	)
	r.jobStatus.Add(ctx, 1, attrs)
	if execution.EndTime != nil {
		r.jobDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), attrs)
	}
}

// RecordStepStart records the start of a StepExecution.
func (r *OTelRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.stepStatus.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_name", stepJobName(execution)),
		attribute.String("step_name", execution.StepName),
		attribute.String("status", execution.Status.String()),
	))
}

// RecordStepEnd records the end of a StepExecution.
func (r *OTelRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	attrs := metric.WithAttributes(
		attribute.String("job_name", stepJobName(execution)),
		attribute.String("step_name", execution.StepName),
		attribute.String("status", execution.Status.String()),
	)
	r.stepStatus.Add(ctx, 1, attrs)
	if execution.EndTime != nil {
		r.stepDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), attrs)
	}
}

// RecordItemRead records the records read by a committed chunk.
func (r *OTelRecorder) RecordItemRead(ctx context.Context, stepName string, count int) {
	r.itemRead.Add(ctx, int64(count), stepAttributes(ctx, stepName))
}

// RecordItemFilter records the records filtered by a committed chunk.
func (r *OTelRecorder) RecordItemFilter(ctx context.Context, stepName string, count int) {
	r.itemFilter.Add(ctx, int64(count), stepAttributes(ctx, stepName))
}

// RecordItemWrite records the records written by a committed chunk.
func (r *OTelRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.itemWrite.Add(ctx, int64(count), stepAttributes(ctx, stepName))
}

// RecordChunkCommit records chunk commits.
func (r *OTelRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.chunkCommit.Add(ctx, 1, stepAttributes(ctx, stepName))
}

// RecordChunkRollback records chunk rollbacks.
func (r *OTelRecorder) RecordChunkRollback(ctx context.Context, stepName string, reason string) {
	r.chunkRollback.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_name", contextJobName(ctx)),
		attribute.String("step_name", stepName),
		attribute.String("reason", reason),
	))
}

// RecordDuration records the execution time of a specific operation.
func (r *OTelRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("operation", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.operation.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

func stepAttributes(ctx context.Context, stepName string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("job_name", contextJobName(ctx)),
		attribute.String("step_name", stepName),
	)
}

var _ metrics.MetricRecorder = (*OTelRecorder)(nil)
