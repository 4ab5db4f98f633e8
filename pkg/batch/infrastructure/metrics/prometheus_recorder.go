// Package metrics provides the telemetry backends of the chunk engine: a Prometheus recorder
// served over HTTP, and OpenTelemetry metrics and traces exported over OTLP.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Job Metrics
	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec

	// Step Metrics
	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec
	stepReadCount       *prometheus.CounterVec
	stepWriteCount      *prometheus.CounterVec
	stepFilterCount     *prometheus.CounterVec
	stepCommitCount     *prometheus.CounterVec
	stepRollbackCount   *prometheus.CounterVec

	operationDurationSeconds *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_job_duration_seconds",
			Help:    "Duration of batch job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "status", "exit_status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_job_status_total",
			Help: "Total number of batch job executions by status.",
		}, []string{"job_name", "status"}),
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_step_duration_seconds",
			Help:    "Duration of batch step executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "step_name", "status", "exit_status"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_status_total",
			Help: "Total number of batch step executions by status.",
		}, []string{"job_name", "step_name", "status"}),
		stepReadCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_read_total",
			Help: "Total records read by committed chunks.",
		}, []string{"job_name", "step_name"}),
		stepWriteCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_write_total",
			Help: "Total records written by committed chunks.",
		}, []string{"job_name", "step_name"}),
		stepFilterCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_filter_total",
			Help: "Total records filtered by committed chunks.",
		}, []string{"job_name", "step_name"}),
		stepCommitCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_commit_total",
			Help: "Total chunk commits by step.",
		}, []string{"job_name", "step_name"}),
		stepRollbackCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_rollback_total",
			Help: "Total chunk rollbacks by step and error kind.",
		}, []string{"job_name", "step_name", "reason"}),
		operationDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_operation_duration_seconds",
			Help:    "Duration of batch operations such as chunks and exports.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "step_name"}),
	}

	// Register all metrics with the registry.
	registry.MustRegister(r.jobDurationSeconds)
	registry.MustRegister(r.jobStatusCounter)
	registry.MustRegister(r.stepDurationSeconds)
	registry.MustRegister(r.stepStatusCounter)
	registry.MustRegister(r.stepReadCount)
	registry.MustRegister(r.stepWriteCount)
	registry.MustRegister(r.stepFilterCount)
	registry.MustRegister(r.stepCommitCount)
	registry.MustRegister(r.stepRollbackCount)
	registry.MustRegister(r.operationDurationSeconds)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordJobStart records the start of a JobExecution.
func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	logger.Debugf("Metrics: Job '%s' started.", execution.JobName)
}

// RecordJobEnd records the end of a JobExecution.
func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String()).Inc()
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()

	r.jobDurationSeconds.WithLabelValues(
		execution.JobName,
		execution.Status.String(),
		execution.ExitStatus.String(),
	).Observe(duration)

	logger.Debugf("Metrics: Job '%s' ended. Duration: %.3fs", execution.JobName, duration)
}

// RecordStepStart records the start of a StepExecution.
func (r *PrometheusRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	r.stepStatusCounter.WithLabelValues(stepJobName(execution), execution.StepName, execution.Status.String()).Inc()
	logger.Debugf("Metrics: Step '%s' started.", execution.StepName)
}

// RecordStepEnd records the end of a StepExecution.
func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	jobName := stepJobName(execution)
	r.stepStatusCounter.WithLabelValues(jobName, execution.StepName, execution.Status.String()).Inc()
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()

	r.stepDurationSeconds.WithLabelValues(
		jobName,
		execution.StepName,
		execution.Status.String(),
		execution.ExitStatus.String(),
	).Observe(duration)

	logger.Debugf("Metrics: Step '%s' ended. Duration: %.3fs", execution.StepName, duration)
}

// RecordItemRead records the records read by a committed chunk.
func (r *PrometheusRecorder) RecordItemRead(ctx context.Context, stepName string, count int) {
	r.stepReadCount.WithLabelValues(contextJobName(ctx), stepName).Add(float64(count))
}

// RecordItemFilter records the records filtered by a committed chunk.
func (r *PrometheusRecorder) RecordItemFilter(ctx context.Context, stepName string, count int) {
	r.stepFilterCount.WithLabelValues(contextJobName(ctx), stepName).Add(float64(count))
}

// RecordItemWrite records the records written by a committed chunk.
func (r *PrometheusRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.stepWriteCount.WithLabelValues(contextJobName(ctx), stepName).Add(float64(count))
}

// RecordChunkCommit records chunk commits.
func (r *PrometheusRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.stepCommitCount.WithLabelValues(contextJobName(ctx), stepName).Inc()
}

// RecordChunkRollback records chunk rollbacks.
func (r *PrometheusRecorder) RecordChunkRollback(ctx context.Context, stepName string, reason string) {
	r.stepRollbackCount.WithLabelValues(contextJobName(ctx), stepName, reason).Inc()
}

// RecordDuration records the execution time of a specific operation.
// The "step_name" tag, when present, becomes a label.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationDurationSeconds.WithLabelValues(name, tags["step_name"]).Observe(duration.Seconds())
}

// stepJobName returns the job name of the execution owning se.
func stepJobName(se *model.StepExecution) string {
	if se.JobExecution != nil {
		return se.JobExecution.JobName
	}
	return "unknown"
}

// contextJobName returns the job name of the step execution carried by ctx.
func contextJobName(ctx context.Context) string {
	if se := port.GetStepExecutionFromContext(ctx); se != nil {
		return stepJobName(se)
	}
	return "unknown"
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
