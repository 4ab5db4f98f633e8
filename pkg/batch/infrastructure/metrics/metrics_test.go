package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/test"
)

func stepContext() (context.Context, *model.JobExecution, *model.StepExecution) {
	_, je, se := test.NewTestJobExecution("ioSampleJob", "step1", model.NewJobParameters())
	return port.GetContextWithStepExecution(context.Background(), se), je, se
}

func TestPrometheusRecorder_CountsPerCommittedChunk(t *testing.T) {
	r := NewPrometheusRecorder()
	ctx, je, se := stepContext()

	je.MarkAsStarted()
	r.RecordJobStart(ctx, je)
	se.MarkAsStarted()
	r.RecordStepStart(ctx, se)
	r.RecordItemRead(ctx, "step1", 2)
	r.RecordItemFilter(ctx, "step1", 1)
	r.RecordItemWrite(ctx, "step1", 1)
	r.RecordChunkCommit(ctx, "step1", 1)
	r.RecordItemRead(ctx, "step1", 2)
	r.RecordItemWrite(ctx, "step1", 2)
	r.RecordChunkCommit(ctx, "step1", 2)
	r.RecordChunkRollback(ctx, "step1", string(exception.KindWrite))
	r.RecordDuration(ctx, "chunk", 10*time.Millisecond, map[string]string{"step_name": "step1"})

	assert.Equal(t, 4.0, testutil.ToFloat64(r.stepReadCount.WithLabelValues("ioSampleJob", "step1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stepFilterCount.WithLabelValues("ioSampleJob", "step1")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.stepWriteCount.WithLabelValues("ioSampleJob", "step1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.stepCommitCount.WithLabelValues("ioSampleJob", "step1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stepRollbackCount.WithLabelValues("ioSampleJob", "step1", string(exception.KindWrite))))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.jobStatusCounter.WithLabelValues("ioSampleJob", "STARTED")))

	se.MarkAsCompleted()
	r.RecordStepEnd(ctx, se)
	je.MarkAsCompleted()
	r.RecordJobEnd(ctx, je)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.jobStatusCounter.WithLabelValues("ioSampleJob", string(je.Status))))
}

func TestPrometheusRecorder_WithoutStepExecutionInContext(t *testing.T) {
	r := NewPrometheusRecorder()
	r.RecordItemWrite(context.Background(), "step1", 5)
	assert.Equal(t, 5.0, testutil.ToFloat64(r.stepWriteCount.WithLabelValues("unknown", "step1")))
}

func TestMetricsServer_ServesRegistry(t *testing.T) {
	r := NewPrometheusRecorder()
	ctx, _, _ := stepContext()
	r.RecordItemWrite(ctx, "step1", 3)

	server := NewMetricsServer("127.0.0.1:0", r.GetRegistry())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `batch_step_write_total{job_name="ioSampleJob",step_name="step1"} 3`)
}

func TestMetricsServer_RunStopsWithContext(t *testing.T) {
	server := NewMetricsServer("127.0.0.1:0", NewPrometheusRecorder().GetRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}

	var nilServer *MetricsServer
	assert.NoError(t, nilServer.Run(context.Background()))
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestOTelRecorder_RecordsOnMeter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	r, err := NewOTelRecorder(provider.Meter("test"))
	require.NoError(t, err)

	ctx, je, se := stepContext()
	je.MarkAsStarted()
	r.RecordJobStart(ctx, je)
	r.RecordStepStart(ctx, se)
	r.RecordItemRead(ctx, "step1", 3)
	r.RecordItemFilter(ctx, "step1", 1)
	r.RecordItemWrite(ctx, "step1", 2)
	r.RecordChunkCommit(ctx, "step1", 2)
	r.RecordChunkRollback(ctx, "step1", "WriteError")
	r.RecordDuration(ctx, "chunk", time.Millisecond, map[string]string{"step_name": "step1"})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, int64(3), sumOf(t, rm, "batch.step.read"))
	assert.Equal(t, int64(1), sumOf(t, rm, "batch.step.filter"))
	assert.Equal(t, int64(2), sumOf(t, rm, "batch.step.write"))
	assert.Equal(t, int64(1), sumOf(t, rm, "batch.step.commit"))
	assert.Equal(t, int64(1), sumOf(t, rm, "batch.step.rollback"))
	assert.Equal(t, int64(1), sumOf(t, rm, "batch.job.status"))
}

func TestOpenTelemetryTracer_NestsJobStepAndChunkSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := NewOpenTelemetryTracer(provider.Tracer("test"))

	_, je, se := stepContext()
	ctx, endJob := tracer.StartJobSpan(context.Background(), je)
	stepCtx, endStep := tracer.StartStepSpan(ctx, se)
	chunkCtx, endChunk := tracer.StartChunkSpan(stepCtx, "step1", 0)
	tracer.RecordEvent(chunkCtx, "chunk_committed", map[string]interface{}{"read": 2, "offset": int64(2), "note": struct{}{}})
	endChunk()
	tracer.RecordError(stepCtx, "step1", exception.NewWriteError("step1", 2, errors.New("boom")))
	endStep()
	je.MarkAsFailed(errors.New("boom"))
	endJob()

	spans := sr.Ended()
	require.Len(t, spans, 3)
	chunk, step, job := spans[0], spans[1], spans[2]

	assert.Equal(t, "chunk", chunk.Name())
	assert.Equal(t, "step step1", step.Name())
	assert.Equal(t, "job ioSampleJob", job.Name())
	assert.Equal(t, step.SpanContext().SpanID(), chunk.Parent().SpanID())
	assert.Equal(t, job.SpanContext().SpanID(), step.Parent().SpanID())

	require.Len(t, chunk.Events(), 1)
	assert.Equal(t, "chunk_committed", chunk.Events()[0].Name)
	assert.Equal(t, codes.Error, step.Status().Code)
	assert.Equal(t, codes.Error, job.Status().Code)
}

func TestNewTelemetry_SelectsBackends(t *testing.T) {
	cfg := config.NewConfig()
	tel, err := NewTelemetry(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &metrics.NoOpMetricRecorder{}, tel.Recorder)
	assert.IsType(t, &metrics.NoOpTracer{}, tel.Tracer)
	assert.Nil(t, tel.Server)
	assert.NoError(t, tel.Shutdown(context.Background()))

	cfg.ChunkBatch.Metrics.Enabled = true
	cfg.ChunkBatch.Metrics.Backend = "prometheus"
	tel, err = NewTelemetry(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &PrometheusRecorder{}, tel.Recorder)
	assert.NotNil(t, tel.Server)

	cfg.ChunkBatch.Metrics.Backend = "statsd"
	_, err = NewTelemetry(context.Background(), cfg)
	assert.Error(t, err)

	cfg.ChunkBatch.Metrics.Enabled = false
	cfg.ChunkBatch.Tracing.Enabled = true
	cfg.ChunkBatch.Tracing.Protocol = "carrier-pigeon"
	_, err = NewTelemetry(context.Background(), cfg)
	assert.Error(t, err)
}
