package metrics_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	coremetrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	listenermetrics "github.com/tigerroll/chunkbatch/pkg/batch/listener/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/test"
)

// capturingRecorder records calls in order.
type capturingRecorder struct {
	coremetrics.NoOpMetricRecorder

	mu       sync.Mutex
	calls    []string
	writes   int
	statuses []model.JobStatus
	stepSeen *model.StepExecution
}

func (r *capturingRecorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *capturingRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.mu.Lock()
	r.statuses = append(r.statuses, execution.Status)
	r.mu.Unlock()
	r.add("job_start")
}

func (r *capturingRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.mu.Lock()
	r.writes += count
	r.stepSeen = port.GetStepExecutionFromContext(ctx)
	r.mu.Unlock()
	r.add("item_write")
}

func (r *capturingRecorder) RecordChunkRollback(ctx context.Context, stepName string, reason string) {
	r.add("rollback:" + reason)
}

func (r *capturingRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestAsyncMetricRecorder_DrainsQueueOnClose(t *testing.T) {
	sink := &capturingRecorder{}
	r := listenermetrics.NewAsyncMetricRecorder(10, sink)

	_, je, se := test.NewTestJobExecution("job", "step", model.NewJobParameters())
	ctx, cancel := context.WithCancel(port.GetContextWithStepExecution(context.Background(), se))

	r.RecordJobStart(ctx, je)
	je.MarkAsStarted()
	r.RecordItemWrite(ctx, "step", 2)
	r.RecordItemWrite(ctx, "step", 3)
	r.RecordChunkRollback(ctx, "step", "WriteError")
	cancel()
	r.Close()
	r.Close()

	assert.Equal(t, []string{"job_start", "item_write", "item_write", "rollback:WriteError"}, sink.snapshot())
	assert.Equal(t, 5, sink.writes)
	// The queued event holds the status at the time of the call.
	assert.Equal(t, []model.JobStatus{model.BatchStatusStarting}, sink.statuses)
	// Context values survive the cancellation of the caller.
	assert.Same(t, se, sink.stepSeen)
}

func TestAsyncMetricRecorder_DiscardsAfterClose(t *testing.T) {
	sink := &capturingRecorder{}
	r := listenermetrics.NewAsyncMetricRecorder(0, sink)
	r.Close()

	r.RecordItemWrite(context.Background(), "step", 1)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, sink.snapshot())
}

func TestNewAsyncMetricRecorderWrapper(t *testing.T) {
	sink := &capturingRecorder{}
	cfg := config.NewConfig()

	lc := fxtest.NewLifecycle(t)
	assert.Same(t, sink, listenermetrics.NewAsyncMetricRecorderWrapper(lc, cfg, sink))

	cfg.ChunkBatch.Metrics.Enabled = true
	cfg.ChunkBatch.Metrics.AsyncBufferSize = 4
	wrapped := listenermetrics.NewAsyncMetricRecorderWrapper(lc, cfg, sink)
	require.IsType(t, &listenermetrics.AsyncMetricRecorder{}, wrapped)

	lc.RequireStart()
	wrapped.RecordItemWrite(context.Background(), "step", 7)
	lc.RequireStop()
	assert.Equal(t, 7, sink.writes)
}
