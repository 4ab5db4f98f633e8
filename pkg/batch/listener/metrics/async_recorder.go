// Package metrics decorates the configured MetricRecorder so recording happens off the chunk path.
package metrics

import (
	"context"
	"sync"
	"time"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"

	"go.uber.org/fx"
)

// MetricEvent represents a metric event to be recorded asynchronously.
type MetricEvent struct {
	Type string
	// Ctx keeps the values of the recording context. Its cancellation is detached.
	Ctx           context.Context
	JobExecution  *model.JobExecution
	StepExecution *model.StepExecution
	StepName      string            // For chunk-level metrics
	Count         int               // For read, filter, write and commit counts
	Reason        string            // For rollback reasons
	Duration      time.Duration     // For duration metrics
	Tags          map[string]string // For duration metric tags
}

// Metric event type constants
const (
	MetricEventTypeJobStart       = "job_start"
	MetricEventTypeJobEnd         = "job_end"
	MetricEventTypeStepStart      = "step_start"
	MetricEventTypeStepEnd        = "step_end"
	MetricEventTypeItemRead       = "item_read"
	MetricEventTypeItemFilter     = "item_filter"
	MetricEventTypeItemWrite      = "item_write"
	MetricEventTypeChunkCommit    = "chunk_commit"
	MetricEventTypeChunkRollback  = "chunk_rollback"
	MetricEventTypeRecordDuration = "record_duration"
)

// DefaultBufferSize is the queue size used when none is configured.
const DefaultBufferSize = 100

// AsyncMetricRecorder asynchronously records metrics by pushing events to a channel
// and processing them in a separate goroutine.
type AsyncMetricRecorder struct {
	eventQueue   chan MetricEvent
	stopCh       chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
	syncRecorder metrics.MetricRecorder // The concrete instance that performs actual metric recording
}

// NewAsyncMetricRecorder creates a new asynchronous metric recorder.
// bufferSize: The buffer size for the event queue. If 0 or less, DefaultBufferSize is used.
// syncRec: The synchronous recorder that performs the actual metric recording.
func NewAsyncMetricRecorder(bufferSize int, syncRec metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	r := &AsyncMetricRecorder{
		eventQueue:   make(chan MetricEvent, bufferSize),
		stopCh:       make(chan struct{}),
		syncRecorder: syncRec,
	}
	r.wg.Add(1)
	go r.run()
	logger.Debugf("AsyncMetricRecorder: Worker goroutine started (buffer size: %d).", bufferSize)
	return r
}

// run is the worker goroutine that reads events from the event queue and processes them with the synchronous recorder.
func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.eventQueue:
			r.processEvent(event)
		case <-r.stopCh:
			// Drain what was queued before the stop signal.
			remainingEvents := len(r.eventQueue)
			for i := 0; i < remainingEvents; i++ {
				r.processEvent(<-r.eventQueue)
			}
			logger.Debugf("AsyncMetricRecorder: Worker goroutine stopped. Processed %d remaining events.", remainingEvents)
			return
		}
	}
}

// processEvent processes the received metric event.
func (r *AsyncMetricRecorder) processEvent(event MetricEvent) {
	ctx := event.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	switch event.Type {
	case MetricEventTypeJobStart:
		r.syncRecorder.RecordJobStart(ctx, event.JobExecution)
	case MetricEventTypeJobEnd:
		r.syncRecorder.RecordJobEnd(ctx, event.JobExecution)
	case MetricEventTypeStepStart:
		r.syncRecorder.RecordStepStart(ctx, event.StepExecution)
	case MetricEventTypeStepEnd:
		r.syncRecorder.RecordStepEnd(ctx, event.StepExecution)
	case MetricEventTypeItemRead:
		r.syncRecorder.RecordItemRead(ctx, event.StepName, event.Count)
	case MetricEventTypeItemFilter:
		r.syncRecorder.RecordItemFilter(ctx, event.StepName, event.Count)
	case MetricEventTypeItemWrite:
		r.syncRecorder.RecordItemWrite(ctx, event.StepName, event.Count)
	case MetricEventTypeChunkCommit:
		r.syncRecorder.RecordChunkCommit(ctx, event.StepName, event.Count)
	case MetricEventTypeChunkRollback:
		r.syncRecorder.RecordChunkRollback(ctx, event.StepName, event.Reason)
	case MetricEventTypeRecordDuration:
		r.syncRecorder.RecordDuration(ctx, event.StepName, event.Duration, event.Tags) // StepName carries the operation name
	default:
		logger.Warnf("AsyncMetricRecorder: Unknown metric event type: %s", event.Type)
	}
}

// Close stops the recorder after processing the events already queued. It is safe to call more than once.
func (r *AsyncMetricRecorder) Close() {
	r.closeOnce.Do(func() {
		logger.Debugf("AsyncMetricRecorder: Sending shutdown signal...")
		close(r.stopCh)
		r.wg.Wait()
		logger.Debugf("AsyncMetricRecorder: Shutdown complete.")
	})
}

// sendEvent sends an event to the queue, logging a warning if the queue is full or the recorder is closed.
func (r *AsyncMetricRecorder) sendEvent(ctx context.Context, event MetricEvent, id string) {
	if ctx != nil {
		event.Ctx = context.WithoutCancel(ctx)
	}
	select {
	case <-r.stopCh:
		logger.Warnf("AsyncMetricRecorder: Recorder is closed (type: %s, ID: %s). Event discarded.", event.Type, id)
		return
	default:
	}
	select {
	case r.eventQueue <- event:
	default:
		logger.Warnf("AsyncMetricRecorder: Event queue is full (type: %s, ID: %s). Event discarded.", event.Type, id)
	}
}

// Executions keep changing after the call returns, so the queued event holds a copy.

// RecordJobStart asynchronously records the start event of a JobExecution.
func (r *AsyncMetricRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	snapshot := *execution
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeJobStart, JobExecution: &snapshot}, execution.ID)
}

// RecordJobEnd asynchronously records the end event of a JobExecution.
func (r *AsyncMetricRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	snapshot := *execution
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeJobEnd, JobExecution: &snapshot}, execution.ID)
}

// RecordStepStart asynchronously records the start event of a StepExecution.
func (r *AsyncMetricRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	snapshot := *execution
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeStepStart, StepExecution: &snapshot}, execution.ID)
}

// RecordStepEnd asynchronously records the end event of a StepExecution.
func (r *AsyncMetricRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	snapshot := *execution
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeStepEnd, StepExecution: &snapshot}, execution.ID)
}

// RecordItemRead asynchronously records the records read by a committed chunk.
func (r *AsyncMetricRecorder) RecordItemRead(ctx context.Context, stepName string, count int) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeItemRead, StepName: stepName, Count: count}, stepName)
}

// RecordItemFilter asynchronously records the records filtered by a committed chunk.
func (r *AsyncMetricRecorder) RecordItemFilter(ctx context.Context, stepName string, count int) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeItemFilter, StepName: stepName, Count: count}, stepName)
}

// RecordItemWrite asynchronously records the records written by a committed chunk.
func (r *AsyncMetricRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeItemWrite, StepName: stepName, Count: count}, stepName)
}

// RecordChunkCommit asynchronously records the chunk commit event.
func (r *AsyncMetricRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeChunkCommit, StepName: stepName, Count: count}, stepName)
}

// RecordChunkRollback asynchronously records the chunk rollback event.
func (r *AsyncMetricRecorder) RecordChunkRollback(ctx context.Context, stepName string, reason string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeChunkRollback, StepName: stepName, Reason: reason}, stepName)
}

// RecordDuration asynchronously records the execution time event of a specific operation.
func (r *AsyncMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.sendEvent(ctx, MetricEvent{Type: MetricEventTypeRecordDuration, StepName: name, Duration: duration, Tags: tags}, name)
}

// Ensures AsyncMetricRecorder implements the metrics.MetricRecorder interface at compile time.
var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)

// NewAsyncMetricRecorderWrapper is a helper function for use with fx.Decorate.
// When metrics.async_buffer_size is positive it wraps syncRecorder and drains it on shutdown;
// otherwise syncRecorder is returned unchanged.
func NewAsyncMetricRecorderWrapper(lc fx.Lifecycle, cfg *config.Config, syncRecorder metrics.MetricRecorder) metrics.MetricRecorder {
	bufferSize := cfg.ChunkBatch.Metrics.AsyncBufferSize
	if !cfg.ChunkBatch.Metrics.Enabled || bufferSize <= 0 {
		return syncRecorder
	}
	asyncRecorder := NewAsyncMetricRecorder(bufferSize, syncRecorder)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			asyncRecorder.Close()
			return nil
		},
	})
	logger.Debugf("MetricRecorder decorated with asynchronous wrapper.")
	return asyncRecorder
}

// Module decorates the provided MetricRecorder with NewAsyncMetricRecorderWrapper.
var Module = fx.Decorate(NewAsyncMetricRecorderWrapper)
