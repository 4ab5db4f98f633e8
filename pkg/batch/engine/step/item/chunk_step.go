// Package item implements the chunk-oriented step: read a page-backed batch, transform it,
// write it and record progress in one transaction per chunk.
package item

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// State is the lifecycle state of a ChunkStep.
type State string

const (
	StateInitialized State = "INITIALIZED"
	StateRunning     State = "RUNNING"
	StateCompleted   State = "COMPLETED"
	StateFailed      State = "FAILED"
	StateStopped     State = "STOPPED"
)

// ErrAlreadyExecuted is returned when Execute is called on a ChunkStep that has left INITIALIZED.
var ErrAlreadyExecuted = errors.New("chunk step has already been executed")

// ChunkStepConfig holds everything a ChunkStep needs. It is built explicitly by the caller.
type ChunkStepConfig[I, O any] struct {
	// StepName is the name of the step, used in logs, errors and metrics.
	StepName string
	// ChunkSize is the number of transformed records written per transaction.
	ChunkSize int
	// PageSize is the number of records fetched from the source per call. Zero uses ChunkSize.
	PageSize int

	Source      port.PagedSource[I]
	Transformer port.RecordTransformer[I, O]
	Writer      port.ChunkWriter[O]

	// TxManager opens the chunk transaction. Writer and Store join it through the context.
	TxManager tx.TransactionManager
	Store     repository.ExecutionStateStore

	StepListeners  []port.StepExecutionListener
	ChunkListeners []port.ChunkListener

	// MetricRecorder and Tracer default to no-op implementations.
	MetricRecorder metrics.MetricRecorder
	Tracer         metrics.Tracer
}

// ChunkStep runs one chunk-oriented step to completion, failure or stop.
type ChunkStep[I, O any] struct {
	cfg ChunkStepConfig[I, O]

	mu    sync.RWMutex
	state State

	// buffer holds records fetched from the source but not yet consumed by a committed chunk.
	buffer []I
}

// NewChunkStep creates a ChunkStep.
//
// Parameters:
//
//	cfg: The step configuration. Source, Transformer, Writer, TxManager and Store are required.
//
// Returns:
//
//	A ChunkStep in INITIALIZED state, or an error if the configuration is invalid.
func NewChunkStep[I, O any](cfg ChunkStepConfig[I, O]) (*ChunkStep[I, O], error) {
	if cfg.StepName == "" {
		return nil, exception.NewBatchErrorf("ChunkStep", "step name is required")
	}
	if cfg.ChunkSize <= 0 {
		return nil, exception.NewBatchErrorf("ChunkStep", "step '%s': chunk size must be positive, got %d", cfg.StepName, cfg.ChunkSize)
	}
	if cfg.PageSize < 0 {
		return nil, exception.NewBatchErrorf("ChunkStep", "step '%s': page size must not be negative, got %d", cfg.StepName, cfg.PageSize)
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = cfg.ChunkSize
	}
	switch {
	case cfg.Source == nil:
		return nil, exception.NewBatchErrorf("ChunkStep", "step '%s': source is required", cfg.StepName)
	case cfg.Transformer == nil:
		return nil, exception.NewBatchErrorf("ChunkStep", "step '%s': transformer is required", cfg.StepName)
	case cfg.Writer == nil:
		return nil, exception.NewBatchErrorf("ChunkStep", "step '%s': writer is required", cfg.StepName)
	case cfg.TxManager == nil:
		return nil, exception.NewBatchErrorf("ChunkStep", "step '%s': transaction manager is required", cfg.StepName)
	case cfg.Store == nil:
		return nil, exception.NewBatchErrorf("ChunkStep", "step '%s': execution state store is required", cfg.StepName)
	}
	if cfg.MetricRecorder == nil {
		cfg.MetricRecorder = metrics.NewNoOpMetricRecorder()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = metrics.NewNoOpTracer()
	}
	return &ChunkStep[I, O]{cfg: cfg, state: StateInitialized}, nil
}

// StepName returns the step name.
func (s *ChunkStep[I, O]) StepName() string {
	return s.cfg.StepName
}

// State returns the current lifecycle state.
func (s *ChunkStep[I, O]) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *ChunkStep[I, O]) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Execute runs the step for stepExecution, starting at its committed offset.
//
// Every chunk commits its write together with the updated stepExecution. On error the chunk
// rolls back, stepExecution keeps the last committed progress and is persisted as FAILED.
// A stop request is honoured before the next chunk and leaves the step STOPPED.
//
// Parameters:
//
//	ctx: The context for the operation.
//	stepExecution: The execution to advance. It is updated in place after each commit.
//	stop: The stop signal checked at chunk boundaries. May be nil.
//
// Returns:
//
//	The error that failed the step, or nil when the step completed or stopped.
func (s *ChunkStep[I, O]) Execute(ctx context.Context, stepExecution *model.StepExecution, stop port.StopSignal) error {
	s.mu.Lock()
	if s.state != StateInitialized {
		s.mu.Unlock()
		return ErrAlreadyExecuted
	}
	s.state = StateRunning
	s.mu.Unlock()

	name := s.cfg.StepName
	ctx, endSpan := s.cfg.Tracer.StartStepSpan(ctx, stepExecution)
	defer endSpan()

	logger.Infof("ChunkStep '%s' executing from offset %d (chunk size %d, page size %d).",
		name, stepExecution.LastCommittedOffset, s.cfg.ChunkSize, s.cfg.PageSize)

	stepExecution.MarkAsStarted()
	if err := s.cfg.Store.UpdateStep(ctx, stepExecution); err != nil {
		stepExecution.MarkAsFailed(err)
		s.setState(StateFailed)
		return exception.NewBatchError(name, "failed to update StepExecution status to STARTED", err)
	}

	s.cfg.MetricRecorder.RecordStepStart(ctx, stepExecution)
	for _, l := range s.cfg.StepListeners {
		l.BeforeStep(ctx, stepExecution)
	}
	defer func() {
		for _, l := range s.cfg.StepListeners {
			l.AfterStep(ctx, stepExecution)
		}
		s.cfg.MetricRecorder.RecordStepEnd(ctx, stepExecution)
		logger.Infof("ChunkStep '%s' finished. ExitStatus: %s %s", name, stepExecution.ExitStatus, stepExecution.DebugString())
	}()

	for {
		if stop != nil && stop.StopRequested(ctx) {
			return s.stop(ctx, stepExecution)
		}

		exhausted, err := s.runChunk(ctx, stepExecution)
		if err != nil {
			return s.fail(ctx, stepExecution, err)
		}
		if exhausted {
			return s.complete(ctx, stepExecution)
		}
	}
}

// runChunk processes one chunk in one transaction and adopts its progress on commit.
func (s *ChunkStep[I, O]) runChunk(ctx context.Context, stepExecution *model.StepExecution) (bool, error) {
	name := s.cfg.StepName
	ctx, endSpan := s.cfg.Tracer.StartChunkSpan(ctx, name, stepExecution.LastCommittedOffset)
	defer endSpan()

	start := time.Now()
	work := stepExecution.Snapshot()
	var chunk *model.Chunk[O]
	var exhausted bool

	err := tx.RunInTx(ctx, s.cfg.TxManager, func(txCtx context.Context) error {
		txCtx = port.GetContextWithStepExecution(txCtx, work)
		for _, l := range s.cfg.ChunkListeners {
			l.BeforeChunk(txCtx, work)
		}

		var err error
		chunk, exhausted, err = s.fill(txCtx, work.LastCommittedOffset)
		if err != nil {
			return err
		}

		if chunk.Len() > 0 {
			if err := s.cfg.Writer.Write(txCtx, chunk.Items); err != nil {
				if exception.KindOf(err) != exception.KindWrite {
					err = exception.NewWriteError(name, chunk.Len(), err)
				}
				return err
			}
		}

		work.ReadCount += chunk.ReadCount
		work.FilterCount += chunk.FilterCount
		work.WriteCount += chunk.Len()
		work.LastCommittedOffset += int64(chunk.ReadCount)
		if chunk.ReadCount > 0 {
			work.CommitCount++
		}

		return s.cfg.Store.UpdateStep(txCtx, work)
	})
	if err != nil {
		s.buffer = nil
		s.cfg.MetricRecorder.RecordChunkRollback(ctx, name, string(exception.KindOf(err)))
		for _, l := range s.cfg.ChunkListeners {
			l.AfterChunkError(ctx, stepExecution, err)
		}
		return false, err
	}

	*stepExecution = *work

	if chunk.ReadCount > 0 {
		s.cfg.MetricRecorder.RecordItemRead(ctx, name, chunk.ReadCount)
		s.cfg.MetricRecorder.RecordItemFilter(ctx, name, chunk.FilterCount)
		s.cfg.MetricRecorder.RecordItemWrite(ctx, name, chunk.Len())
		s.cfg.MetricRecorder.RecordChunkCommit(ctx, name, chunk.Len())
	}
	s.cfg.MetricRecorder.RecordDuration(ctx, "chunk", time.Since(start), map[string]string{"step_name": name})
	s.cfg.Tracer.RecordEvent(ctx, "chunk_committed", map[string]interface{}{
		"read":   chunk.ReadCount,
		"write":  chunk.Len(),
		"offset": stepExecution.LastCommittedOffset,
	})
	for _, l := range s.cfg.ChunkListeners {
		l.AfterChunk(ctx, stepExecution)
	}

	logger.Debugf("ChunkStep '%s': Committed chunk (read %d, filtered %d, written %d). Offset: %d",
		name, chunk.ReadCount, chunk.FilterCount, chunk.Len(), stepExecution.LastCommittedOffset)
	return exhausted, nil
}

// fill consumes source records from offset until the chunk holds ChunkSize transformed records
// or the source is exhausted. A full chunk pre-fetches the next page when nothing is buffered,
// so the last chunk already knows it is the last.
func (s *ChunkStep[I, O]) fill(ctx context.Context, offset int64) (*model.Chunk[O], bool, error) {
	chunk := model.NewChunk[O](s.cfg.ChunkSize)
	nextFetch := offset + int64(len(s.buffer))

	for !chunk.IsFull(s.cfg.ChunkSize) {
		if len(s.buffer) == 0 {
			page, err := s.fetch(ctx, nextFetch)
			if err != nil {
				return nil, false, err
			}
			if len(page) == 0 {
				return chunk, true, nil
			}
			s.buffer = page
			nextFetch += int64(len(page))
		}

		record := s.buffer[0]
		s.buffer = s.buffer[1:]
		chunk.ReadCount++

		out, err := s.cfg.Transformer.Transform(ctx, record)
		if err != nil {
			if exception.KindOf(err) != exception.KindTransform {
				err = exception.NewTransformError(s.cfg.StepName, record, err)
			}
			return nil, false, err
		}
		if out == nil {
			chunk.FilterCount++
			continue
		}
		chunk.Add(*out)
	}

	if len(s.buffer) == 0 {
		page, err := s.fetch(ctx, nextFetch)
		if err != nil {
			return nil, false, err
		}
		if len(page) == 0 {
			return chunk, true, nil
		}
		s.buffer = page
	}
	return chunk, false, nil
}

func (s *ChunkStep[I, O]) fetch(ctx context.Context, offset int64) ([]I, error) {
	page, err := s.cfg.Source.NextPage(ctx, offset, s.cfg.PageSize)
	if err != nil {
		if exception.KindOf(err) != exception.KindSource {
			err = exception.NewSourceError(s.cfg.StepName, offset, err)
		}
		return nil, err
	}
	return page, nil
}

// complete persists the COMPLETED step.
func (s *ChunkStep[I, O]) complete(ctx context.Context, stepExecution *model.StepExecution) error {
	stepExecution.MarkAsCompleted()
	if err := s.cfg.Store.UpdateStep(context.WithoutCancel(ctx), stepExecution); err != nil {
		s.setState(StateFailed)
		return exception.NewBatchError(s.cfg.StepName, "failed to persist completed StepExecution", err)
	}
	s.setState(StateCompleted)
	return nil
}

// stop persists the STOPPED step. Buffered read-ahead is dropped; a restart re-reads from the offset.
func (s *ChunkStep[I, O]) stop(ctx context.Context, stepExecution *model.StepExecution) error {
	logger.Infof("ChunkStep '%s': Stop requested. Stopping at offset %d.", s.cfg.StepName, stepExecution.LastCommittedOffset)
	s.buffer = nil
	stepExecution.MarkAsStopped()
	if err := s.cfg.Store.UpdateStep(context.WithoutCancel(ctx), stepExecution); err != nil {
		s.setState(StateFailed)
		return exception.NewBatchError(s.cfg.StepName, "failed to persist stopped StepExecution", err)
	}
	s.setState(StateStopped)
	return nil
}

// fail records a rolled back chunk and persists the FAILED step outside the failed transaction.
func (s *ChunkStep[I, O]) fail(ctx context.Context, stepExecution *model.StepExecution, err error) error {
	logger.Errorf("ChunkStep '%s': Chunk rolled back at offset %d: %v", s.cfg.StepName, stepExecution.LastCommittedOffset, err)
	s.cfg.Tracer.RecordError(ctx, s.cfg.StepName, err)

	stepExecution.RollbackCount++
	stepExecution.MarkAsFailed(err)
	if uerr := s.cfg.Store.UpdateStep(context.WithoutCancel(ctx), stepExecution); uerr != nil {
		logger.Errorf("ChunkStep '%s': Failed to persist FAILED StepExecution: %v", s.cfg.StepName, uerr)
	}
	s.setState(StateFailed)
	return fmt.Errorf("step '%s' failed: %w", s.cfg.StepName, err)
}
