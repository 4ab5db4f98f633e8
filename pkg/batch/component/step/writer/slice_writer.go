package writer

import (
	"context"
	"sync"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

// SliceWriter is an in-memory [port.ChunkWriter] that upserts records by key.
// Writes are staged on the chunk transaction and applied only when it commits.
type SliceWriter[T any, K comparable] struct {
	mu    sync.RWMutex
	key   func(T) K
	order []K
	rows  map[K]T
}

// NewSliceWriter creates a SliceWriter keyed by key.
func NewSliceWriter[T any, K comparable](key func(T) K) *SliceWriter[T, K] {
	return &SliceWriter[T, K]{key: key, rows: make(map[K]T)}
}

// Write implements port.ChunkWriter.
func (w *SliceWriter[T, K]) Write(ctx context.Context, items []T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	staged := append([]T(nil), items...)
	tx.AfterCommit(ctx, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for _, item := range staged {
			k := w.key(item)
			if _, exists := w.rows[k]; !exists {
				w.order = append(w.order, k)
			}
			w.rows[k] = item
		}
	})
	return nil
}

// Items returns the stored records in first-write order.
func (w *SliceWriter[T, K]) Items() []T {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]T, 0, len(w.order))
	for _, k := range w.order {
		out = append(out, w.rows[k])
	}
	return out
}

// Get returns the stored record for k.
func (w *SliceWriter[T, K]) Get(k K) (T, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.rows[k]
	return v, ok
}

// Len returns the number of stored records.
func (w *SliceWriter[T, K]) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.rows)
}

var _ port.ChunkWriter[int] = (*SliceWriter[int, int])(nil)
