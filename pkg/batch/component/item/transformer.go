// Package item provides generic record transformers for chunk steps.
package item

import (
	"context"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
)

// TransformerFunc adapts a function to [port.RecordTransformer].
type TransformerFunc[I, O any] func(ctx context.Context, in I) (*O, error)

// Transform implements port.RecordTransformer.
func (f TransformerFunc[I, O]) Transform(ctx context.Context, in I) (*O, error) {
	return f(ctx, in)
}

// CompositeTransformer applies a sequence of same-typed transformers in order.
// A nil output of any stage filters the record; later stages are not called.
type CompositeTransformer[T any] struct {
	stages []port.RecordTransformer[T, T]
}

// NewCompositeTransformer creates a CompositeTransformer of stages.
// With no stages, it behaves like PassThroughTransformer.
func NewCompositeTransformer[T any](stages ...port.RecordTransformer[T, T]) *CompositeTransformer[T] {
	return &CompositeTransformer[T]{stages: stages}
}

// Transform implements port.RecordTransformer.
func (c *CompositeTransformer[T]) Transform(ctx context.Context, in T) (*T, error) {
	current := in
	for _, stage := range c.stages {
		out, err := stage.Transform(ctx, current)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}
		current = *out
	}
	return &current, nil
}

// Chain joins two transformers with different record types into one.
// A nil output of first filters the record before second is called.
func Chain[I, M, O any](first port.RecordTransformer[I, M], second port.RecordTransformer[M, O]) port.RecordTransformer[I, O] {
	return TransformerFunc[I, O](func(ctx context.Context, in I) (*O, error) {
		mid, err := first.Transform(ctx, in)
		if err != nil || mid == nil {
			return nil, err
		}
		return second.Transform(ctx, *mid)
	})
}

var (
	_ port.RecordTransformer[int, int] = TransformerFunc[int, int](nil)
	_ port.RecordTransformer[int, int] = (*CompositeTransformer[int])(nil)
)
