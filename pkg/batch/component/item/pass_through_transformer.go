package item

import (
	"context"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// PassThroughTransformer is an implementation of [port.RecordTransformer] that returns the input record as is.
type PassThroughTransformer[T any] struct{}

// NewPassThroughTransformer creates a new instance of [PassThroughTransformer].
func NewPassThroughTransformer[T any]() port.RecordTransformer[T, T] {
	return &PassThroughTransformer[T]{}
}

// Transform returns a copy of in.
func (p *PassThroughTransformer[T]) Transform(ctx context.Context, in T) (*T, error) {
	logger.Debugf("PassThroughTransformer: Transforming record: %+v", in)
	out := in
	return &out, nil
}
