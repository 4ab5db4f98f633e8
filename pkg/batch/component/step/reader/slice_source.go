package reader

import (
	"context"
	"sort"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
)

// SliceSource is an in-memory [port.PagedSource].
// Records are sorted once by less (stable, so equal keys keep their input order)
// and filtered by match, giving the same paging semantics as SqlPagedReader.
type SliceSource[T any] struct {
	records []T
}

// NewSliceSource creates a SliceSource over a copy of records.
//
// Parameters:
//
//	records: The source records.
//	less: The total order of the source. Nil keeps the input order.
//	match: The filter. Nil matches every record.
func NewSliceSource[T any](records []T, less func(a, b T) bool, match func(T) bool) *SliceSource[T] {
	selected := make([]T, 0, len(records))
	for _, r := range records {
		if match == nil || match(r) {
			selected = append(selected, r)
		}
	}
	if less != nil {
		sort.SliceStable(selected, func(i, j int) bool { return less(selected[i], selected[j]) })
	}
	return &SliceSource[T]{records: selected}
}

// NextPage implements port.PagedSource.
func (s *SliceSource[T]) NextPage(ctx context.Context, offset int64, pageSize int) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 || offset >= int64(len(s.records)) || pageSize <= 0 {
		return []T{}, nil
	}
	end := offset + int64(pageSize)
	if end > int64(len(s.records)) {
		end = int64(len(s.records))
	}
	page := make([]T, end-offset)
	copy(page, s.records[offset:end])
	return page, nil
}

// Len returns the number of records matching the filter.
func (s *SliceSource[T]) Len() int {
	return len(s.records)
}

var _ port.PagedSource[int] = (*SliceSource[int])(nil)
