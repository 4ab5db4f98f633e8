package model

// Chunk is the ordered batch of transformed records accumulated by one chunk iteration.
// It lives only between the read phase and the commit phase.
type Chunk[T any] struct {
	Items []T
	// ReadCount is the number of source records consumed to build Items, filtered ones included.
	ReadCount int
	// FilterCount is the number of consumed records the transformer dropped.
	FilterCount int
}

// NewChunk creates an empty chunk with room for size items.
func NewChunk[T any](size int) *Chunk[T] {
	return &Chunk[T]{Items: make([]T, 0, size)}
}

// Add appends a transformed record.
func (c *Chunk[T]) Add(item T) {
	c.Items = append(c.Items, item)
}

// Len returns the number of transformed records.
func (c *Chunk[T]) Len() int {
	return len(c.Items)
}

// IsFull reports whether the chunk holds size records.
func (c *Chunk[T]) IsFull(size int) bool {
	return len(c.Items) >= size
}
