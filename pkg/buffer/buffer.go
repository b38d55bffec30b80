package buffer

import (
	"sync"

	"go.uber.org/zap"
)

// RingBuffer is a thread-safe generic circular buffer that overwrites the
// oldest entry when full
type RingBuffer[T any] struct {
	mu       sync.RWMutex
	data     []T
	capacity int
	size     int
	head     int
	dropped  uint64
	warned   bool
	logger   *zap.Logger
}

// New creates a new RingBuffer; capacities below one are raised to one
func New[T any](capacity int, logger *zap.Logger) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Add inserts a new item, overwriting the oldest one when the buffer is full.
// The overflow warning is logged once until the buffer is drained.
func (rb *RingBuffer[T]) Add(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == rb.capacity {
		rb.dropped++
		if !rb.warned {
			rb.warned = true
			rb.logger.Warn("ring buffer full, overwriting oldest entries",
				zap.Int("capacity", rb.capacity))
		}
	}

	rb.data[rb.head] = item
	rb.head = (rb.head + 1) % rb.capacity

	if rb.size < rb.capacity {
		rb.size++
	}
}

// GetAllAndClear atomically returns all buffered items, oldest first, and
// empties the buffer
func (rb *RingBuffer[T]) GetAllAndClear() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 {
		return nil
	}

	// oldest entry sits at head once the buffer has wrapped
	start := 0
	if rb.size == rb.capacity {
		start = rb.head
	}

	results := make([]T, rb.size)
	for i := range results {
		results[i] = rb.data[(start+i)%rb.capacity]
	}

	var zero T
	for i := range rb.data {
		rb.data[i] = zero
	}
	rb.size = 0
	rb.head = 0
	rb.warned = false

	return results
}

// Size returns the current number of entries in the buffer
func (rb *RingBuffer[T]) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Capacity returns the maximum capacity of the buffer
func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}

// Dropped returns how many entries were overwritten before being read
func (rb *RingBuffer[T]) Dropped() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.dropped
}

// Stats returns buffer statistics
func (rb *RingBuffer[T]) Stats() (size, capacity int) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size, rb.capacity
}
