// Package history keeps fixed-size rolling windows of metric samples.
//
// Buffers have a single writer (the sampler) and any number of readers.
// Reads return copies, so a reader never sees a window mid-eviction.
package history

import "sync"

// DefaultCapacity is the number of samples retained per channel. At the
// default 1.5s cadence this covers the last ninety seconds.
const DefaultCapacity = 60

// Buffer is a circular store of the most recent samples. It is always full:
// slots not yet written hold the zero value of T.
type Buffer[T any] struct {
	mu   sync.RWMutex
	data []T
	head int // index of the oldest sample
}

// NewBuffer returns a buffer of the given capacity, pre-filled with zero
// values. Capacities below 1 are raised to 1.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{data: make([]T, capacity)}
}

// Push overwrites the oldest sample with v.
func (b *Buffer[T]) Push(v T) {
	b.mu.Lock()
	b.data[b.head] = v
	b.head = (b.head + 1) % len(b.data)
	b.mu.Unlock()
}

// Values returns a copy of the window ordered oldest to newest. The result
// always has length Cap().
func (b *Buffer[T]) Values() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, len(b.data))
	n := copy(out, b.data[b.head:])
	copy(out[n:], b.data[:b.head])
	return out
}

// Latest returns the most recently pushed sample.
func (b *Buffer[T]) Latest() T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	i := b.head - 1
	if i < 0 {
		i = len(b.data) - 1
	}
	return b.data[i]
}

// Cap returns the fixed window size.
func (b *Buffer[T]) Cap() int {
	return len(b.data)
}
