// Package buffer provides a bounded, freshest-first hand-off buffer for
// video frames.
package buffer

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidCapacity is returned when a buffer is constructed with a
// capacity less than one.
var ErrInvalidCapacity = errors.New("buffer capacity must be positive")

// Stats is a snapshot of buffer counters.
type Stats struct {
	Pushed  uint64 `json:"pushed"`
	Popped  uint64 `json:"popped"`
	Evicted uint64 `json:"evicted"`
	Cleared uint64 `json:"cleared"`
}

// Option configures a Freshest buffer.
type Option[T any] func(*Freshest[T])

// WithRelease sets a hook that is called for every item the buffer discards
// on its own, either by eviction or by Clear. Items handed out by TryPop are
// never passed to the hook.
func WithRelease[T any](fn func(T)) Option[T] {
	return func(b *Freshest[T]) {
		b.release = fn
	}
}

// Freshest is a fixed-capacity ring that yields the most recently pushed
// item first. When full, a push overwrites the stalest item.
//
// It is safe for one producer and one consumer running concurrently.
type Freshest[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int // next write position; items[head-1] is the freshest
	n       int
	stats   Stats
	release func(T)
	ready   chan struct{}
}

// New creates a buffer holding at most capacity items.
func New[T any](capacity int, opts ...Option[T]) (*Freshest[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}

	b := &Freshest[T]{
		items: make([]T, capacity),
		ready: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// MustNew is like New but panics on an invalid capacity.
func MustNew[T any](capacity int, opts ...Option[T]) *Freshest[T] {
	b, err := New(capacity, opts...)
	if err != nil {
		panic(err)
	}
	return b
}

// Push inserts v at the fresh end. If the buffer was full the stalest item
// is evicted and Push reports true. Push never blocks.
func (b *Freshest[T]) Push(v T) bool {
	var (
		old     T
		evicted bool
	)

	b.mu.Lock()
	if b.n == len(b.items) {
		// When full the write head sits on the stalest item.
		old = b.items[b.head]
		evicted = true
		b.stats.Evicted++
	} else {
		b.n++
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
	b.stats.Pushed++
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}

	if evicted && b.release != nil {
		b.release(old)
	}

	return evicted
}

// TryPop removes and returns the freshest item. The second result is false
// when the buffer is empty.
func (b *Freshest[T]) TryPop() (T, bool) {
	var zero T

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.n == 0 {
		return zero, false
	}

	b.head = (b.head - 1 + len(b.items)) % len(b.items)
	v := b.items[b.head]
	b.items[b.head] = zero
	b.n--
	b.stats.Popped++

	return v, true
}

// Clear discards every buffered item and returns how many were dropped.
// Calling Clear on an empty buffer is a no-op.
func (b *Freshest[T]) Clear() int {
	var zero T

	b.mu.Lock()
	dropped := make([]T, 0, b.n)
	for i := b.n; i > 0; i-- {
		idx := (b.head - i + len(b.items)) % len(b.items)
		dropped = append(dropped, b.items[idx])
		b.items[idx] = zero
	}
	b.n = 0
	b.stats.Cleared += uint64(len(dropped))
	b.mu.Unlock()

	if b.release != nil {
		for _, v := range dropped {
			b.release(v)
		}
	}

	return len(dropped)
}

// Len returns the number of buffered items.
func (b *Freshest[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Cap returns the buffer capacity.
func (b *Freshest[T]) Cap() int {
	return len(b.items)
}

// Ready returns a channel that receives a value after a push. It holds at
// most one pending signal, so a receive only means the buffer may be
// non-empty; callers must still check TryPop.
func (b *Freshest[T]) Ready() <-chan struct{} {
	return b.ready
}

// Stats returns a snapshot of the buffer counters.
func (b *Freshest[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
