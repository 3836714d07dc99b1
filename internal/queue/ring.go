package queue

import "sync"

// Ring is a fixed-capacity FIFO. When full, Push evicts the oldest item so
// capture never blocks on a slow consumer.
type Ring[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    int // index of the oldest item
	size    int
	evicted int
}

// NewRing creates a ring holding at most capacity items. A capacity below one
// is raised to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends item. It returns the evicted item and true when the ring was full.
func (r *Ring[T]) Push(item T) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped T
	if r.size == len(r.buf) {
		dropped = r.buf[r.head]
		r.buf[r.head] = item
		r.head = (r.head + 1) % len(r.buf)
		r.evicted++
		return dropped, true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = item
	r.size++
	return dropped, false
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Evicted returns how many items were dropped since the last Drain.
func (r *Ring[T]) Evicted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}

// Drain returns the buffered items oldest first and leaves the ring empty.
// The returned slice is owned by the caller.
func (r *Ring[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % len(r.buf)
		out[i] = r.buf[idx]
		var zero T
		r.buf[idx] = zero
	}
	r.head = 0
	r.size = 0
	r.evicted = 0
	return out
}
