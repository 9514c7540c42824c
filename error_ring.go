package splice

import "sync"

// ring keeps the last n pushed values. A nil ring drops everything.
type ring[T any] struct {
	mu    sync.Mutex
	items []T
	next  int
	full  bool
}

// errorRing is the error history of a record.
type errorRing = ring[error]

// newErrorRing returns a ring of the given capacity, or nil when size is
// not positive.
func newErrorRing(size int) *errorRing {
	return newRing[error](size)
}

func newRing[T any](size int) *ring[T] {
	if size <= 0 {
		return nil
	}
	return &ring[T]{items: make([]T, size)}
}

func (r *ring[T]) push(v T) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.next] = v
	r.next++
	if r.next == len(r.items) {
		r.next = 0
		r.full = true
	}
}

func (r *ring[T]) len() int {
	if r.full {
		return len(r.items)
	}
	return r.next
}

// all returns the kept values, oldest first.
func (r *ring[T]) all() []T {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.len()
	if n == 0 {
		return nil
	}
	out := make([]T, 0, n)
	if r.full {
		out = append(out, r.items[r.next:]...)
	}
	return append(out, r.items[:r.next]...)
}
