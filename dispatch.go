package splice

import "sync"

// dispatcher delivers queued callbacks in order. Callbacks queued while a
// delivery is running, including from inside a callback, run after it
// returns, so handlers may call back into the record.
type dispatcher struct {
	mu       sync.Mutex
	pending  []func()
	draining bool
}

func (d *dispatcher) enqueue(fn func()) {
	d.mu.Lock()
	d.pending = append(d.pending, fn)
	d.mu.Unlock()
}

// drain runs queued callbacks unless another goroutine already does.
func (d *dispatcher) drain() {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	for len(d.pending) > 0 {
		fn := d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()
		fn()
		d.mu.Lock()
	}
	d.draining = false
	d.mu.Unlock()
}
