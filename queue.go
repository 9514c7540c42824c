package splice

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Queue runs a fixed set of asynchronous tasks and reports once all of them
// finished. The first failing task cancels the context handed to the others
// and becomes the queue's error; every failure is kept in Errors.
//
// Tasks must be added before Seal. Wait seals the queue itself.
type Queue struct {
	group *errgroup.Group
	ctx   context.Context

	mu     sync.Mutex
	sealed bool
	errs   []error
	err    error
	done   chan struct{}
}

// NewQueue creates a queue whose tasks run under ctx.
func NewQueue(ctx context.Context) *Queue {
	g, gctx := errgroup.WithContext(ctx)
	return &Queue{
		group: g,
		ctx:   gctx,
		done:  make(chan struct{}),
	}
}

// Go adds a task. It panics when called after Seal.
func (q *Queue) Go(fn func(ctx context.Context) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sealed {
		panic("splice: task added to a sealed queue")
	}
	q.group.Go(func() error {
		err := fn(q.ctx)
		if err != nil {
			q.mu.Lock()
			q.errs = append(q.errs, err)
			q.mu.Unlock()
		}
		return err
	})
}

// Seal stops accepting tasks and starts waiting for the added ones. Sealing
// twice is a no-op.
func (q *Queue) Seal() *Queue {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sealed {
		return q
	}
	q.sealed = true
	go func() {
		err := q.group.Wait()
		q.mu.Lock()
		q.err = err
		q.mu.Unlock()
		close(q.done)
	}()
	return q
}

// Done is closed once every task of a sealed queue returned.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Err returns the first task error. It is only meaningful after Done.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Errors returns every task error in completion order.
func (q *Queue) Errors() []error {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]error, len(q.errs))
	copy(out, q.errs)
	return out
}

// Wait seals the queue and blocks until all tasks returned or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.Seal()
	select {
	case <-q.done:
		return q.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
