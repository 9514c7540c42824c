// Package testing provides test utilities for code built on splice: seeded
// in-memory stores, event recorders over any store.Query and polling
// helpers for asynchronous records.
package testing

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/splice/pkg/memory"
	"github.com/zoobzio/splice/store"
)

// NewStore creates an in-memory store seeded with data.
func NewStore(t *testing.T, data map[string]any, opts ...memory.Option) *memory.Store {
	t.Helper()
	s := memory.New(opts...)
	if data != nil {
		if err := s.Load(context.Background(), data); err != nil {
			t.Fatalf("seeding store: %v", err)
		}
	}
	return s
}

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// RequireValue fails the test unless a one-shot read of q equals want.
func RequireValue(t *testing.T, q store.Query, want any) {
	t.Helper()
	snap, err := q.Get(context.Background())
	if err != nil {
		t.Fatalf("Get %s failed: %v", q.Ref(), err)
	}
	if got := snap.Val(); !reflect.DeepEqual(got, want) {
		t.Fatalf("value of %s:\n got: %#v\nwant: %#v", q.Ref(), got, want)
	}
}

// Event is one delivery captured by a Recorder.
type Event struct {
	Type  store.EventType
	Key   string
	Prev  string
	Value any
}

// Recorder captures the events delivered by one or more subscriptions.
type Recorder struct {
	mu        sync.Mutex
	events    []Event
	regs      []store.Registration
	cancelled []error
}

// Record subscribes to every event type on q and records the deliveries.
// Subscriptions are closed when the test ends.
func Record(t *testing.T, q store.Query, types ...store.EventType) *Recorder {
	t.Helper()
	rec := &Recorder{}
	for _, typ := range types {
		reg, err := q.On(typ, rec.handler(typ), rec.cancel)
		if err != nil {
			rec.Off()
			t.Fatalf("On %s %s failed: %v", q.Ref(), typ, err)
		}
		rec.mu.Lock()
		rec.regs = append(rec.regs, reg)
		rec.mu.Unlock()
	}
	t.Cleanup(rec.Off)
	return rec
}

func (r *Recorder) handler(typ store.EventType) store.Handler {
	return func(snap *store.Snapshot, prev string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, Event{Type: typ, Key: snap.Key(), Prev: prev, Value: snap.Val()})
	}
}

func (r *Recorder) cancel(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, err)
}

// Events returns every recorded event in delivery order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Of returns the recorded events of one type.
func (r *Recorder) Of(typ store.EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Last returns the most recent event of typ.
func (r *Recorder) Last(typ store.EventType) (Event, bool) {
	evs := r.Of(typ)
	if len(evs) == 0 {
		return Event{}, false
	}
	return evs[len(evs)-1], true
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Cancelled returns the errors passed to the cancel callbacks.
func (r *Recorder) Cancelled() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.cancelled))
	copy(out, r.cancelled)
	return out
}

// Off closes every subscription. Calling it twice is a no-op.
func (r *Recorder) Off() {
	r.mu.Lock()
	regs := r.regs
	r.regs = nil
	r.mu.Unlock()
	for _, reg := range regs {
		reg.Off()
	}
}
