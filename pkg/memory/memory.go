// Package memory provides an in-process implementation of the store
// contract: a priority-ordered tree with subscriptions, one-shot reads,
// queries, push keys and transactions.
//
// Events are delivered synchronously in write order. A write issued from
// inside a handler is queued and delivered after the current handler
// returns, so handlers may freely read and write the store.
package memory

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/splice/store"
)

// Op is the kind of access checked by Rules.
type Op int

const (
	// OpRead covers Get and On.
	OpRead Op = iota
	// OpWrite covers every mutation.
	OpWrite
)

// Rules decides whether an access to path is allowed. A non-nil error
// denies it and is returned to the caller.
type Rules func(op Op, path string) error

// Store is an in-memory tree store.
type Store struct {
	mu     sync.RWMutex
	root   *node
	subs   []*subscription
	nextID uint64
	rules  Rules
	clock  clockz.Clock

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	dmu      sync.Mutex
	pending  []func()
	draining bool

	reads  atomic.Int64
	writes atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to time-order push keys.
func WithClock(clock clockz.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithRules installs access rules.
func WithRules(rules Rules) Option {
	return func(s *Store) {
		s.rules = rules
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:   clockz.RealClock,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns a reference to the root of the tree.
func (s *Store) Root() *Ref {
	return &Ref{s: s}
}

// Ref returns a reference to path.
func (s *Store) Ref(path string) *Ref {
	segs, err := store.SplitPath(path)
	return &Ref{s: s, segs: segs, err: err}
}

// Load replaces the whole tree with value.
func (s *Store) Load(ctx context.Context, value any) error {
	return s.Root().Set(ctx, value)
}

// SetRules replaces the access rules. Subscriptions that may no longer read
// their location are cancelled with the rule's error.
func (s *Store) SetRules(rules Rules) {
	s.mu.Lock()
	s.rules = rules
	kept := s.subs[:0]
	for _, sub := range s.subs {
		if err := s.check(OpRead, sub.path); err != nil {
			sub.active.Store(false)
			if sub.cancel != nil {
				cancel, e := sub.cancel, err
				s.enqueue(func() { cancel(e) })
			}
			continue
		}
		kept = append(kept, sub)
	}
	s.subs = kept
	s.mu.Unlock()
	s.drain()
}

// Reads returns the number of one-shot reads served.
func (s *Store) Reads() int64 {
	return s.reads.Load()
}

// Writes returns the number of committed writes.
func (s *Store) Writes() int64 {
	return s.writes.Load()
}

// Subscriptions returns the number of live subscriptions.
func (s *Store) Subscriptions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Store) check(op Op, path string) error {
	if s.rules == nil {
		return nil
	}
	if err := s.rules(op, path); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// newKey returns a time-ordered push key.
func (s *Store) newKey() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.clock.Now()), s.entropy).String()
}

// enqueue schedules a delivery. Callers hold s.mu.
func (s *Store) enqueue(fn func()) {
	s.dmu.Lock()
	s.pending = append(s.pending, fn)
	s.dmu.Unlock()
}

// drain delivers queued events unless another goroutine already is.
func (s *Store) drain() {
	s.dmu.Lock()
	if s.draining {
		s.dmu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		fn := s.pending[0]
		s.pending = s.pending[1:]
		s.dmu.Unlock()
		fn()
		s.dmu.Lock()
	}
	s.draining = false
	s.dmu.Unlock()
}

// mutate applies fn to the tree at segs and raises events for every
// affected subscription.
func (s *Store) mutate(ctx context.Context, segs []string, fn func(root *node) *node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.check(OpWrite, store.JoinPath(segs...)); err != nil {
		s.mu.Unlock()
		return err
	}
	old := s.root
	s.root = fn(old)
	s.writes.Add(1)
	for _, sub := range s.subs {
		sub.raise(s, lookup(old, sub.segs), lookup(s.root, sub.segs))
	}
	s.mu.Unlock()
	s.drain()
	return nil
}

func (s *Store) get(ctx context.Context, r *Ref, f filter) (*store.Snapshot, error) {
	if r.err != nil {
		return nil, r.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(OpRead, r.String()); err != nil {
		return nil, err
	}
	s.reads.Add(1)
	return snapshot(r, r.Key(), f.apply(lookup(s.root, r.segs))), nil
}

func (s *Store) on(r *Ref, f filter, event store.EventType, fn store.Handler, cancel store.CancelFunc) (store.Registration, error) {
	if r.err != nil {
		return nil, r.err
	}
	if !event.Valid() {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidEvent, event)
	}
	s.mu.Lock()
	if err := s.check(OpRead, r.String()); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.nextID++
	sub := &subscription{
		id:     s.nextID,
		ref:    r,
		segs:   r.segs,
		path:   r.String(),
		filter: f,
		event:  event,
		fn:     fn,
		cancel: cancel,
	}
	sub.active.Store(true)
	s.subs = append(s.subs, sub)
	sub.raise(s, nil, lookup(s.root, sub.segs))
	if event == store.EventValue && f.apply(lookup(s.root, sub.segs)).empty() {
		snap := store.Empty(r, r.Key())
		s.enqueue(func() {
			if sub.active.Load() {
				fn(snap, "")
			}
		})
	}
	s.mu.Unlock()
	s.drain()

	return store.RegistrationFunc(func() { s.off(sub) }), nil
}

func (s *Store) off(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.active.Store(false)
	for i, c := range s.subs {
		if c == sub {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

// subscription is one live On registration.
type subscription struct {
	id     uint64
	ref    *Ref
	segs   []string
	path   string
	filter filter
	event  store.EventType
	fn     store.Handler
	cancel store.CancelFunc
	active atomic.Bool
}

// raise queues the events that turn old into cur for this subscription.
func (sub *subscription) raise(s *Store, old, cur *node) {
	if old == cur {
		return
	}
	old, cur = sub.filter.apply(old), sub.filter.apply(cur)
	if equalNode(old, cur) {
		return
	}
	deliver := func(snap *store.Snapshot, prev string) {
		s.enqueue(func() {
			if sub.active.Load() {
				sub.fn(snap, prev)
			}
		})
	}

	if sub.event == store.EventValue {
		deliver(snapshot(sub.ref, sub.ref.Key(), cur), "")
		return
	}

	oldKeys, curKeys := childKeys(old), childKeys(cur)
	oldPrev, curPrev := prevIndex(oldKeys), prevIndex(curKeys)
	child := func(n *node, key string) *store.Snapshot {
		return snapshot(sub.ref.child(key), key, n)
	}

	switch sub.event {
	case store.EventChildRemoved:
		for _, k := range oldKeys {
			if childOf(cur, k) == nil {
				deliver(child(childOf(old, k), k), oldPrev[k])
			}
		}
	case store.EventChildAdded:
		for _, k := range curKeys {
			if childOf(old, k) == nil {
				deliver(child(childOf(cur, k), k), curPrev[k])
			}
		}
	case store.EventChildChanged:
		for _, k := range curKeys {
			prior := childOf(old, k)
			if prior == nil {
				continue
			}
			if !equalNode(prior, childOf(cur, k)) {
				deliver(child(childOf(cur, k), k), curPrev[k])
			}
		}
	case store.EventChildMoved:
		for _, k := range curKeys {
			prior := childOf(old, k)
			if prior == nil {
				continue
			}
			if samePriority(prior.priority, childOf(cur, k).priority) {
				continue
			}
			if oldPrev[k] != curPrev[k] {
				deliver(child(cur.children[k], k), curPrev[k])
			}
		}
	}
}

func childOf(n *node, key string) *node {
	if n == nil || n.children == nil {
		return nil
	}
	return n.children[key]
}

func childKeys(n *node) []string {
	if n.empty() || n.value != nil {
		return nil
	}
	return n.orderedKeys()
}

func prevIndex(keys []string) map[string]string {
	m := make(map[string]string, len(keys))
	prev := ""
	for _, k := range keys {
		m[k] = prev
		prev = k
	}
	return m
}
