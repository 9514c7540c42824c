package splice

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/splice/store"
	"golang.org/x/sync/singleflight"
)

// Record is the merged, live view over one or more paths. It implements
// store.Ref so it can stand in for a plain store location, including as a
// path of another join.
//
// A root record, returned by Join or Intersect, merges record sets into a
// collection. Records reached through Child merge single records of the
// same paths.
type Record struct {
	id         string
	cfg        *config
	parent     *Record
	key        string
	paths      []*Path
	collection bool

	state        atomic.Int32
	set          atomic.Pointer[pathSet]
	ready        chan struct{}
	err          error
	lastError    atomic.Pointer[error]
	errorHistory *errorRing

	flight singleflight.Group
	events dispatcher

	mu        sync.Mutex
	observers map[store.EventType][]*observer
	listening bool
	priming   bool
	fresh     bool
	loaded    bool
	session   uint64
	gen       uint64
	regs      []store.Registration
	dirty     map[string]struct{}
	dirtyAll  bool

	// collection cache
	order   []string
	vals    map[string]any
	prios   map[string]any
	hints   map[string]string
	applied map[string]uint64

	// record cache
	value      any
	priority   any
	appliedGen uint64

	children map[string]*Record
	follows  map[string]*follow
}

var _ store.Ref = (*Record)(nil)

func newRecord(cfg *config, parent *Record, key string) *Record {
	r := &Record{
		id:           uuid.NewString(),
		cfg:          cfg,
		parent:       parent,
		key:          key,
		ready:        make(chan struct{}),
		errorHistory: newErrorRing(cfg.errorHistory),
		observers:    map[store.EventType][]*observer{},
		children:     map[string]*Record{},
		follows:      map[string]*follow{},
	}
	r.resetCache()
	r.state.Store(int32(StateConstructing))
	return r
}

func newRootRecord(cfg *config, paths []*Path) *Record {
	r := newRecord(cfg, nil, "")
	r.paths = paths
	r.collection = true
	capitan.Emit(context.Background(), RecordCreated,
		KeyRecord.Field(r.id),
		KeyLocation.Field(r.String()),
		KeyMode.Field(r.mode()),
	)
	r.construct(func(ctx context.Context) (*pathSet, []error, error) {
		return loadPaths(ctx, cfg, paths)
	})
	return r
}

func newChildRecord(parent *Record, key string) *Record {
	return newRecord(parent.cfg, parent, key)
}

// newFailedRecord stands in for a location that cannot be joined.
func newFailedRecord(parent *Record, key string, err error) *Record {
	r := newRecord(parent.cfg, parent, key)
	r.fail(context.Background(), err)
	return r
}

// construct resolves the paths of the record, inline in sync mode.
func (r *Record) construct(load func(ctx context.Context) (*pathSet, []error, error)) {
	run := func() {
		ctx := context.Background()
		set, errs, err := load(ctx)
		for _, e := range errs {
			if e != err {
				r.errorHistory.push(e)
			}
		}
		if err != nil {
			r.fail(ctx, err)
			return
		}
		r.set.Store(set)
		r.transitionState(ctx, StateReady)
		close(r.ready)
	}
	if r.cfg.syncMode {
		run()
		return
	}
	go run()
}

func (r *Record) fail(ctx context.Context, err error) {
	r.err = err
	r.setError(err)
	r.transitionState(ctx, StateFailed)
	close(r.ready)
}

func (r *Record) transitionState(ctx context.Context, to State) {
	from := State(r.state.Swap(int32(to)))
	if from == to {
		return
	}
	errText := ""
	if r.err != nil {
		errText = r.err.Error()
	}
	capitan.Emit(ctx, RecordStateChanged,
		KeyRecord.Field(r.id),
		KeyLocation.Field(r.String()),
		KeyOldState.Field(from.String()),
		KeyNewState.Field(to.String()),
		KeyError.Field(errText),
	)
	r.cfg.metrics.OnStateChange(from, to)
}

func (r *Record) setError(err error) {
	r.lastError.Store(&err)
	r.errorHistory.push(err)
}

func (r *Record) mode() string {
	if r.collection {
		return "collection"
	}
	return "record"
}

// run executes fn inline in sync mode and on its own goroutine otherwise.
func (r *Record) run(fn func()) {
	if r.cfg.syncMode {
		fn()
		return
	}
	go fn()
}

// ID returns the unique id of this record instance, as reported in signals.
func (r *Record) ID() string {
	return r.id
}

// State returns the construction state.
func (r *Record) State() State {
	return State(r.state.Load())
}

// Ready blocks until the record finished constructing and returns the
// construction error, if any.
func (r *Record) Ready(ctx context.Context) error {
	select {
	case <-r.ready:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastError returns the most recent error, or nil.
func (r *Record) LastError() error {
	ptr := r.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// ErrorHistory returns the recent error history, oldest first.
// Returns nil if error history is not enabled (see WithErrorHistory).
func (r *Record) ErrorHistory() []error {
	return r.errorHistory.all()
}

// Paths returns the resolved paths, or nil before the record is ready.
func (r *Record) Paths() []*Path {
	set := r.set.Load()
	if set == nil {
		return nil
	}
	out := make([]*Path, len(set.paths))
	copy(out, set.paths)
	return out
}

// anchor is the store location the record hangs from: its sort path once
// resolved, the first declared path before.
func (r *Record) anchor() store.Ref {
	if r.parent != nil {
		return r.parent.anchor()
	}
	if set := r.set.Load(); set != nil {
		return set.sortPath().ref
	}
	return r.paths[0].ref
}

// Ref returns r.
func (r *Record) Ref() store.Ref {
	return r
}

// Key returns the child key, or the key of the sort path for a root join.
func (r *Record) Key() string {
	if r.parent != nil {
		return r.key
	}
	return r.anchor().Key()
}

// String lists the joined locations, for example "[/users/account,/users/profile]/kato".
func (r *Record) String() string {
	if r.parent != nil {
		return r.parent.String() + "/" + r.key
	}
	names := make([]string, len(r.paths))
	for i, p := range r.paths {
		names[i] = p.String()
	}
	return "[" + strings.Join(names, ",") + "]"
}

// Parent returns the enclosing record, or the parent location of the sort
// path for a root join.
func (r *Record) Parent() store.Ref {
	if r.parent != nil {
		return r.parent
	}
	return r.anchor().Parent()
}

// Root returns the root of the store.
func (r *Record) Root() store.Ref {
	return r.anchor().Root()
}

// Child returns the joined record at a relative path.
func (r *Record) Child(path string) store.Ref {
	segs, err := store.SplitPath(path)
	if err != nil {
		return newFailedRecord(r, path, err)
	}
	cur := r
	for _, s := range segs {
		cur = cur.ChildRecord(s)
	}
	return cur
}

// ChildRecord returns the joined record of key. Children are kept while r
// or the child itself is observed; otherwise every call materializes a new
// one.
func (r *Record) ChildRecord(key string) *Record {
	r.mu.Lock()
	if c, ok := r.children[key]; ok {
		r.mu.Unlock()
		return c
	}
	c := newChildRecord(r, key)
	if r.listening {
		r.children[key] = c
	}
	r.mu.Unlock()

	c.construct(func(ctx context.Context) (*pathSet, []error, error) {
		if err := r.Ready(ctx); err != nil {
			return nil, nil, err
		}
		return descend(ctx, r.set.Load(), key), nil, nil
	})
	return c
}

// adopt keeps an observed child reachable through ChildRecord.
func (r *Record) adopt(c *Record) {
	r.mu.Lock()
	if _, ok := r.children[c.key]; !ok {
		r.children[c.key] = c
	}
	r.mu.Unlock()
}

// release drops a child whose last observer left, unless r is observing.
func (r *Record) release(c *Record) {
	r.mu.Lock()
	if !r.listening && r.children[c.key] == c {
		delete(r.children, c.key)
	}
	r.mu.Unlock()
}

// observedChildren returns the children that still have observers. Callers
// hold r.mu.
func (r *Record) observedChildren() map[string]*Record {
	out := map[string]*Record{}
	for k, c := range r.children {
		if c.Observing() {
			out[k] = c
		}
	}
	return out
}

// Get builds the merged value once. While observed, the live cache answers
// directly. Concurrent callers share one in-flight build.
func (r *Record) Get(ctx context.Context) (*store.Snapshot, error) {
	if err := r.Ready(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.listening && r.fresh {
		snap := r.snapshotOf(r.cached())
		r.mu.Unlock()
		return snap, nil
	}
	r.mu.Unlock()

	ch := r.flight.DoChan("get", func() (any, error) {
		return r.build(context.WithoutCancel(ctx), r.set.Load())
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return r.snapshotOf(res.Val.(*merged)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Once waits for the next delivery of event. A value is read through Get.
func (r *Record) Once(ctx context.Context, event store.EventType) (*store.Snapshot, string, error) {
	if event == store.EventValue {
		snap, err := r.Get(ctx)
		return snap, "", err
	}

	type delivery struct {
		snap *store.Snapshot
		prev string
	}
	got := make(chan delivery, 1)
	failed := make(chan error, 1)
	var once sync.Once
	reg, err := r.On(event, func(snap *store.Snapshot, prev string) {
		once.Do(func() { got <- delivery{snap: snap, prev: prev} })
	}, func(err error) {
		select {
		case failed <- err:
		default:
		}
	})
	if err != nil {
		return nil, "", err
	}
	defer reg.Off()

	select {
	case d := <-got:
		return d.snap, d.prev, nil
	case err := <-failed:
		return nil, "", err
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

// build runs the snapshot builder over set, reporting timing.
func (r *Record) build(ctx context.Context, set *pathSet) (*merged, error) {
	mode := "record"
	if set.collection {
		mode = "collection"
	}
	start := r.cfg.clock.Now()
	m, err := build(ctx, set)
	elapsed := r.cfg.clock.Since(start)
	if err != nil {
		capitan.Emit(ctx, SnapshotFailed,
			KeyRecord.Field(r.id),
			KeyLocation.Field(r.String()),
			KeyMode.Field(mode),
			KeyError.Field(err.Error()),
		)
		r.cfg.metrics.OnBuildFailure(mode, elapsed)
		return nil, err
	}
	capitan.Emit(ctx, SnapshotBuilt,
		KeyRecord.Field(r.id),
		KeyLocation.Field(r.String()),
		KeyMode.Field(mode),
		KeyDuration.Field(elapsed),
	)
	r.cfg.metrics.OnBuildSuccess(mode, elapsed)
	return m, nil
}

// snapshotOf renders a merged value rooted at r.
func (r *Record) snapshotOf(m *merged) *store.Snapshot {
	if !r.collection {
		return store.NewSnapshot(r, r.Key(), m.value, m.priority)
	}
	children := make([]*store.Snapshot, 0, len(m.order))
	for _, k := range m.order {
		children = append(children, store.NewSnapshot(nil, k, m.vals[k], m.prios[k]))
	}
	return store.Branch(r, r.Key(), nil, children)
}

// childSnapshot renders one child of r, resolving its ref through r.
func (r *Record) childSnapshot(key string, value, priority any) *store.Snapshot {
	c := store.NewSnapshot(nil, key, value, priority)
	store.Branch(r, r.Key(), nil, []*store.Snapshot{c})
	return c
}

// Limit is not supported: apply it to a path before joining.
func (r *Record) Limit(int) (store.Query, error) {
	return nil, r.unsupported("limit")
}

// StartAt is not supported: apply it to a path before joining.
func (r *Record) StartAt(any, string) (store.Query, error) {
	return nil, r.unsupported("start at")
}

// EndAt is not supported: apply it to a path before joining.
func (r *Record) EndAt(any, string) (store.Query, error) {
	return nil, r.unsupported("end at")
}

// Transaction is not supported on joined records.
func (r *Record) Transaction(context.Context, func(any) (any, bool)) (bool, *store.Snapshot, error) {
	return false, nil, r.unsupported("transaction")
}

// OnDisconnect is not supported on joined records.
func (r *Record) OnDisconnect() (store.Disconnect, error) {
	return nil, r.unsupported("on disconnect")
}

func (r *Record) unsupported(op string) error {
	return fmt.Errorf("%s %s: %w", op, r, ErrNotSupported)
}
