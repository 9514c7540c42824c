package memory

import (
	"context"
	"fmt"

	"github.com/zoobzio/splice/store"
)

// Ref is a location in a Store.
type Ref struct {
	s    *Store
	segs []string
	err  error
}

var (
	_ store.Ref   = (*Ref)(nil)
	_ store.Query = (*Query)(nil)
)

func (r *Ref) child(key string) *Ref {
	segs := make([]string, len(r.segs), len(r.segs)+1)
	copy(segs, r.segs)
	return &Ref{s: r.s, segs: append(segs, key), err: r.err}
}

// Key returns the last path segment.
func (r *Ref) Key() string {
	if len(r.segs) == 0 {
		return ""
	}
	return r.segs[len(r.segs)-1]
}

// String returns the absolute location.
func (r *Ref) String() string {
	return store.JoinPath(r.segs...)
}

// Ref returns r.
func (r *Ref) Ref() store.Ref {
	return r
}

// Child returns the location at a relative path.
func (r *Ref) Child(path string) store.Ref {
	segs, err := store.SplitPath(path)
	if err != nil {
		return &Ref{s: r.s, segs: r.segs, err: err}
	}
	out := make([]string, 0, len(r.segs)+len(segs))
	out = append(out, r.segs...)
	return &Ref{s: r.s, segs: append(out, segs...), err: r.err}
}

// Parent returns the enclosing location, or nil at the root.
func (r *Ref) Parent() store.Ref {
	if len(r.segs) == 0 {
		return nil
	}
	return &Ref{s: r.s, segs: r.segs[:len(r.segs)-1:len(r.segs)-1], err: r.err}
}

// Root returns the root location.
func (r *Ref) Root() store.Ref {
	return r.s.Root()
}

// Get reads the current value.
func (r *Ref) Get(ctx context.Context) (*store.Snapshot, error) {
	return r.s.get(ctx, r, filter{})
}

// On subscribes to event at this location.
func (r *Ref) On(event store.EventType, fn store.Handler, cancel store.CancelFunc) (store.Registration, error) {
	return r.s.on(r, filter{}, event, fn, cancel)
}

// Limit returns a query over the last n children.
func (r *Ref) Limit(n int) (store.Query, error) {
	return (&Query{ref: r}).Limit(n)
}

// StartAt returns a query over children ordered at or after priority/key.
func (r *Ref) StartAt(priority any, key string) (store.Query, error) {
	return (&Query{ref: r}).StartAt(priority, key)
}

// EndAt returns a query over children ordered at or before priority/key.
func (r *Ref) EndAt(priority any, key string) (store.Query, error) {
	return (&Query{ref: r}).EndAt(priority, key)
}

// Set replaces the value at this location.
func (r *Ref) Set(ctx context.Context, value any) error {
	return r.set(ctx, value, nil)
}

// SetWithPriority replaces the value and priority at this location.
func (r *Ref) SetWithPriority(ctx context.Context, value any, priority any) error {
	return r.set(ctx, value, priority)
}

func (r *Ref) set(ctx context.Context, value any, priority any) error {
	if r.err != nil {
		return r.err
	}
	v, err := store.Normalize(value)
	if err != nil {
		return err
	}
	n := build(v, priority)
	return r.s.mutate(ctx, r.segs, func(root *node) *node {
		return replace(root, r.segs, n)
	})
}

// SetPriority changes the priority of existing data. Missing data is left
// untouched.
func (r *Ref) SetPriority(ctx context.Context, priority any) error {
	if r.err != nil {
		return r.err
	}
	return r.s.mutate(ctx, r.segs, func(root *node) *node {
		cur := lookup(root, r.segs)
		if cur.empty() {
			return root
		}
		cp := *cur
		cp.priority = priority
		return replace(root, r.segs, &cp)
	})
}

// Update replaces the children named in values. Keys may be relative paths.
func (r *Ref) Update(ctx context.Context, values map[string]any) error {
	if r.err != nil {
		return r.err
	}
	type entry struct {
		segs []string
		n    *node
	}
	entries := make([]entry, 0, len(values))
	for _, k := range store.SortedKeys(values) {
		segs, err := store.SplitPath(k)
		if err != nil {
			return err
		}
		v, err := store.Normalize(values[k])
		if err != nil {
			return err
		}
		full := make([]string, 0, len(r.segs)+len(segs))
		full = append(append(full, r.segs...), segs...)
		entries = append(entries, entry{segs: full, n: build(v, nil)})
	}
	return r.s.mutate(ctx, r.segs, func(root *node) *node {
		for _, e := range entries {
			root = replace(root, e.segs, e.n)
		}
		return root
	})
}

// Remove deletes the value at this location.
func (r *Ref) Remove(ctx context.Context) error {
	if r.err != nil {
		return r.err
	}
	return r.s.mutate(ctx, r.segs, func(root *node) *node {
		return replace(root, r.segs, nil)
	})
}

// Push creates a child with a generated key and writes value to it when
// value is not nil.
func (r *Ref) Push(ctx context.Context, value any) (store.Ref, error) {
	if r.err != nil {
		return nil, r.err
	}
	child := r.child(r.s.newKey())
	if value == nil {
		return child, nil
	}
	if err := child.Set(ctx, value); err != nil {
		return nil, err
	}
	return child, nil
}

// Transaction atomically replaces the value with the result of fn. fn runs
// with the store locked and must not call back into the store.
func (r *Ref) Transaction(ctx context.Context, fn func(current any) (any, bool)) (bool, *store.Snapshot, error) {
	if r.err != nil {
		return false, nil, r.err
	}
	var (
		committed bool
		fnErr     error
		result    *node
	)
	err := r.s.mutate(ctx, r.segs, func(root *node) *node {
		cur := lookup(root, r.segs)
		next, ok := fn(store.Clone(cur.val()))
		if !ok {
			result = cur
			return root
		}
		v, err := store.Normalize(next)
		if err != nil {
			fnErr = err
			result = cur
			return root
		}
		committed = true
		result = build(v, nil)
		return replace(root, r.segs, result)
	})
	if err != nil {
		return false, nil, err
	}
	if fnErr != nil {
		return false, nil, fnErr
	}
	return committed, snapshot(r, r.Key(), result), nil
}

// OnDisconnect is not available: the memory store has no connection.
func (r *Ref) OnDisconnect() (store.Disconnect, error) {
	return nil, fmt.Errorf("memory: on disconnect: %w", store.ErrNotSupported)
}

// Query is a filtered, ordered view of a Ref's children.
type Query struct {
	ref *Ref
	f   filter
}

// Ref returns the location the query reads from.
func (q *Query) Ref() store.Ref {
	return q.ref
}

// Get reads the filtered value once.
func (q *Query) Get(ctx context.Context) (*store.Snapshot, error) {
	return q.ref.s.get(ctx, q.ref, q.f)
}

// On subscribes to event on the filtered view.
func (q *Query) On(event store.EventType, fn store.Handler, cancel store.CancelFunc) (store.Registration, error) {
	return q.ref.s.on(q.ref, q.f, event, fn, cancel)
}

// Limit keeps at most n children.
func (q *Query) Limit(n int) (store.Query, error) {
	if n <= 0 {
		return nil, fmt.Errorf("memory: limit must be positive, got %d", n)
	}
	cp := *q
	cp.f.limit = n
	return &cp, nil
}

// StartAt keeps children ordered at or after priority/key.
func (q *Query) StartAt(priority any, key string) (store.Query, error) {
	cp := *q
	cp.f.start = &bound{priority: priority, key: key}
	return &cp, nil
}

// EndAt keeps children ordered at or before priority/key.
func (q *Query) EndAt(priority any, key string) (store.Query, error) {
	cp := *q
	cp.f.end = &bound{priority: priority, key: key}
	return &cp, nil
}

type bound struct {
	priority any
	key      string
}

// compare orders a child against the bound. An empty bound key compares on
// priority alone.
func (b *bound) compare(priority any, key string) int {
	c := store.ComparePriority(priority, b.priority)
	if c != 0 || b.key == "" {
		return c
	}
	return store.CompareKeys(key, b.key)
}

type filter struct {
	limit int
	start *bound
	end   *bound
}

func (f filter) zero() bool {
	return f.limit == 0 && f.start == nil && f.end == nil
}

// apply returns the view of n selected by the filter. Selected children keep
// their identity.
func (f filter) apply(n *node) *node {
	if f.zero() || n.empty() || n.value != nil {
		return n
	}
	keys := n.orderedKeys()
	kept := keys[:0:0]
	for _, k := range keys {
		c := n.children[k]
		if f.start != nil && f.start.compare(c.priority, k) < 0 {
			continue
		}
		if f.end != nil && f.end.compare(c.priority, k) > 0 {
			continue
		}
		kept = append(kept, k)
	}
	if f.limit > 0 && len(kept) > f.limit {
		if f.start != nil && f.end == nil {
			kept = kept[:f.limit]
		} else {
			kept = kept[len(kept)-f.limit:]
		}
	}
	if len(kept) == 0 {
		return nil
	}
	out := &node{priority: n.priority, children: make(map[string]*node, len(kept))}
	for _, k := range kept {
		out.children[k] = n.children[k]
	}
	return out
}
