package splice

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/splice/store"
)

// PathSpec declares one path of a join with its flags.
type PathSpec struct {
	// Ref is the location to join: a store.Ref, a store.Query or a *Record.
	Ref store.Query

	// KeyMap declares the fields of the path. When nil the fields are
	// inferred by sampling existing records.
	KeyMap map[string]any

	// Intersects excludes records missing from this path.
	Intersects bool

	// SortBy makes this path govern the order of the joined children.
	SortBy bool
}

// Path is one store location participating in a join, with the key map
// translating its fields into the joined record.
type Path struct {
	src  store.Query
	ref  store.Ref
	keys *KeyMap

	readOnly   bool
	intersects bool
	sortBy     bool
	recordSet  bool
	dynamic    bool

	mu  sync.Mutex
	obs map[store.EventType]*observation
}

// parseSpecs validates raw specs and builds the root paths.
func parseSpecs(specs []any, intersectAll bool) ([]*Path, error) {
	if len(specs) == 0 {
		return nil, ErrNoPaths
	}
	paths := make([]*Path, 0, len(specs))
	for i, raw := range specs {
		spec, err := toSpec(raw)
		if err != nil {
			return nil, fmt.Errorf("path %d: %w", i, err)
		}
		p := newPath(spec.Ref)
		p.recordSet = true
		p.intersects = spec.Intersects || intersectAll
		p.sortBy = spec.SortBy
		if spec.KeyMap != nil {
			km, err := parseKeyMap(spec.KeyMap)
			if err != nil {
				return nil, fmt.Errorf("path %d: %w", i, err)
			}
			p.keys = km
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func toSpec(raw any) (PathSpec, error) {
	switch v := raw.(type) {
	case PathSpec:
		if v.Ref == nil || v.Ref.Ref() == nil {
			return PathSpec{}, fmt.Errorf("%w: spec without a reference", ErrInvalidPath)
		}
		return v, nil
	case *PathSpec:
		if v == nil {
			return PathSpec{}, fmt.Errorf("%w: nil spec", ErrInvalidPath)
		}
		return toSpec(*v)
	case store.Query:
		if v == nil || v.Ref() == nil {
			return PathSpec{}, fmt.Errorf("%w: nil reference", ErrInvalidPath)
		}
		return PathSpec{Ref: v}, nil
	default:
		return PathSpec{}, fmt.Errorf("%w: unsupported spec %T", ErrInvalidPath, raw)
	}
}

func newPath(src store.Query) *Path {
	return &Path{src: src, ref: src.Ref()}
}

// newForeignPath wraps the target of a dynamic field. Its data is exposed
// whole and never written.
func newForeignPath(ref store.Ref) *Path {
	p := newPath(ref)
	p.keys = primitiveKeyMap(ValueKey)
	p.readOnly = true
	return p
}

// newDynamicPath exposes the data found at base.Child(<value at keyRef>)
// as field alias.
func newDynamicPath(keyRef, base store.Ref, alias string) *Path {
	p := newPath(&indirect{key: keyRef, base: base})
	p.keys = primitiveKeyMap(alias)
	p.dynamic = true
	p.readOnly = true
	return p
}

// String returns the location of the path.
func (p *Path) String() string {
	if in, ok := p.src.(*indirect); ok {
		return in.String()
	}
	return p.ref.String()
}

// Keys returns the resolved key map, or nil before resolution.
func (p *Path) Keys() *KeyMap {
	return p.keys
}

// Intersects reports whether the path is an inner join member.
func (p *Path) Intersects() bool {
	return p.intersects
}

// ReadOnly reports whether writes through the path are skipped.
func (p *Path) ReadOnly() bool {
	return p.readOnly
}

// Dynamic reports whether the path location is resolved through a key.
func (p *Path) Dynamic() bool {
	return p.dynamic
}

// child returns the path scoped to key. On a record set key is a record
// key; on a record it is a joined field name, translated back to its source
// field.
func (p *Path) child(key string) *Path {
	if p.recordSet {
		c := newPath(p.ref.Child(key))
		c.keys = p.keys.clone()
		c.readOnly = p.readOnly
		c.intersects = p.intersects
		c.sortBy = p.sortBy
		return c
	}
	src, ok := p.keys.Source(key)
	if !ok {
		src = key
	}
	var c *Path
	dp, dyn := p.keys.Dynamic(src)
	switch {
	case src == ValueKey:
		c = newPath(p.src)
		c.readOnly = p.readOnly
		c.dynamic = p.dynamic
		c.keys = primitiveKeyMap(ValueKey)
	case dyn:
		c = newDynamicPath(p.ref.Child(src), dp.ref, ValueKey)
	default:
		c = newPath(p.ref.Child(src))
		c.keys = primitiveKeyMap(ValueKey)
	}
	c.intersects = p.intersects
	c.sortBy = p.sortBy
	return c
}

// pathData is the result of one path read, already translated through the
// key map.
type pathData struct {
	exists   bool
	priority any

	// record sets
	keys  []string
	prios map[string]any
	recs  map[string]map[string]any

	// records
	rec map[string]any
}

// load reads the path once and maps its data. Dynamic fields are resolved
// before load returns.
func (p *Path) load(ctx context.Context) (*pathData, error) {
	snap, err := p.src.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := &pathData{exists: snap.Exists(), priority: snap.Priority()}
	if !p.recordSet {
		out.rec, err = p.mapRecord(ctx, snap)
		return out, err
	}

	n := snap.NumChildren()
	out.keys = make([]string, 0, n)
	out.prios = make(map[string]any, n)
	children := make([]*store.Snapshot, 0, n)
	snap.ForEach(func(c *store.Snapshot) bool {
		out.keys = append(out.keys, c.Key())
		out.prios[c.Key()] = c.Priority()
		children = append(children, c)
		return false
	})

	mapped := make([]map[string]any, len(children))
	if len(p.keys.dynamic) == 0 {
		for i, c := range children {
			if mapped[i], err = p.mapRecord(ctx, c); err != nil {
				return nil, err
			}
		}
	} else {
		q := NewQueue(ctx)
		for i, c := range children {
			q.Go(func(ctx context.Context) error {
				m, err := p.mapRecord(ctx, c)
				mapped[i] = m
				return err
			})
		}
		if err := q.Wait(ctx); err != nil {
			return nil, err
		}
	}

	out.recs = make(map[string]map[string]any, len(children))
	for i, c := range children {
		out.recs[c.Key()] = mapped[i]
	}
	return out, nil
}

// mapRecord translates one stored record into its joined fields.
func (p *Path) mapRecord(ctx context.Context, rec *store.Snapshot) (map[string]any, error) {
	if !rec.Exists() {
		return nil, nil
	}
	if p.keys.IsPrimitive() {
		v, err := p.resolve(ctx, ValueKey, rec.Val())
		if err != nil || v == nil {
			return nil, err
		}
		alias, _ := p.keys.Alias(ValueKey)
		return map[string]any{alias: v}, nil
	}
	out := make(map[string]any, p.keys.Len())
	for _, src := range p.keys.fields {
		if src == ValueKey {
			continue
		}
		v, err := p.resolve(ctx, src, rec.Child(src).Val())
		if err != nil {
			return nil, err
		}
		if v != nil {
			out[p.keys.aliases[src]] = v
		}
	}
	return out, nil
}

// resolve replaces the value of a dynamic field with the data it points at.
func (p *Path) resolve(ctx context.Context, src string, v any) (any, error) {
	dp, ok := p.keys.Dynamic(src)
	if !ok || v == nil {
		return v, nil
	}
	key := keyString(v)
	if key == "" {
		return nil, nil
	}
	snap, err := dp.ref.Child(key).Get(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Val(), nil
}

// keyString renders a stored value as a location key.
func keyString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// writable reports whether writes reach the store, emitting the reason
// when they do not.
func (p *Path) writable(ctx context.Context, op string) bool {
	reason := ""
	switch {
	case p.dynamic:
		reason = "dynamic"
	case p.readOnly:
		reason = "read-only"
	case p.keys == nil || p.keys.Len() == 0:
		reason = "no fields"
	}
	if reason == "" {
		return true
	}
	capitan.Emit(ctx, PathWriteSkipped,
		KeyPath.Field(p.String()),
		KeyMode.Field(op),
		KeyReason.Field(reason),
	)
	return false
}

// pickAndSet writes the fields of data owned by this path, replacing the
// stored value.
func (p *Path) pickAndSet(ctx context.Context, data any, priority any) error {
	if !p.writable(ctx, "set") {
		return nil
	}
	var out any
	if p.recordSet {
		recs, ok := data.(map[string]any)
		if !ok {
			return fmt.Errorf("set %s: %w", p, ErrNotSupported)
		}
		set := make(map[string]any, len(recs))
		for k, rec := range recs {
			if v := p.keys.pick(rec); v != nil {
				set[k] = v
			}
		}
		out = set
	} else {
		out = p.keys.pick(data)
	}
	if priority != nil {
		return p.ref.SetWithPriority(ctx, out, priority)
	}
	return p.ref.Set(ctx, out)
}

// pickAndUpdate writes the fields of data owned by this path, leaving the
// others untouched.
func (p *Path) pickAndUpdate(ctx context.Context, data map[string]any) error {
	if !p.writable(ctx, "update") {
		return nil
	}
	if p.recordSet {
		out := make(map[string]any, len(data))
		for k, rec := range data {
			if v := p.keys.pick(rec); v != nil {
				out[k] = v
			}
		}
		if len(out) == 0 {
			return nil
		}
		return p.ref.Update(ctx, out)
	}
	if p.keys.IsPrimitive() {
		alias, _ := p.keys.Alias(ValueKey)
		if alias == ValueKey {
			return p.ref.Update(ctx, data)
		}
		v, ok := data[alias]
		if !ok {
			return nil
		}
		return p.ref.Set(ctx, v)
	}
	out, _ := p.keys.pick(data).(map[string]any)
	if len(out) == 0 {
		return nil
	}
	return p.ref.Update(ctx, out)
}

func (p *Path) remove(ctx context.Context) error {
	if p.dynamic {
		return nil
	}
	return p.ref.Remove(ctx)
}

func (p *Path) setPriority(ctx context.Context, priority any) error {
	if p.dynamic {
		return nil
	}
	return p.ref.SetPriority(ctx, priority)
}

// observation is the shared store subscription of one event type.
type observation struct {
	reg       store.Registration
	opening   bool
	listeners []*listener
}

type listener struct {
	fn     store.Handler
	cancel store.CancelFunc
}

// observe subscribes fn to event. One store subscription per event type is
// shared by every observer of the path and closed with the last one.
func (p *Path) observe(event store.EventType, fn store.Handler, cancel store.CancelFunc) (store.Registration, error) {
	l := &listener{fn: fn, cancel: cancel}

	p.mu.Lock()
	if p.obs == nil {
		p.obs = map[store.EventType]*observation{}
	}
	o := p.obs[event]
	first := o == nil
	if first {
		o = &observation{opening: true}
		p.obs[event] = o
	}
	o.listeners = append(o.listeners, l)
	p.mu.Unlock()

	off := store.RegistrationFunc(func() { p.unobserve(event, l) })

	if !first {
		if err := p.prime(event, l); err != nil {
			off()
			return nil, err
		}
		return off, nil
	}

	reg, err := p.src.On(event,
		func(snap *store.Snapshot, prev string) { p.dispatch(event, snap, prev) },
		func(err error) { p.cancelAll(event, err) },
	)

	p.mu.Lock()
	if err != nil {
		if p.obs[event] == o {
			delete(p.obs, event)
		}
		p.mu.Unlock()
		return nil, err
	}
	o.reg = reg
	o.opening = false
	closed := len(o.listeners) == 0 || p.obs[event] != o
	if closed && p.obs[event] == o {
		delete(p.obs, event)
	}
	p.mu.Unlock()

	if closed {
		reg.Off()
	}
	return off, nil
}

// prime replays the current state to a listener joining an open
// subscription.
func (p *Path) prime(event store.EventType, l *listener) error {
	switch event {
	case store.EventValue, store.EventChildAdded:
	default:
		return nil
	}
	snap, err := p.src.Get(context.Background())
	if err != nil {
		return err
	}
	if event == store.EventValue {
		l.fn(snap, "")
		return nil
	}
	prev := ""
	snap.ForEach(func(c *store.Snapshot) bool {
		l.fn(c, prev)
		prev = c.Key()
		return false
	})
	return nil
}

func (p *Path) unobserve(event store.EventType, l *listener) {
	p.mu.Lock()
	o := p.obs[event]
	if o == nil {
		p.mu.Unlock()
		return
	}
	for i, c := range o.listeners {
		if c == l {
			o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
			break
		}
	}
	var reg store.Registration
	if len(o.listeners) == 0 && !o.opening {
		reg = o.reg
		delete(p.obs, event)
	}
	p.mu.Unlock()

	if reg != nil {
		reg.Off()
	}
}

func (p *Path) dispatch(event store.EventType, snap *store.Snapshot, prev string) {
	p.mu.Lock()
	var ls []*listener
	if o := p.obs[event]; o != nil {
		ls = append(ls, o.listeners...)
	}
	p.mu.Unlock()

	for _, l := range ls {
		l.fn(snap, prev)
	}
}

func (p *Path) cancelAll(event store.EventType, err error) {
	p.mu.Lock()
	var ls []*listener
	if o := p.obs[event]; o != nil {
		ls = o.listeners
		delete(p.obs, event)
	}
	p.mu.Unlock()

	for _, l := range ls {
		if l.cancel != nil {
			l.cancel(err)
		}
	}
}

// indirect is the location named by the value stored at key, relative to
// base. It only supports reads and value subscriptions.
type indirect struct {
	key  store.Ref
	base store.Ref
}

var _ store.Query = (*indirect)(nil)

func (q *indirect) String() string {
	return q.key.String() + "->" + q.base.String()
}

func (q *indirect) Ref() store.Ref {
	return q.key
}

func (q *indirect) target(snap *store.Snapshot) store.Ref {
	k := keyString(snap.Val())
	if k == "" {
		return nil
	}
	return q.base.Child(k)
}

func (q *indirect) Get(ctx context.Context) (*store.Snapshot, error) {
	snap, err := q.key.Get(ctx)
	if err != nil {
		return nil, err
	}
	target := q.target(snap)
	if target == nil {
		return store.Empty(q.key, q.key.Key()), nil
	}
	return target.Get(ctx)
}

// On follows the key: every change of the stored key moves the
// subscription to the new target, which delivers its current value.
func (q *indirect) On(event store.EventType, fn store.Handler, cancel store.CancelFunc) (store.Registration, error) {
	if event != store.EventValue {
		return nil, fmt.Errorf("%s: %s: %w", q, event, ErrNotSupported)
	}
	w := &indirectWatch{q: q, fn: fn, cancel: cancel}
	reg, err := q.key.On(store.EventValue, w.repoint, cancel)
	if err != nil {
		return nil, err
	}
	return store.RegistrationFunc(func() {
		reg.Off()
		w.close()
	}), nil
}

func (q *indirect) Limit(int) (store.Query, error) {
	return nil, fmt.Errorf("%s: limit: %w", q, ErrNotSupported)
}

func (q *indirect) StartAt(any, string) (store.Query, error) {
	return nil, fmt.Errorf("%s: start at: %w", q, ErrNotSupported)
}

func (q *indirect) EndAt(any, string) (store.Query, error) {
	return nil, fmt.Errorf("%s: end at: %w", q, ErrNotSupported)
}

type indirectWatch struct {
	q      *indirect
	fn     store.Handler
	cancel store.CancelFunc

	mu     sync.Mutex
	seq    uint64
	target string
	inner  store.Registration
	closed bool
}

func (w *indirectWatch) repoint(snap *store.Snapshot, _ string) {
	target := w.q.target(snap)
	name := ""
	if target != nil {
		name = target.String()
	}

	w.mu.Lock()
	if w.closed || (w.seq > 0 && name == w.target) {
		w.mu.Unlock()
		return
	}
	w.seq++
	seq := w.seq
	old := w.inner
	w.inner = nil
	w.target = name
	w.mu.Unlock()

	if old != nil {
		old.Off()
	}
	if target == nil {
		w.fn(store.Empty(w.q.key, w.q.key.Key()), "")
		return
	}

	reg, err := target.On(store.EventValue, w.fn, w.cancel)
	if err != nil {
		if w.cancel != nil {
			w.cancel(err)
		}
		return
	}
	w.mu.Lock()
	stale := w.closed || w.seq != seq
	if !stale {
		w.inner = reg
	}
	w.mu.Unlock()
	if stale {
		reg.Off()
	}
}

func (w *indirectWatch) close() {
	w.mu.Lock()
	w.closed = true
	inner := w.inner
	w.inner = nil
	w.mu.Unlock()
	if inner != nil {
		inner.Off()
	}
}
