package splice

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/splice/store"
)

type observer struct {
	event  store.EventType
	fn     store.Handler
	cancel store.CancelFunc
	active atomic.Bool
}

// On subscribes fn to event on the merged record. The first observer loads
// the merged value and opens the path subscriptions; later observers
// receive the cached state first. cancel runs once if the record aborts.
func (r *Record) On(event store.EventType, fn store.Handler, cancel store.CancelFunc) (store.Registration, error) {
	if !event.Valid() {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidEvent, event)
	}
	if r.State() == StateFailed {
		return nil, r.err
	}

	ob := &observer{event: event, fn: fn, cancel: cancel}
	ob.active.Store(true)

	r.mu.Lock()
	r.observers[event] = append(r.observers[event], ob)
	start := !r.listening
	if start {
		r.listening = true
		r.session++
	}
	session := r.session
	if r.loaded {
		r.replay(ob)
	}
	r.mu.Unlock()
	r.events.drain()

	if start {
		if r.parent != nil {
			r.parent.adopt(r)
		}
		r.run(func() { r.listen(session) })
	}
	return store.RegistrationFunc(func() { r.off(ob) }), nil
}

// Observing reports whether the record holds path subscriptions.
func (r *Record) Observing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listening
}

func (r *Record) off(ob *observer) {
	r.mu.Lock()
	if !ob.active.Swap(false) {
		r.mu.Unlock()
		return
	}
	obs := r.observers[ob.event]
	for i, o := range obs {
		if o == ob {
			r.observers[ob.event] = append(obs[:i:i], obs[i+1:]...)
			break
		}
	}
	if r.observerCount() > 0 || !r.listening {
		r.mu.Unlock()
		return
	}

	// Last observer gone: release subscriptions and idle children. The
	// cache stays as a warm copy replayed to the next observer, then
	// revalidated.
	r.listening = false
	r.priming = false
	r.fresh = false
	r.session++
	regs := append(r.regs, r.unfollowAll()...)
	r.regs = nil
	r.dirty = map[string]struct{}{}
	r.dirtyAll = false
	r.children = r.observedChildren()
	r.mu.Unlock()

	for _, reg := range regs {
		reg.Off()
	}
	if r.parent != nil {
		r.parent.release(r)
	}
	capitan.Emit(context.Background(), RecordIdle,
		KeyRecord.Field(r.id),
		KeyLocation.Field(r.String()),
	)
}

func (r *Record) observerCount() int {
	n := 0
	for _, obs := range r.observers {
		n += len(obs)
	}
	return n
}

func (r *Record) resetCache() {
	r.order = nil
	r.vals = map[string]any{}
	r.prios = map[string]any{}
	r.hints = map[string]string{}
	r.applied = map[string]uint64{}
	r.dirty = map[string]struct{}{}
	r.dirtyAll = false
	r.value = nil
	r.priority = nil
	r.appliedGen = 0
	r.loaded = false
	r.fresh = false
}

func (r *Record) nextGen() uint64 {
	r.gen++
	return r.gen
}

// listen opens the path subscriptions of a session, then loads the full
// merged value. Events delivered while subscribing describe state the full
// load reads anyway and are ignored.
func (r *Record) listen(session uint64) {
	ctx := context.Background()
	if err := r.Ready(ctx); err != nil {
		r.abort(session, err)
		return
	}
	set := r.set.Load()

	r.mu.Lock()
	if r.session != session {
		r.mu.Unlock()
		return
	}
	r.priming = true
	r.mu.Unlock()

	regs, err := r.subscribe(set, session)

	r.mu.Lock()
	r.priming = false
	if r.session != session {
		r.mu.Unlock()
		for _, reg := range regs {
			reg.Off()
		}
		return
	}
	r.regs = append(r.regs, regs...)
	gen := r.nextGen()
	r.mu.Unlock()

	if err != nil {
		r.abort(session, err)
		return
	}
	capitan.Emit(ctx, RecordObserving,
		KeyRecord.Field(r.id),
		KeyLocation.Field(r.String()),
		KeyMode.Field(r.mode()),
	)

	m, err := r.build(ctx, set)
	if err != nil {
		r.abort(session, err)
		return
	}

	r.mu.Lock()
	if r.session != session {
		r.mu.Unlock()
		return
	}
	force := !r.loaded
	if r.collection {
		r.replaceAll(gen, m, force)
	} else {
		r.applyRecord(gen, m, force)
	}
	r.loaded = true
	r.fresh = true
	dirty := r.dirty
	dirtyAll := r.dirtyAll
	r.dirty = map[string]struct{}{}
	r.dirtyAll = false
	keys := make([]string, 0, len(dirty))
	gens := make([]uint64, 0, len(dirty))
	for _, k := range store.SortedKeys(dirty) {
		keys = append(keys, k)
		gens = append(gens, r.nextGen())
	}
	var recordGen uint64
	if dirtyAll {
		recordGen = r.nextGen()
	}
	r.mu.Unlock()
	r.events.drain()
	r.follow(session)

	for i, k := range keys {
		r.run(func() { r.rebuildKey(session, k, gens[i]) })
	}
	if dirtyAll {
		r.run(func() { r.rebuildRecord(session, recordGen) })
	}
}

// subscribe opens the path subscriptions: child events of every path for a
// collection (moves only from the sort path), value events for a record.
func (r *Record) subscribe(set *pathSet, session uint64) ([]store.Registration, error) {
	var regs []store.Registration
	cancel := func(err error) { r.abort(session, err) }
	for i, p := range set.paths {
		var events []store.EventType
		if set.collection {
			events = []store.EventType{store.EventChildAdded, store.EventChildChanged, store.EventChildRemoved}
			if i == set.sort {
				events = append(events, store.EventChildMoved)
			}
		} else {
			events = []store.EventType{store.EventValue}
		}
		for _, ev := range events {
			reg, err := p.observe(ev, r.pathHandler(session, i, ev), cancel)
			if err != nil {
				return regs, err
			}
			regs = append(regs, reg)
		}
	}
	return regs, nil
}

func (r *Record) pathHandler(session uint64, slot int, event store.EventType) store.Handler {
	if !r.collection {
		return func(*store.Snapshot, string) { r.onValue(session) }
	}
	return func(snap *store.Snapshot, prev string) {
		r.onChild(session, slot, event, snap, prev)
	}
}

// onChild schedules a build of the changed key. The sort path also supplies
// the position of the key.
func (r *Record) onChild(session uint64, slot int, event store.EventType, snap *store.Snapshot, prev string) {
	key := snap.Key()

	r.mu.Lock()
	if r.session != session {
		r.mu.Unlock()
		return
	}
	if slot == r.set.Load().sort {
		if event == store.EventChildRemoved {
			delete(r.hints, key)
		} else {
			r.hints[key] = prev
		}
	}
	if r.priming {
		r.mu.Unlock()
		return
	}
	if !r.fresh {
		r.dirty[key] = struct{}{}
		r.mu.Unlock()
		return
	}
	if event == store.EventChildMoved {
		r.moveKey(key, snap.Priority())
		r.mu.Unlock()
		r.events.drain()
		return
	}
	gen := r.nextGen()
	r.mu.Unlock()

	r.run(func() { r.rebuildKey(session, key, gen) })
}

func (r *Record) onValue(session uint64) {
	r.mu.Lock()
	if r.session != session || r.priming {
		r.mu.Unlock()
		return
	}
	if !r.fresh {
		r.dirtyAll = true
		r.mu.Unlock()
		return
	}
	gen := r.nextGen()
	r.mu.Unlock()

	r.run(func() { r.rebuildRecord(session, gen) })
}

func (r *Record) rebuildKey(session uint64, key string, gen uint64) {
	ctx := context.Background()
	m, err := r.build(ctx, descend(ctx, r.set.Load(), key))

	r.mu.Lock()
	if r.session != session {
		r.mu.Unlock()
		return
	}
	if err != nil {
		r.mu.Unlock()
		r.abort(session, err)
		return
	}
	r.applyKey(key, gen, m.value, m.priority)
	r.mu.Unlock()
	r.events.drain()
	r.follow(session)
}

func (r *Record) rebuildRecord(session uint64, gen uint64) {
	ctx := context.Background()
	m, err := r.build(ctx, r.set.Load())

	r.mu.Lock()
	if r.session != session {
		r.mu.Unlock()
		return
	}
	if err != nil {
		r.mu.Unlock()
		r.abort(session, err)
		return
	}
	r.applyRecord(gen, m, false)
	r.mu.Unlock()
	r.events.drain()
}

// stale reports and signals a build older than the last one applied.
func (r *Record) stale(key string, gen, applied uint64) bool {
	if gen >= applied {
		return false
	}
	capitan.Emit(context.Background(), SnapshotDiscarded,
		KeyRecord.Field(r.id),
		KeyLocation.Field(r.String()),
		KeyField.Field(key),
	)
	return true
}

// applyKey folds a rebuilt child into the collection cache and emits the
// resulting events. Callers hold r.mu.
func (r *Record) applyKey(key string, gen uint64, value, priority any) {
	if r.stale(key, gen, r.applied[key]) {
		return
	}
	r.applied[key] = gen

	old, had := r.vals[key]
	switch {
	case value == nil && !had:
		return
	case value == nil:
		prev := r.prevOf(key)
		oldPriority := r.prios[key]
		r.removeKey(key)
		r.emit(store.EventChildRemoved, r.childSnapshot(key, old, oldPriority), prev)
	case !had:
		r.vals[key] = value
		r.prios[key] = priority
		hint, ok := r.position(key)
		r.insertKey(key, hint, ok)
		r.emit(store.EventChildAdded, r.childSnapshot(key, value, priority), r.prevOf(key))
	default:
		if store.Equal(old, value) && samePriority(r.prios[key], priority) {
			return
		}
		r.vals[key] = value
		r.prios[key] = priority
		r.emit(store.EventChildChanged, r.childSnapshot(key, value, priority), r.prevOf(key))
		if hint, ok := r.position(key); ok && r.canMoveAfter(key, hint) {
			r.moveAfter(key, hint)
			r.emit(store.EventChildMoved, r.childSnapshot(key, value, priority), hint)
		}
	}
	r.emitValue()
}

// moveKey repositions key after the sort path reported a move. Callers hold
// r.mu.
func (r *Record) moveKey(key string, priority any) {
	value, ok := r.vals[key]
	if !ok {
		return
	}
	r.prios[key] = priority
	hint, ok := r.position(key)
	if !ok || !r.canMoveAfter(key, hint) {
		return
	}
	r.moveAfter(key, hint)
	r.emit(store.EventChildMoved, r.childSnapshot(key, value, priority), hint)
	r.emitValue()
}

// replaceAll diffs a full collection build against the cache. Keys rebuilt
// more recently than gen keep their cached state. Callers hold r.mu.
func (r *Record) replaceAll(gen uint64, m *merged, force bool) {
	changed := false

	for _, k := range append([]string(nil), r.order...) {
		if _, ok := m.vals[k]; ok || r.applied[k] > gen {
			continue
		}
		r.applied[k] = gen
		prev := r.prevOf(k)
		old, oldPriority := r.vals[k], r.prios[k]
		r.removeKey(k)
		r.emit(store.EventChildRemoved, r.childSnapshot(k, old, oldPriority), prev)
		changed = true
	}

	for i, k := range m.order {
		if r.applied[k] > gen {
			continue
		}
		r.applied[k] = gen
		value, priority := m.vals[k], m.prios[k]

		after := ""
		for j := i - 1; j >= 0; j-- {
			if _, ok := r.vals[m.order[j]]; ok {
				after = m.order[j]
				break
			}
		}

		old, had := r.vals[k]
		if !had {
			r.vals[k] = value
			r.prios[k] = priority
			r.insertKey(k, after, true)
			r.emit(store.EventChildAdded, r.childSnapshot(k, value, priority), after)
			changed = true
			continue
		}
		moved := r.prevOf(k) != after
		if moved {
			r.moveAfter(k, after)
		}
		if !store.Equal(old, value) || !samePriority(r.prios[k], priority) {
			r.vals[k] = value
			r.prios[k] = priority
			r.emit(store.EventChildChanged, r.childSnapshot(k, value, priority), after)
			changed = true
		}
		if moved {
			r.emit(store.EventChildMoved, r.childSnapshot(k, value, priority), after)
			changed = true
		}
	}

	if changed || force {
		r.emitValue()
	}
}

// applyRecord diffs a rebuilt record against the cache, emitting an event
// per changed field and the new value. Callers hold r.mu.
func (r *Record) applyRecord(gen uint64, m *merged, force bool) {
	if r.stale("", gen, r.appliedGen) {
		return
	}
	r.appliedGen = gen
	if !force && store.Equal(r.value, m.value) && samePriority(r.priority, m.priority) {
		return
	}
	old := r.value
	r.value, r.priority = m.value, m.priority

	oldObj, _ := old.(map[string]any)
	newObj, _ := m.value.(map[string]any)
	oldKeys := store.SortedKeys(oldObj)
	newKeys := store.SortedKeys(newObj)

	prev := ""
	for _, k := range oldKeys {
		if _, ok := newObj[k]; !ok {
			r.emit(store.EventChildRemoved, r.childSnapshot(k, oldObj[k], nil), prev)
		}
		prev = k
	}
	prev = ""
	for _, k := range newKeys {
		ov, had := oldObj[k]
		switch {
		case !had:
			r.emit(store.EventChildAdded, r.childSnapshot(k, newObj[k], nil), prev)
		case !store.Equal(ov, newObj[k]):
			r.emit(store.EventChildChanged, r.childSnapshot(k, newObj[k], nil), prev)
		}
		prev = k
	}
	r.emitValue()
}

// abort cancels every observer with err and drops all cached state.
func (r *Record) abort(session uint64, err error) {
	r.mu.Lock()
	if r.session != session {
		r.mu.Unlock()
		return
	}
	var cancelled []*observer
	for _, obs := range r.observers {
		cancelled = append(cancelled, obs...)
	}
	r.observers = map[store.EventType][]*observer{}
	r.listening = false
	r.priming = false
	r.session++
	regs := append(r.regs, r.unfollowAll()...)
	r.regs = nil
	r.children = r.observedChildren()
	r.resetCache()
	for _, ob := range cancelled {
		ob.active.Store(false)
		if ob.cancel != nil {
			cancel := ob.cancel
			r.events.enqueue(func() { cancel(err) })
		}
	}
	r.mu.Unlock()

	for _, reg := range regs {
		reg.Off()
	}
	if r.parent != nil {
		r.parent.release(r)
	}
	r.setError(err)
	capitan.Emit(context.Background(), RecordAborted,
		KeyRecord.Field(r.id),
		KeyLocation.Field(r.String()),
		KeyError.Field(err.Error()),
	)
	r.cfg.metrics.OnAbort()
	r.events.drain()
}

// replay delivers the cached state to a new observer only. Callers hold
// r.mu.
func (r *Record) replay(ob *observer) {
	deliver := func(snap *store.Snapshot, prev string) {
		r.events.enqueue(func() {
			if ob.active.Load() {
				ob.fn(snap, prev)
			}
		})
	}
	switch ob.event {
	case store.EventValue:
		deliver(r.snapshotOf(r.cached()), "")
	case store.EventChildAdded:
		if r.collection {
			prev := ""
			for _, k := range r.order {
				deliver(r.childSnapshot(k, r.vals[k], r.prios[k]), prev)
				prev = k
			}
			return
		}
		obj, _ := r.value.(map[string]any)
		prev := ""
		for _, k := range store.SortedKeys(obj) {
			deliver(r.childSnapshot(k, obj[k], nil), prev)
			prev = k
		}
	}
}

// emit queues event for every observer of it. Callers hold r.mu.
func (r *Record) emit(event store.EventType, snap *store.Snapshot, prev string) {
	for _, ob := range r.observers[event] {
		r.events.enqueue(func() {
			if ob.active.Load() {
				ob.fn(snap, prev)
			}
		})
	}
	r.cfg.metrics.OnEmit(event)
}

func (r *Record) emitValue() {
	r.emit(store.EventValue, r.snapshotOf(r.cached()), "")
}

// cached is the merged value held by the cache. Callers hold r.mu.
func (r *Record) cached() *merged {
	return &merged{
		order:    r.order,
		vals:     r.vals,
		prios:    r.prios,
		value:    r.value,
		priority: r.priority,
	}
}

func (r *Record) indexOf(key string) int {
	for i, k := range r.order {
		if k == key {
			return i
		}
	}
	return -1
}

func (r *Record) prevOf(key string) string {
	i := r.indexOf(key)
	if i <= 0 {
		return ""
	}
	return r.order[i-1]
}

// position returns the cached key that key follows in the sort path,
// skipping sort path keys the merged record does not hold.
func (r *Record) position(key string) (string, bool) {
	hint, ok := r.hints[key]
	seen := map[string]bool{key: true}
	for ok && hint != "" && r.indexOf(hint) < 0 && !seen[hint] {
		seen[hint] = true
		hint, ok = r.hints[hint]
	}
	return hint, ok
}

// insertKey places a new key after hint: first for an empty hint, last
// when the hint is unknown or absent.
func (r *Record) insertKey(key, hint string, hinted bool) {
	at := len(r.order)
	switch {
	case !hinted:
	case hint == "":
		at = 0
	default:
		if i := r.indexOf(hint); i >= 0 {
			at = i + 1
		}
	}
	r.order = append(r.order, "")
	copy(r.order[at+1:], r.order[at:])
	r.order[at] = key
}

func (r *Record) removeKey(key string) {
	if i := r.indexOf(key); i >= 0 {
		r.order = append(r.order[:i:i], r.order[i+1:]...)
	}
	delete(r.vals, key)
	delete(r.prios, key)
}

// canMoveAfter reports whether hint names a position key is not already at.
func (r *Record) canMoveAfter(key, hint string) bool {
	if hint == key || r.prevOf(key) == hint {
		return false
	}
	return hint == "" || r.indexOf(hint) >= 0
}

func (r *Record) moveAfter(key, hint string) {
	if i := r.indexOf(key); i >= 0 {
		r.order = append(r.order[:i:i], r.order[i+1:]...)
	}
	r.insertKey(key, hint, true)
}

func samePriority(a, b any) bool {
	return (a == nil) == (b == nil) && store.ComparePriority(a, b) == 0
}
