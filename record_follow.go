package splice

import (
	"context"

	"github.com/zoobzio/splice/store"
)

// follow holds the value subscriptions on the foreign targets of one
// cached key.
type follow struct {
	regs []store.Registration
}

// follow keeps the foreign targets of every cached key observed while a
// collection is listening. Child events of the record sets never report a
// change at a dynamic field's target, so without these the cache would go
// stale.
func (r *Record) follow(session uint64) {
	set := r.set.Load()
	if !r.collection || set == nil || !set.dynamic() {
		return
	}

	r.mu.Lock()
	if r.session != session {
		r.mu.Unlock()
		return
	}
	var closing []store.Registration
	for k, f := range r.follows {
		if _, ok := r.vals[k]; !ok {
			closing = append(closing, f.regs...)
			delete(r.follows, k)
		}
	}
	opening := map[string]*follow{}
	for _, k := range r.order {
		if _, ok := r.follows[k]; !ok {
			f := &follow{}
			r.follows[k] = f
			opening[k] = f
		}
	}
	r.mu.Unlock()

	for _, reg := range closing {
		reg.Off()
	}
	for _, k := range store.SortedKeys(opening) {
		r.openFollow(session, set, k, opening[k])
	}
}

func (r *Record) openFollow(session uint64, set *pathSet, key string, f *follow) {
	ctx := context.Background()
	cancel := func(err error) { r.abort(session, err) }

	var regs []store.Registration
	for _, p := range descend(ctx, set, key).paths {
		if !p.dynamic || p.keys.Len() == 0 {
			continue
		}
		alias, _ := p.keys.Alias(ValueKey)
		reg, err := p.src.On(store.EventValue, func(snap *store.Snapshot, _ string) {
			r.onForeign(session, key, alias, snap.Val())
		}, cancel)
		if err != nil {
			for _, reg := range regs {
				reg.Off()
			}
			r.abort(session, err)
			return
		}
		regs = append(regs, reg)
	}

	r.mu.Lock()
	live := r.session == session && r.follows[key] == f
	if live {
		f.regs = regs
	}
	r.mu.Unlock()
	if !live {
		for _, reg := range regs {
			reg.Off()
		}
	}
}

// onForeign rebuilds key when the data at one of its dynamic targets no
// longer matches the cached field.
func (r *Record) onForeign(session uint64, key, alias string, val any) {
	r.mu.Lock()
	if r.session != session || r.priming {
		r.mu.Unlock()
		return
	}
	if !r.fresh {
		r.dirty[key] = struct{}{}
		r.mu.Unlock()
		return
	}
	cur, ok := r.vals[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	seen := cur
	if alias != ValueKey {
		obj, _ := cur.(map[string]any)
		seen = obj[alias]
	}
	if store.Equal(seen, val) {
		r.mu.Unlock()
		return
	}
	gen := r.nextGen()
	r.mu.Unlock()

	r.run(func() { r.rebuildKey(session, key, gen) })
}

// unfollowAll detaches every follow and returns its registrations. Callers
// hold r.mu.
func (r *Record) unfollowAll() []store.Registration {
	var regs []store.Registration
	for _, f := range r.follows {
		regs = append(regs, f.regs...)
	}
	r.follows = map[string]*follow{}
	return regs
}
