package splice

import (
	"context"
	"fmt"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/splice/store"
)

// ValueKey names the single unnamed field of a path holding scalars. A key
// map {".value": "fruit"} exposes each scalar under the field "fruit".
const ValueKey = ".value"

// Dynamic declares a field whose stored value is a key into Ref. The joined
// record exposes the data found at Ref.Child(value) instead of the raw key.
// An empty Alias keeps the source field name.
type Dynamic struct {
	Ref   store.Ref
	Alias string
}

// KeyMap maps source field names of one path to the field names of the
// joined record.
type KeyMap struct {
	fields  []string
	aliases map[string]string
	sources map[string]string
	dynamic map[string]*Path
}

func newKeyMap() *KeyMap {
	return &KeyMap{
		aliases: map[string]string{},
		sources: map[string]string{},
		dynamic: map[string]*Path{},
	}
}

// primitiveKeyMap exposes a scalar path under alias.
func primitiveKeyMap(alias string) *KeyMap {
	km := newKeyMap()
	km.add(ValueKey, alias)
	return km
}

func (km *KeyMap) add(src, alias string) {
	if _, ok := km.aliases[src]; !ok {
		km.fields = append(km.fields, src)
	}
	km.aliases[src] = alias
	km.sources[alias] = src
}

// Fields returns the mapped source fields in declaration order.
func (km *KeyMap) Fields() []string {
	out := make([]string, len(km.fields))
	copy(out, km.fields)
	return out
}

// Len returns the number of mapped fields.
func (km *KeyMap) Len() int {
	return len(km.fields)
}

// Alias returns the joined name of source field src.
func (km *KeyMap) Alias(src string) (string, bool) {
	a, ok := km.aliases[src]
	return a, ok
}

// Source returns the source field exposed as alias.
func (km *KeyMap) Source(alias string) (string, bool) {
	s, ok := km.sources[alias]
	return s, ok
}

// Dynamic returns the sub-path resolving dynamic field src.
func (km *KeyMap) Dynamic(src string) (*Path, bool) {
	p, ok := km.dynamic[src]
	return p, ok
}

// IsPrimitive reports whether the map only holds the unnamed scalar field.
func (km *KeyMap) IsPrimitive() bool {
	return len(km.fields) == 1 && km.fields[0] == ValueKey
}

// remove drops source field src.
func (km *KeyMap) remove(src string) {
	alias, ok := km.aliases[src]
	if !ok {
		return
	}
	delete(km.aliases, src)
	if km.sources[alias] == src {
		delete(km.sources, alias)
	}
	delete(km.dynamic, src)
	for i, f := range km.fields {
		if f == src {
			km.fields = append(km.fields[:i:i], km.fields[i+1:]...)
			break
		}
	}
}

func (km *KeyMap) clone() *KeyMap {
	out := newKeyMap()
	for _, f := range km.fields {
		out.add(f, km.aliases[f])
		if p, ok := km.dynamic[f]; ok {
			out.dynamic[f] = p
		}
	}
	return out
}

// pick projects joined data onto the source fields of this map. It returns
// nil when nothing is owned.
func (km *KeyMap) pick(data any) any {
	if km.IsPrimitive() {
		alias := km.aliases[ValueKey]
		obj, ok := data.(map[string]any)
		if alias == ValueKey || !ok {
			return data
		}
		return obj[alias]
	}
	obj, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]any, len(km.fields))
	for _, src := range km.fields {
		if _, dyn := km.dynamic[src]; dyn {
			continue
		}
		if v, ok := obj[km.aliases[src]]; ok {
			out[src] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// parseKeyMap builds a key map from an explicit declaration. Entries are
// taken in key order: true maps a field to itself, a string is an alias, a
// store.Ref or Dynamic declares a dynamic field, false leaves it out.
func parseKeyMap(decl map[string]any) (*KeyMap, error) {
	km := newKeyMap()
	for _, src := range store.SortedKeys(decl) {
		switch v := decl[src].(type) {
		case bool:
			if v {
				km.add(src, src)
			}
		case string:
			if v == "" {
				return nil, fmt.Errorf("%w: field %q has an empty alias", ErrInvalidKeyMap, src)
			}
			km.add(src, v)
		case Dynamic:
			if err := km.addDynamic(src, v); err != nil {
				return nil, err
			}
		case *Dynamic:
			if v == nil {
				return nil, fmt.Errorf("%w: field %q has a nil dynamic reference", ErrInvalidKeyMap, src)
			}
			if err := km.addDynamic(src, *v); err != nil {
				return nil, err
			}
		case store.Ref:
			if err := km.addDynamic(src, Dynamic{Ref: v}); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: field %q has unsupported value %T", ErrInvalidKeyMap, src, v)
		}
	}
	return km, nil
}

func (km *KeyMap) addDynamic(src string, d Dynamic) error {
	if d.Ref == nil {
		return fmt.Errorf("%w: field %q has a nil dynamic reference", ErrInvalidKeyMap, src)
	}
	alias := d.Alias
	if alias == "" {
		alias = src
	}
	km.add(src, alias)
	km.dynamic[src] = newForeignPath(d.Ref)
	return nil
}

// resolveKeyMap determines the key map of a root path: the explicit
// declaration when present, otherwise a sample of its records.
func resolveKeyMap(ctx context.Context, cfg *config, p *Path) error {
	if p.keys != nil {
		emitResolved(ctx, p)
		return nil
	}
	if cfg.resolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = cfg.clock.WithTimeout(ctx, cfg.resolveTimeout)
		defer cancel()
	}

	snap, err := sample(ctx, p.src, cfg.sampleSize)
	if err != nil {
		capitan.Emit(ctx, KeyMapResolveFailed,
			KeyPath.Field(p.String()),
			KeyError.Field(err.Error()),
		)
		return fmt.Errorf("%w: %s: %w", ErrResolve, p.String(), err)
	}

	km := newKeyMap()
	scalars := 0
	snap.ForEach(func(rec *store.Snapshot) bool {
		if rec.NumChildren() == 0 {
			scalars++
			return false
		}
		for _, f := range rec.Keys() {
			km.add(f, f)
		}
		return false
	})

	switch {
	case km.Len() > 0:
		p.keys = km
	case scalars > 0:
		p.keys = primitiveKeyMap(p.ref.Key())
		p.readOnly = true
	default:
		p.keys = primitiveKeyMap(p.ref.Key())
		capitan.Emit(ctx, KeyMapSampleEmpty,
			KeyPath.Field(p.String()),
		)
	}
	emitResolved(ctx, p)
	return nil
}

// sample reads up to n records, falling back to a full read when the source
// does not support limits.
func sample(ctx context.Context, src store.Query, n int) (*store.Snapshot, error) {
	q, err := src.Limit(n)
	if err != nil {
		q = src
	}
	return q.Get(ctx)
}

func emitResolved(ctx context.Context, p *Path) {
	capitan.Emit(ctx, KeyMapResolved,
		KeyPath.Field(p.String()),
		KeyFieldCount.Field(p.keys.Len()),
	)
}
