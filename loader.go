package splice

import (
	"context"
	"fmt"

	"github.com/zoobzio/capitan"
)

// pathSet is the resolved paths of one record.
type pathSet struct {
	paths []*Path
	sort  int

	// collection is true for a root join over record sets.
	collection bool
}

func (s *pathSet) sortPath() *Path {
	return s.paths[s.sort]
}

// intersecting reports whether any path is an inner join member.
func (s *pathSet) intersecting() bool {
	for _, p := range s.paths {
		if p.intersects {
			return true
		}
	}
	return false
}

// dynamic reports whether any path resolves a field through another
// location.
func (s *pathSet) dynamic() bool {
	for _, p := range s.paths {
		if p.keys != nil && len(p.keys.dynamic) > 0 {
			return true
		}
	}
	return false
}

// primitive reports whether the set is a single scalar path, the only shape
// that accepts a scalar write.
func (s *pathSet) primitive() bool {
	return !s.collection && len(s.paths) == 1 && s.paths[0].keys.IsPrimitive()
}

// loadPaths resolves every key map of a root join concurrently, then
// derives the sort path and settles field collisions.
func loadPaths(ctx context.Context, cfg *config, paths []*Path) (*pathSet, []error, error) {
	q := NewQueue(ctx)
	for _, p := range paths {
		q.Go(func(ctx context.Context) error {
			return resolveKeyMap(ctx, cfg, p)
		})
	}
	if err := q.Wait(ctx); err != nil {
		return nil, q.Errors(), err
	}

	set := &pathSet{paths: paths, collection: true}
	if err := set.chooseSort(ctx); err != nil {
		return nil, nil, err
	}
	set.reconcile(ctx)
	return set, nil, nil
}

// chooseSort picks the path governing child order: the first explicit
// SortBy path, else the first intersecting path, else the first path. Later
// SortBy flags are demoted.
func (s *pathSet) chooseSort(ctx context.Context) error {
	s.sort = -1
	for i, p := range s.paths {
		if !p.sortBy {
			continue
		}
		if s.sort < 0 {
			s.sort = i
			continue
		}
		p.sortBy = false
		capitan.Emit(ctx, PathSortDemoted,
			KeyPath.Field(p.String()),
		)
	}
	if s.sort < 0 {
		s.sort = 0
		for i, p := range s.paths {
			if p.intersects {
				s.sort = i
				break
			}
		}
		s.paths[s.sort].sortBy = true
	}
	if s.intersecting() && !s.sortPath().intersects {
		return fmt.Errorf("%w: %s", ErrSortPath, s.sortPath())
	}
	return nil
}

// reconcile removes a joined field from every path declared before the
// last path claiming it.
func (s *pathSet) reconcile(ctx context.Context) {
	claimed := map[string]string{}
	for i := len(s.paths) - 1; i >= 0; i-- {
		p := s.paths[i]
		var owned []string
		for _, src := range p.keys.Fields() {
			alias, _ := p.keys.Alias(src)
			if winner, ok := claimed[alias]; ok {
				p.keys.remove(src)
				capitan.Emit(ctx, PathFieldDropped,
					KeyPath.Field(p.String()),
					KeyField.Field(src),
					KeyAlias.Field(alias),
					KeyReason.Field("claimed by "+winner),
				)
				continue
			}
			owned = append(owned, alias)
		}
		for _, alias := range owned {
			claimed[alias] = p.String()
		}
	}
}

// descend derives the paths of child key. From a collection every path
// yields its keyed record and every dynamic field becomes a path of its
// own; from a record only the paths owning the field take part.
func descend(ctx context.Context, parent *pathSet, key string) *pathSet {
	out := &pathSet{}
	if parent.collection {
		var dynamic []*Path
		for i, p := range parent.paths {
			c := p.child(key)
			for _, src := range p.keys.Fields() {
				dp, ok := p.keys.Dynamic(src)
				if !ok {
					continue
				}
				alias, _ := p.keys.Alias(src)
				keyRef := c.ref
				if src != ValueKey {
					keyRef = c.ref.Child(src)
				}
				dynamic = append(dynamic, newDynamicPath(keyRef, dp.ref, alias))
				c.keys.remove(src)
			}
			if i == parent.sort {
				out.sort = len(out.paths)
			}
			out.paths = append(out.paths, c)
		}
		out.paths = append(out.paths, dynamic...)
	} else {
		for i, p := range parent.paths {
			if _, ok := p.keys.Source(key); !ok {
				continue
			}
			if i == parent.sort {
				out.sort = len(out.paths)
			}
			out.paths = append(out.paths, p.child(key))
		}
		if len(out.paths) == 0 {
			c := newPath(parent.sortPath().ref.Child(key))
			c.keys = primitiveKeyMap(ValueKey)
			out.paths = append(out.paths, c)
		}
	}
	out.reconcile(ctx)
	return out
}
