package splice

import (
	"context"
	"fmt"

	"github.com/zoobzio/splice/store"
)

// fanOut runs op on every path behind one queue and returns once all of
// them completed.
func (r *Record) fanOut(ctx context.Context, op string, fn func(ctx context.Context, slot int, p *Path) error) error {
	if err := r.Ready(ctx); err != nil {
		return err
	}
	set := r.set.Load()
	q := NewQueue(ctx)
	for i, p := range set.paths {
		q.Go(func(ctx context.Context) error {
			return fn(ctx, i, p)
		})
	}
	if err := q.Wait(ctx); err != nil {
		r.setError(err)
		return fmt.Errorf("%s %s: %w", op, r, err)
	}
	return nil
}

// Set replaces the merged value. Every path writes the fields it owns;
// read-only and dynamic paths are skipped. A scalar can only be written to
// a record backed by a single scalar path.
func (r *Record) Set(ctx context.Context, value any) error {
	return r.write(ctx, value, nil)
}

// SetWithPriority is Set with a priority written through the sort path.
func (r *Record) SetWithPriority(ctx context.Context, value any, priority any) error {
	return r.write(ctx, value, priority)
}

func (r *Record) write(ctx context.Context, value any, priority any) error {
	if err := r.Ready(ctx); err != nil {
		return err
	}
	v, err := store.Normalize(value)
	if err != nil {
		return err
	}
	if v == nil {
		return r.Remove(ctx)
	}
	set := r.set.Load()
	if !store.IsObject(v) && !set.primitive() {
		return r.unsupported("set scalar")
	}
	return r.fanOut(ctx, "set", func(ctx context.Context, slot int, p *Path) error {
		var pr any
		if slot == set.sort {
			pr = priority
		}
		return p.pickAndSet(ctx, v, pr)
	})
}

// Update writes the named fields through the paths owning them.
func (r *Record) Update(ctx context.Context, values map[string]any) error {
	v, err := store.Normalize(values)
	if err != nil {
		return err
	}
	data, _ := v.(map[string]any)
	if len(data) == 0 {
		return r.Ready(ctx)
	}
	return r.fanOut(ctx, "update", func(ctx context.Context, _ int, p *Path) error {
		return p.pickAndUpdate(ctx, data)
	})
}

// Remove deletes the record from every path except dynamic ones.
func (r *Record) Remove(ctx context.Context) error {
	return r.fanOut(ctx, "remove", func(ctx context.Context, _ int, p *Path) error {
		return p.remove(ctx)
	})
}

// SetPriority sets the priority on the sort path, which governs order.
func (r *Record) SetPriority(ctx context.Context, priority any) error {
	if err := r.Ready(ctx); err != nil {
		return err
	}
	if err := r.set.Load().sortPath().setPriority(ctx, priority); err != nil {
		r.setError(err)
		return fmt.Errorf("set priority %s: %w", r, err)
	}
	return nil
}

// Push creates a child keyed by the sort path's push key and, when value is
// not nil, sets it.
func (r *Record) Push(ctx context.Context, value any) (store.Ref, error) {
	if err := r.Ready(ctx); err != nil {
		return nil, err
	}
	ref, err := r.set.Load().sortPath().ref.Push(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("push %s: %w", r, err)
	}
	child := r.ChildRecord(ref.Key())
	if value == nil {
		return child, nil
	}
	if err := child.Set(ctx, value); err != nil {
		return nil, err
	}
	return child, nil
}
