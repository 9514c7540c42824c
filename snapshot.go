package splice

import (
	"context"
	"errors"
)

// build reads every path of set once and merges the results. Intersecting
// paths load first; an empty one ends the build with an empty result
// without waiting for the rest. Union paths load next. Results land in
// fixed slots so merge order is declaration order whatever the arrival
// order.
func build(ctx context.Context, set *pathSet) (*merged, error) {
	data := make([]*pathData, len(set.paths))

	var inter, union []int
	for i, p := range set.paths {
		if p.intersects {
			inter = append(inter, i)
		} else {
			union = append(union, i)
		}
	}

	if len(inter) > 0 {
		err := loadSlots(ctx, set, inter, data, true)
		if errors.Is(err, errEmpty) {
			return emptyMerged(), nil
		}
		if err != nil {
			return nil, err
		}
	}
	if len(union) > 0 {
		if err := loadSlots(ctx, set, union, data, false); err != nil {
			return nil, err
		}
	}

	if set.collection {
		return mergeCollection(set, data), nil
	}
	return mergeRecord(set, data), nil
}

func loadSlots(ctx context.Context, set *pathSet, slots []int, data []*pathData, required bool) error {
	q := NewQueue(ctx)
	for _, i := range slots {
		q.Go(func(ctx context.Context) error {
			d, err := set.paths[i].load(ctx)
			if err != nil {
				return err
			}
			if required && !d.exists {
				return errEmpty
			}
			data[i] = d
			return nil
		})
	}
	return q.Wait(ctx)
}
