package splice

// merged is the joined value of a record. Collections keep their children
// in order; records keep a single value.
type merged struct {
	order []string
	vals  map[string]any
	prios map[string]any

	value    any
	priority any
}

func emptyMerged() *merged {
	return &merged{vals: map[string]any{}, prios: map[string]any{}}
}

// mergeFields overlays contributions in declaration order. A record made
// only of the unnamed scalar field becomes that scalar; an object held in
// the unnamed field is spread next to the named fields.
func mergeFields(parts []map[string]any) any {
	out := map[string]any{}
	for _, part := range parts {
		for k, v := range part {
			out[k] = v
		}
	}
	v, ok := out[ValueKey]
	switch {
	case !ok:
	case len(out) == 1:
		return v
	default:
		delete(out, ValueKey)
		if obj, isObj := v.(map[string]any); isObj {
			for k, c := range obj {
				if _, taken := out[k]; !taken {
					out[k] = c
				}
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// mergeCollection joins record sets. Keys follow the sort path; in
// intersection mode only keys present in every intersecting path remain,
// in union mode keys found only in other paths follow in declaration order.
func mergeCollection(set *pathSet, data []*pathData) *merged {
	out := emptyMerged()
	sortData := data[set.sort]

	var keys []string
	if set.intersecting() {
		for _, k := range sortData.keys {
			if presentInAll(set, data, k) {
				keys = append(keys, k)
			}
		}
	} else {
		seen := map[string]bool{}
		for _, k := range sortData.keys {
			seen[k] = true
			keys = append(keys, k)
		}
		for i, d := range data {
			if i == set.sort {
				continue
			}
			for _, k := range d.keys {
				if !seen[k] {
					seen[k] = true
					keys = append(keys, k)
				}
			}
		}
	}

	parts := make([]map[string]any, len(data))
	for _, k := range keys {
		for i, d := range data {
			parts[i] = d.recs[k]
		}
		v := mergeFields(parts)
		if v == nil {
			continue
		}
		out.order = append(out.order, k)
		out.vals[k] = v
		out.prios[k] = sortData.prios[k]
	}
	return out
}

func presentInAll(set *pathSet, data []*pathData, key string) bool {
	for i, p := range set.paths {
		if !p.intersects {
			continue
		}
		if _, ok := data[i].prios[key]; !ok {
			return false
		}
	}
	return true
}

// mergeRecord joins single records.
func mergeRecord(set *pathSet, data []*pathData) *merged {
	out := emptyMerged()
	parts := make([]map[string]any, len(data))
	for i, d := range data {
		parts[i] = d.rec
	}
	out.value = mergeFields(parts)
	if out.value != nil {
		out.priority = data[set.sort].priority
	}
	return out
}
