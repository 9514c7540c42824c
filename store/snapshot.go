package store

// Snapshot is an immutable, ordered view of the data at a location.
//
// A snapshot is either empty, a leaf holding a scalar, or a branch holding
// ordered children. Snapshots are safe for concurrent reads.
type Snapshot struct {
	key      string
	ref      Ref
	up       *Snapshot
	value    any
	priority any
	children []*Snapshot
	index    map[string]int
}

// Empty returns a snapshot of a location with no data.
func Empty(ref Ref, key string) *Snapshot {
	return &Snapshot{key: key, ref: ref}
}

// Leaf returns a snapshot holding a scalar value.
func Leaf(ref Ref, key string, value any, priority any) *Snapshot {
	return &Snapshot{key: key, ref: ref, value: value, priority: priority}
}

// Branch returns a snapshot holding children in the given order. The
// children become owned by the returned snapshot; children without a ref
// resolve theirs through the branch.
func Branch(ref Ref, key string, priority any, children []*Snapshot) *Snapshot {
	s := &Snapshot{key: key, ref: ref, priority: priority}
	if len(children) == 0 {
		return s
	}
	s.children = make([]*Snapshot, 0, len(children))
	s.index = make(map[string]int, len(children))
	for _, c := range children {
		if c == nil || !c.Exists() {
			continue
		}
		if c.ref == nil && c.up == nil {
			c.up = s
		}
		s.index[c.key] = len(s.children)
		s.children = append(s.children, c)
	}
	return s
}

// FromValue builds a snapshot from a value in the JSON data model. Object
// children are ordered by key since plain values carry no priorities.
func FromValue(ref Ref, key string, value any) *Snapshot {
	return NewSnapshot(ref, key, value, nil)
}

// NewSnapshot is FromValue with a priority for the location itself.
func NewSnapshot(ref Ref, key string, value any, priority any) *Snapshot {
	switch v := value.(type) {
	case nil:
		return Empty(ref, key)
	case map[string]any:
		keys := SortedKeys(v)
		children := make([]*Snapshot, 0, len(keys))
		for _, k := range keys {
			children = append(children, NewSnapshot(nil, k, v[k], nil))
		}
		return Branch(ref, key, priority, children)
	default:
		return Leaf(ref, key, v, priority)
	}
}

// Key returns the last segment of the snapshot's location.
func (s *Snapshot) Key() string {
	return s.key
}

// Ref returns the location the snapshot was read from, or nil when the
// snapshot was built detached from any store.
func (s *Snapshot) Ref() Ref {
	if s.ref != nil {
		return s.ref
	}
	if s.up != nil {
		if parent := s.up.Ref(); parent != nil {
			return parent.Child(s.key)
		}
	}
	return nil
}

// Exists reports whether the location holds any data.
func (s *Snapshot) Exists() bool {
	return s != nil && (s.value != nil || len(s.children) > 0)
}

// Priority returns the priority of the location, or nil.
func (s *Snapshot) Priority() any {
	return s.priority
}

// Val returns the data as a freshly allocated value. Branches become
// map[string]any, leaves their scalar, empty snapshots nil.
func (s *Snapshot) Val() any {
	if s == nil {
		return nil
	}
	if len(s.children) == 0 {
		return s.value
	}
	out := make(map[string]any, len(s.children))
	for _, c := range s.children {
		out[c.key] = c.Val()
	}
	return out
}

// Child returns the snapshot at a relative path. Missing locations yield an
// empty snapshot.
func (s *Snapshot) Child(path string) *Snapshot {
	segments, err := SplitPath(path)
	if err != nil || len(segments) == 0 {
		return s
	}
	cur := s
	for _, seg := range segments {
		next := cur.childNode(seg)
		if next == nil {
			return Empty(joinRef(s.Ref(), segments), segments[len(segments)-1])
		}
		cur = next
	}
	return cur
}

func joinRef(ref Ref, segments []string) Ref {
	if ref == nil {
		return nil
	}
	return ref.Child(JoinPath(segments...))
}

func (s *Snapshot) childNode(key string) *Snapshot {
	if s == nil || s.index == nil {
		return nil
	}
	i, ok := s.index[key]
	if !ok {
		return nil
	}
	return s.children[i]
}

// HasChild reports whether the direct child key holds data.
func (s *Snapshot) HasChild(key string) bool {
	return s.childNode(key) != nil
}

// NumChildren returns the number of direct children.
func (s *Snapshot) NumChildren() int {
	if s == nil {
		return 0
	}
	return len(s.children)
}

// Keys returns the keys of direct children in order.
func (s *Snapshot) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, len(s.children))
	for i, c := range s.children {
		keys[i] = c.key
	}
	return keys
}

// ForEach visits children in order. Returning true from fn stops the
// iteration; ForEach then reports true.
func (s *Snapshot) ForEach(fn func(child *Snapshot) bool) bool {
	if s == nil {
		return false
	}
	for _, c := range s.children {
		if fn(c) {
			return true
		}
	}
	return false
}

// PrevKey returns the key of the sibling ordered before key, or "".
func (s *Snapshot) PrevKey(key string) string {
	i, ok := s.index[key]
	if !ok || i == 0 {
		return ""
	}
	return s.children[i-1].key
}
