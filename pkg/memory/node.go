package memory

import (
	"sort"

	"github.com/zoobzio/splice/store"
)

// node is one immutable location of the persistent tree. Writes copy the
// nodes along the written path, so unchanged subtrees keep their identity
// and diffing can stop at pointer equality.
type node struct {
	value    any
	priority any
	children map[string]*node
}

func (n *node) empty() bool {
	return n == nil || (n.value == nil && len(n.children) == 0)
}

// build converts a normalized value into a node. Objects may carry
// ".priority" and ".value" keys.
func build(v any, priority any) *node {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		if p, ok := t[".priority"]; ok && priority == nil {
			priority = p
		}
		if leaf, ok := t[".value"]; ok {
			return &node{value: leaf, priority: priority}
		}
		n := &node{priority: priority, children: make(map[string]*node, len(t))}
		for k, c := range t {
			if k == ".priority" {
				continue
			}
			if cn := build(c, nil); cn != nil {
				n.children[k] = cn
			}
		}
		if len(n.children) == 0 {
			return nil
		}
		return n
	default:
		return &node{value: t, priority: priority}
	}
}

func lookup(n *node, segs []string) *node {
	for _, s := range segs {
		if n == nil || n.children == nil {
			return nil
		}
		n = n.children[s]
	}
	return n
}

// replace returns a copy of n with the node at segs swapped for child. Empty
// branches left behind are pruned.
func replace(n *node, segs []string, child *node) *node {
	if len(segs) == 0 {
		if child.empty() {
			return nil
		}
		return child
	}
	cp := &node{children: map[string]*node{}}
	if n != nil {
		cp.priority = n.priority
		for k, c := range n.children {
			cp.children[k] = c
		}
	}
	next := replace(cp.children[segs[0]], segs[1:], child)
	if next == nil {
		delete(cp.children, segs[0])
	} else {
		cp.children[segs[0]] = next
	}
	if len(cp.children) == 0 {
		return nil
	}
	return cp
}

func (n *node) val() any {
	if n.empty() {
		return nil
	}
	if n.value != nil {
		return n.value
	}
	out := make(map[string]any, len(n.children))
	for k, c := range n.children {
		out[k] = c.val()
	}
	return out
}

// orderedKeys returns child keys ordered by priority, then key.
func (n *node) orderedKeys() []string {
	if n == nil {
		return nil
	}
	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := n.children[keys[i]], n.children[keys[j]]
		return store.Compare(a.priority, keys[i], b.priority, keys[j]) < 0
	})
	return keys
}

func equalNode(a, b *node) bool {
	if a == b {
		return true
	}
	if a.empty() || b.empty() {
		return a.empty() && b.empty()
	}
	if a.value != b.value || !samePriority(a.priority, b.priority) {
		return false
	}
	if len(a.children) != len(b.children) {
		return false
	}
	for k, ac := range a.children {
		bc, ok := b.children[k]
		if !ok || !equalNode(ac, bc) {
			return false
		}
	}
	return true
}

func samePriority(a, b any) bool {
	return (a == nil) == (b == nil) && store.ComparePriority(a, b) == 0
}

// snapshot converts n into a store snapshot rooted at ref.
func snapshot(ref store.Ref, key string, n *node) *store.Snapshot {
	if n.empty() {
		return store.Empty(ref, key)
	}
	if n.value != nil {
		return store.Leaf(ref, key, n.value, n.priority)
	}
	keys := n.orderedKeys()
	children := make([]*store.Snapshot, 0, len(keys))
	for _, k := range keys {
		children = append(children, snapshot(nil, k, n.children[k]))
	}
	return store.Branch(ref, key, n.priority, children)
}
