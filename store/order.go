package store

import (
	"sort"
	"strconv"
	"strings"
)

// priorityClass orders priorities: none, then numbers, then strings.
func priorityClass(p any) int {
	switch p.(type) {
	case nil:
		return 0
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return 1
	case string:
		return 2
	default:
		return 3
	}
}

func toFloat(p any) float64 {
	switch v := p.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	}
	return 0
}

// ComparePriority orders two priorities.
func ComparePriority(a, b any) int {
	ca, cb := priorityClass(a), priorityClass(b)
	if ca != cb {
		return ca - cb
	}
	switch ca {
	case 1:
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
	case 2:
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}

// CompareKeys orders keys: integer keys numerically and before any other
// key, remaining keys lexicographically.
func CompareKeys(a, b string) int {
	ia, aok := intKey(a)
	ib, bok := intKey(b)
	switch {
	case aok && bok:
		switch {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		}
		return 0
	case aok:
		return -1
	case bok:
		return 1
	}
	return strings.Compare(a, b)
}

func intKey(k string) (int64, bool) {
	if k == "" || (len(k) > 1 && k[0] == '0') || k == "-0" {
		return 0, false
	}
	n, err := strconv.ParseInt(k, 10, 32)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Compare orders two children by priority, then key.
func Compare(aPriority any, aKey string, bPriority any, bKey string) int {
	if c := ComparePriority(aPriority, bPriority); c != 0 {
		return c
	}
	return CompareKeys(aKey, bKey)
}

// SortedKeys returns the keys of m in key order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return CompareKeys(keys[i], keys[j]) < 0
	})
	return keys
}
