package registry

import (
	"sync"

	"github.com/INLOpen/skiplist"
)

func uint64Comparator(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// OrderedRegistry is a Registry variant keyed by uint64 that additionally
// supports ascending-order range queries, backed by a skiplist so that
// GetRange* never has to sort on every call.
type OrderedRegistry[V any] struct {
	mu   sync.RWMutex
	list *skiplist.SkipList[uint64, V]
}

// NewOrdered creates an empty OrderedRegistry.
func NewOrdered[V any]() *OrderedRegistry[V] {
	return &OrderedRegistry[V]{
		list: skiplist.NewWithComparator[uint64, V](uint64Comparator),
	}
}

// Get returns the value for key and whether it was present.
func (r *OrderedRegistry[V]) Get(key uint64) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.list.Seek(key)
	if !ok || node.Key() != key {
		var zero V
		return zero, false
	}
	return node.Value(), true
}

// Put unconditionally sets key to value.
func (r *OrderedRegistry[V]) Put(key uint64, value V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list.Insert(key, value)
	return true
}

// Erase removes key, reporting whether it was present.
func (r *OrderedRegistry[V]) Erase(key uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.list.Seek(key)
	if !ok || node.Key() != key {
		return false
	}
	r.list.Delete(key)
	return true
}

// Len returns the number of entries.
func (r *OrderedRegistry[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list.Len()
}

// GetRangeKeyValues returns every (key, value) pair with lower <= key < upper
// (either bound may be disabled by passing hasLower/hasUpper false), in
// ascending key order, optionally restricted by valueFilter.
func (r *OrderedRegistry[V]) GetRangeKeyValues(lower uint64, hasLower bool, upper uint64, hasUpper bool, valueFilter func(V) bool) []KeyValue[uint64, V] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []KeyValue[uint64, V]
	iter := r.list.NewIterator()
	var ok bool
	if hasLower {
		ok = iter.Seek(lower)
	} else {
		ok = iter.First()
	}
	for ; ok; ok = iter.Next() {
		k := iter.Key()
		if hasUpper && k >= upper {
			break
		}
		v := iter.Value()
		if valueFilter == nil || valueFilter(v) {
			out = append(out, KeyValue[uint64, V]{Key: k, Value: v})
		}
	}
	return out
}
