package graph

import "slices"

// handle addresses a record slot in the store arena. Handles are allocated
// monotonically, so ascending handle order is insertion order.
type handle uint64

// multimap maps a key to a set of handles. Empty buckets are pruned on
// removal, so Keys never reports a key without members.
type multimap[K comparable] struct {
	buckets map[K]map[handle]struct{}
}

func newMultimap[K comparable]() *multimap[K] {
	return &multimap[K]{buckets: make(map[K]map[handle]struct{})}
}

func (m *multimap[K]) add(key K, h handle) {
	b, ok := m.buckets[key]
	if !ok {
		b = make(map[handle]struct{})
		m.buckets[key] = b
	}
	b[h] = struct{}{}
}

func (m *multimap[K]) remove(key K, h handle) {
	b, ok := m.buckets[key]
	if !ok {
		return
	}
	delete(b, h)
	if len(b) == 0 {
		delete(m.buckets, key)
	}
}

// get returns the handles under key in insertion order.
func (m *multimap[K]) get(key K) []handle {
	b := m.buckets[key]
	if len(b) == 0 {
		return nil
	}
	out := make([]handle, 0, len(b))
	for h := range b {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

func (m *multimap[K]) has(key K, h handle) bool {
	_, ok := m.buckets[key][h]
	return ok
}

func (m *multimap[K]) count(key K) int {
	return len(m.buckets[key])
}

func (m *multimap[K]) keys() []K {
	out := make([]K, 0, len(m.buckets))
	for k := range m.buckets {
		out = append(out, k)
	}
	return out
}

func (m *multimap[K]) size() int {
	return len(m.buckets)
}

func (m *multimap[K]) clear() {
	m.buckets = make(map[K]map[handle]struct{})
}
