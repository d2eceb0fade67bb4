package cache

import (
	"container/list"
	"context"
	"sync"
)

// Memory is an in-process insertion-order bounded cache.
type Memory struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
}

type memoryEntry struct {
	key   string
	value string
}

var _ Cache = (*Memory)(nil)

// NewMemory creates a cache holding at most capacity entries. A capacity
// <= 0 uses DefaultCapacity.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the cached value.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.entries[key]; ok {
		return elem.Value.(*memoryEntry).value, true, nil
	}
	return "", false, nil
}

// Set stores a value. An existing key keeps its insertion position.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.entries[key]; ok {
		elem.Value.(*memoryEntry).value = value
		return nil
	}
	m.entries[key] = m.order.PushBack(&memoryEntry{key: key, value: value})
	for m.order.Len() > m.capacity {
		oldest := m.order.Front()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*memoryEntry).key)
	}
	return nil
}

// Invalidate removes every entry.
func (m *Memory) Invalidate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*list.Element, m.capacity)
	m.order.Init()
	return nil
}

// Len returns the number of entries.
func (m *Memory) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len(), nil
}
