package kvstore

import (
	"context"
	"sync"
)

// Memory is an in-process KVStore backed by a map, used in tests and as a
// fallback when no SQLite path is configured.
type Memory struct {
	mu    sync.Mutex
	items map[string]string
}

// NewMemory returns an empty in-memory KVStore.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]string)}
}

// GetItem implements KVStore.
func (m *Memory) GetItem(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.items[key]
	return value, ok, nil
}

// SetItem implements KVStore.
func (m *Memory) SetItem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

// RemoveItem implements KVStore.
func (m *Memory) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
