package dal

import (
	"context"
	"sync"
)

// MemoryName is the name the in-process store is registered under.
const MemoryName = "memory"

// Memory is a process-local key/value store. It is mostly useful for
// development and tests.
type Memory struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewMemory is a Factory. A map[string]any in settings seeds the store.
func NewMemory(_ context.Context, settings any) (any, error) {
	m := &Memory{data: make(map[string]any)}
	if seed, ok := settings.(map[string]any); ok {
		for k, v := range seed {
			m.data[k] = v
		}
	}
	return m, nil
}

func (m *Memory) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *Memory) Set(key string, v any) {
	m.mu.Lock()
	m.data[key] = v
	m.mu.Unlock()
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
