package deadletter

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

func (m *MemoryStore) Put(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Pipe] = append(m.entries[e.Pipe], e)
	return nil
}

func (m *MemoryStore) List(_ context.Context, pipe string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.entries[pipe]
	out := make([]Entry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
