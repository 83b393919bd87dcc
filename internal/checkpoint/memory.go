package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps checkpoints for the lifetime of the process.
type MemoryStore struct {
	mu  sync.RWMutex
	cps map[string]Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cps: make(map[string]Checkpoint)}
}

func (m *MemoryStore) Load(_ context.Context, pipe, partition string) (Checkpoint, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.cps[key(pipe, partition)]
	return cp, ok, nil
}

func (m *MemoryStore) Commit(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(cp.Pipe, cp.Partition)
	if stored, ok := m.cps[k]; ok {
		if cp.Offset < stored.Offset {
			return regression(cp, stored.Offset)
		}
		if cp.Offset == stored.Offset {
			return nil
		}
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	m.cps[k] = cp
	return nil
}

func (m *MemoryStore) List(_ context.Context, pipe string) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Checkpoint
	for _, cp := range m.cps {
		if cp.Pipe == pipe {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
