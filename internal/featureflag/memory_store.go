package featureflag

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory flag store for demo/development.
type MemoryStore struct {
	mu    sync.RWMutex
	flags map[string]*Flag
}

// NewMemoryStore creates a new in-memory flag store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flags: make(map[string]*Flag)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.flags[key]
	if !ok {
		return nil, ErrFlagNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Flag, 0, len(m.flags))
	for _, f := range m.flags {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Set(_ context.Context, f *Flag) error {
	if !ValidKey(f.Key) {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *f
	m.flags[f.Key] = &cp
	return nil
}

var _ Store = (*MemoryStore)(nil)
