package member

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory member store for demo/development.
type MemoryStore struct {
	mu      sync.RWMutex
	members map[string]*Member // by ID
}

// NewMemoryStore creates a new in-memory member store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{members: make(map[string]*Member)}
}

func (m *MemoryStore) Create(_ context.Context, mem *Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mem.IsActive && m.findActive(mem.GangID, mem.DiscordID) != nil {
		return ErrAlreadyMember
	}
	cp := *mem
	m.members[mem.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem, ok := m.members[id]
	if !ok {
		return nil, ErrMemberNotFound
	}
	cp := *mem
	return &cp, nil
}

func (m *MemoryStore) GetActive(_ context.Context, gangID, discordID string) (*Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mem := m.findActive(gangID, discordID)
	if mem == nil {
		return nil, ErrMemberNotFound
	}
	cp := *mem
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, mem *Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.members[mem.ID]; !ok {
		return ErrMemberNotFound
	}
	if mem.IsActive {
		if other := m.findActive(mem.GangID, mem.DiscordID); other != nil && other.ID != mem.ID {
			return ErrAlreadyMember
		}
	}
	cp := *mem
	m.members[mem.ID] = &cp
	return nil
}

func (m *MemoryStore) CountActive(_ context.Context, gangID string, role Role) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, mem := range m.members {
		if mem.GangID == gangID && mem.IsActive && mem.Status == StatusApproved && mem.Role == role {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) findActive(gangID, discordID string) *Member {
	for _, mem := range m.members {
		if mem.GangID == gangID && mem.DiscordID == discordID && mem.IsActive {
			return mem
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
