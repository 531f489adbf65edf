package tenant

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory tenant store for demo/development.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant // by ID
	slugs   map[string]string  // slug → ID
}

// NewMemoryStore creates a new in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[string]*Tenant),
		slugs:   make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.slugs[t.Slug]; exists {
		return ErrSlugTaken
	}

	m.tenants[t.ID] = clone(t)
	m.slugs[t.Slug] = t.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return clone(t), nil
}

func (m *MemoryStore) GetBySlug(_ context.Context, slug string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.slugs[slug]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return clone(m.tenants[id]), nil
}

func (m *MemoryStore) GetByStripeCustomer(_ context.Context, customerID string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if customerID == "" {
		return nil, ErrTenantNotFound
	}
	for _, t := range m.tenants {
		if t.StripeCustomerID == customerID {
			return clone(t), nil
		}
	}
	return nil, ErrTenantNotFound
}

func (m *MemoryStore) Update(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.tenants[t.ID]
	if !ok {
		return ErrTenantNotFound
	}
	if old.Slug != t.Slug {
		if owner, taken := m.slugs[t.Slug]; taken && owner != t.ID {
			return ErrSlugTaken
		}
		delete(m.slugs, old.Slug)
		m.slugs[t.Slug] = t.ID
	}
	m.tenants[t.ID] = clone(t)
	return nil
}

func (m *MemoryStore) SetSubscription(_ context.Context, id string, tier Tier, expiresAt *time.Time, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[id]
	if !ok {
		return ErrTenantNotFound
	}
	t.Tier = tier
	t.SubscriptionExpiresAt = copyTime(expiresAt)
	t.UpdatedAt = now
	return nil
}

func (m *MemoryStore) DowngradeExpired(_ context.Context, cutoff, now time.Time) ([]Downgrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Downgrade
	for id, t := range m.tenants {
		if !t.IsActive || t.Tier == TierFree || t.SubscriptionExpiresAt == nil {
			continue
		}
		if !t.SubscriptionExpiresAt.Before(cutoff) {
			continue
		}
		out = append(out, Downgrade{ID: id, From: t.Tier})
		t.Tier = TierFree
		t.UpdatedAt = now
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func clone(t *Tenant) *Tenant {
	cp := *t
	cp.SubscriptionExpiresAt = copyTime(t.SubscriptionExpiresAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ Store = (*MemoryStore)(nil)
