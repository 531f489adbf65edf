package license

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory license store for demo/development.
type MemoryStore struct {
	mu       sync.Mutex
	licenses map[string]*License
}

// NewMemoryStore creates a new in-memory license store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{licenses: make(map[string]*License)}
}

func (m *MemoryStore) Create(_ context.Context, l *License) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.licenses[l.Key]; exists {
		return ErrDuplicateKey
	}
	m.licenses[l.Key] = clone(l)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (*License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.licenses[key]
	if !ok {
		return nil, ErrLicenseNotFound
	}
	return clone(l), nil
}

func (m *MemoryStore) Claim(_ context.Context, key, gangID string, now time.Time) (*License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.licenses[key]
	if !ok {
		return nil, ErrLicenseNotFound
	}
	if !l.IsActive || l.RedeemedAt != nil {
		return nil, ErrAlreadyRedeemed
	}
	if l.ExpiresAt != nil && !now.Before(*l.ExpiresAt) {
		return nil, ErrLicenseExpired
	}
	l.IsActive = false
	l.RedeemedBy = gangID
	at := now
	l.RedeemedAt = &at
	return clone(l), nil
}

func (m *MemoryStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.licenses[key]
	if !ok {
		return ErrLicenseNotFound
	}
	l.IsActive = true
	l.RedeemedBy = ""
	l.RedeemedAt = nil
	return nil
}

func (m *MemoryStore) List(_ context.Context, limit int, opts ...ListOption) ([]*License, error) {
	o := applyListOpts(opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*License
	for _, l := range m.licenses {
		if o.unredeemed && (!l.IsActive || l.RedeemedAt != nil) {
			continue
		}
		if !o.before(l) {
			continue
		}
		out = append(out, clone(l))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key > out[j].Key
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(l *License) *License {
	cp := *l
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		cp.ExpiresAt = &t
	}
	if l.RedeemedAt != nil {
		t := *l.RedeemedAt
		cp.RedeemedAt = &t
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
