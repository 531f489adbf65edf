package webhooks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps webhooks in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	webhooks map[string]*Webhook
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{webhooks: make(map[string]*Webhook)}
}

func (m *MemoryStore) Create(_ context.Context, w *Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks[w.ID] = clone(w)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.webhooks[id]
	if !ok {
		return nil, ErrWebhookNotFound
	}
	return clone(w), nil
}

func (m *MemoryStore) ListByGang(_ context.Context, gangID string) ([]*Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*Webhook{}
	for _, w := range m.webhooks {
		if w.GangID == gangID {
			out = append(out, clone(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) RecordDelivery(_ context.Context, id string, at time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.webhooks[id]
	if !ok {
		return ErrWebhookNotFound
	}
	if errMsg == "" {
		t := at
		w.LastSuccess = &t
	}
	w.LastError = errMsg
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, gangID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.webhooks[id]
	if !ok || w.GangID != gangID {
		return ErrWebhookNotFound
	}
	delete(m.webhooks, id)
	return nil
}

func clone(w *Webhook) *Webhook {
	c := *w
	c.Events = append([]EventType(nil), w.Events...)
	if w.LastSuccess != nil {
		t := *w.LastSuccess
		c.LastSuccess = &t
	}
	return &c
}
