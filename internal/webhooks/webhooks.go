// Package webhooks delivers subscription events to URLs a gang registers.
// Delivery is a top-tier feature; the dispatcher checks entitlement on
// every event so a lapsed gang stops receiving calls immediately.
package webhooks

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrWebhookNotFound = errors.New("webhooks: not found")
	ErrTooMany         = errors.New("webhooks: per-gang limit reached")
	ErrInvalidEvent    = errors.New("webhooks: unknown event type")
)

// MaxPerGang caps registered webhooks per gang.
const MaxPerGang = 5

// EventType represents the type of webhook event
type EventType string

const (
	EventTierChanged     EventType = "tier.changed"
	EventLicenseRedeemed EventType = "license.redeemed"
)

// ValidEvent reports whether t is a deliverable event type.
func ValidEvent(t EventType) bool {
	return t == EventTierChanged || t == EventLicenseRedeemed
}

// Event is the JSON body posted to a webhook.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	GangID    string         `json:"gangId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Webhook is a gang's registered delivery target.
type Webhook struct {
	ID          string      `json:"id"`
	GangID      string      `json:"gangId"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"`
	Events      []EventType `json:"events"`
	Active      bool        `json:"active"`
	CreatedBy   string      `json:"createdBy,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	LastSuccess *time.Time  `json:"lastSuccess,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
}

// Wants reports whether the webhook subscribes to t.
func (w *Webhook) Wants(t EventType) bool {
	for _, e := range w.Events {
		if e == t {
			return true
		}
	}
	return false
}

// Store persists webhooks.
type Store interface {
	Create(ctx context.Context, w *Webhook) error
	Get(ctx context.Context, id string) (*Webhook, error)
	ListByGang(ctx context.Context, gangID string) ([]*Webhook, error)
	// RecordDelivery stores the outcome of the latest delivery. An empty
	// errMsg marks a success at the given time.
	RecordDelivery(ctx context.Context, id string, at time.Time, errMsg string) error
	// Delete removes a webhook owned by gangID.
	Delete(ctx context.Context, gangID, id string) error
}
