package realtime

import "time"

// EventType names a stream event.
type EventType string

const (
	EventTierChanged     EventType = "tier_changed"
	EventFlagToggled     EventType = "flag_toggled"
	EventLicenseRedeemed EventType = "license_redeemed"

	// EventSubscribed acknowledges a subscription change. It is sent only
	// to the client that asked.
	EventSubscribed EventType = "subscribed"
)

// Event is one message on the stream. GangID is empty for global events
// such as flag toggles.
type Event struct {
	Type      EventType `json:"type"`
	GangID    string    `json:"gangId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// TierChange is the payload of tier_changed.
type TierChange struct {
	From      string     `json:"from,omitempty"`
	To        string     `json:"to"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Source    string     `json:"source"`
}

// FlagToggle is the payload of flag_toggled.
type FlagToggle struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
	By      string `json:"by,omitempty"`
}

// Redemption is the payload of license_redeemed.
type Redemption struct {
	Tier string `json:"tier"`
	// KeyHint is the tier prefix plus the last four characters.
	KeyHint string `json:"keyHint"`
}

// Subscription filters what a client receives. Empty lists match
// everything; global events pass any gang filter.
type Subscription struct {
	GangIDs    []string    `json:"gangIds"`
	EventTypes []EventType `json:"eventTypes"`
}

func (s Subscription) matches(ev *Event) bool {
	if len(s.EventTypes) > 0 && !contains(s.EventTypes, ev.Type) {
		return false
	}
	if ev.GangID == "" || len(s.GangIDs) == 0 {
		return true
	}
	return contains(s.GangIDs, ev.GangID)
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func keyHint(tier, key string) string {
	if len(key) <= 4 {
		return key
	}
	return tier + "-…" + key[len(key)-4:]
}
