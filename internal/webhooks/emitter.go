package webhooks

import (
	"time"

	"github.com/mbd888/gangboard/internal/idgen"
)

// Emitter turns subscription changes into webhook events. Methods return
// immediately; dispatch runs in the background.
type Emitter struct {
	d   *Dispatcher
	now func() time.Time
}

// NewEmitter creates a webhook emitter.
func NewEmitter(d *Dispatcher) *Emitter {
	return &Emitter{d: d, now: time.Now}
}

func (e *Emitter) emit(gangID string, t EventType, data map[string]any) {
	if e == nil || e.d == nil || gangID == "" {
		return
	}
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      t,
		GangID:    gangID,
		Timestamp: e.now().UTC(),
		Data:      data,
	}
	e.d.DispatchAsync(event)
}

// EmitTierChanged notifies a gang that its tier changed.
func (e *Emitter) EmitTierChanged(gangID, from, to string, expiresAt *time.Time, source string) {
	data := map[string]any{"from": from, "to": to, "source": source}
	if expiresAt != nil {
		data["expiresAt"] = expiresAt.UTC()
	}
	e.emit(gangID, EventTierChanged, data)
}

// EmitLicenseRedeemed notifies a gang that one of its members redeemed a key.
func (e *Emitter) EmitLicenseRedeemed(gangID, tier string, durationDays int) {
	e.emit(gangID, EventLicenseRedeemed, map[string]any{"tier": tier, "durationDays": durationDays})
}
