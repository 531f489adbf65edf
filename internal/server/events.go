package server

import (
	"time"

	"github.com/mbd888/gangboard/internal/featureflag"
	"github.com/mbd888/gangboard/internal/license"
	"github.com/mbd888/gangboard/internal/realtime"
	"github.com/mbd888/gangboard/internal/tenant"
	"github.com/mbd888/gangboard/internal/webhooks"
)

// subscriptionEvents fans subscription changes out to WebSocket clients and
// to the gang's own webhooks.
type subscriptionEvents struct {
	hub   *realtime.Hub
	hooks *webhooks.Emitter
}

func (e *subscriptionEvents) EmitTierChanged(gangID string, from, to tenant.Tier, expiresAt *time.Time, source string) {
	e.hub.EmitTierChanged(gangID, string(from), string(to), expiresAt, source)
	if e.hooks != nil {
		e.hooks.EmitTierChanged(gangID, string(from), string(to), expiresAt, source)
	}
}

func (e *subscriptionEvents) EmitLicenseRedeemed(gangID string, l *license.License) {
	e.hub.EmitLicenseRedeemed(gangID, string(l.Tier), l.Key)
	if e.hooks != nil {
		e.hooks.EmitLicenseRedeemed(gangID, string(l.Tier), l.DurationDays)
	}
}

// Flag toggles are global, so they only reach the realtime stream.
func (e *subscriptionEvents) EmitFlagToggled(f *featureflag.Flag) {
	e.hub.EmitFlagToggled(f.Key, f.Enabled, f.UpdatedBy)
}

var (
	_ license.EventEmitter     = (*subscriptionEvents)(nil)
	_ tenant.EventEmitter      = (*subscriptionEvents)(nil)
	_ featureflag.EventEmitter = (*subscriptionEvents)(nil)
)
