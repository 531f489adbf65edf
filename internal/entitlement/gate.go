// Package entitlement decides whether a gang may use a feature right now.
//
// Order of evaluation: the global kill-switch first, then the gang's
// current tier. A disabled switch denies even the top tier. Every lookup
// failure denies; nothing here returns an error to the caller. The tier is
// resolved for every known feature so that kill-switch denials still
// report the plan the gang is on.
package entitlement

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mbd888/gangboard/internal/denial"
	"github.com/mbd888/gangboard/internal/featureflag"
	"github.com/mbd888/gangboard/internal/logging"
	"github.com/mbd888/gangboard/internal/metrics"
	"github.com/mbd888/gangboard/internal/tenant"
	"github.com/mbd888/gangboard/internal/traces"
)

const (
	msgTopTier       = "This feature requires the PREMIUM plan. Upgrade to unlock it."
	msgPaid          = "This feature requires a paid plan (PRO or PREMIUM). Upgrade to unlock it."
	msgAdminDisabled = "This feature has been temporarily disabled by an administrator."
	msgUnavailable   = "Access could not be verified right now. Please try again shortly."
	msgUnknown       = "Unknown feature."
)

// Result is the outcome of an access check. Tier and TierConfig are set
// for every known feature, whatever the outcome, and are empty only for an
// unknown feature.
type Result struct {
	Allowed         bool               `json:"allowed"`
	Feature         Feature            `json:"feature"`
	Tier            tenant.Tier        `json:"tier,omitempty"`
	TierConfig      *tenant.TierConfig `json:"tierConfig,omitempty"`
	Message         string             `json:"message,omitempty"`
	DisabledByAdmin bool               `json:"disabledByAdmin,omitempty"`
	Reason          denial.Reason      `json:"reason,omitempty"`
}

// Gate combines the tier catalogue, the kill-switch store and the gang's
// current tier. The tier is read on every call; nothing is cached here.
type Gate struct {
	flags   featureflag.Store
	tenants tenant.Store
	logger  *slog.Logger
}

// NewGate creates an entitlement gate.
func NewGate(flags featureflag.Store, tenants tenant.Store, logger *slog.Logger) *Gate {
	return &Gate{flags: flags, tenants: tenants, logger: logger}
}

// CheckAccess reports whether the gang may use the feature.
func (g *Gate) CheckAccess(ctx context.Context, gangID string, feature Feature) Result {
	ctx, span := traces.StartSpan(ctx, "entitlement.CheckAccess",
		traces.GangID(gangID), traces.Feature(string(feature)))
	defer span.End()

	res := g.check(ctx, gangID, feature)

	outcome := "allowed"
	if !res.Allowed {
		outcome = string(res.Reason)
	}
	label := string(feature)
	if !ValidFeature(feature) {
		label = "unknown"
	}
	metrics.AccessDecisionsTotal.WithLabelValues(label, outcome).Inc()
	span.SetAttributes(traces.Tier(string(res.Tier)), traces.Outcome(outcome))
	return res
}

func (g *Gate) check(ctx context.Context, gangID string, feature Feature) Result {
	log := g.logger.With("gang_id", gangID, "feature", feature, "request_id", logging.RequestID(ctx))

	if !ValidFeature(feature) {
		return Result{Feature: feature, Message: msgUnknown, Reason: denial.TierInsufficient}
	}

	tier := g.currentTier(ctx, log, gangID)
	cfg := tenant.ConfigFor(tier)
	res := Result{Feature: feature, Tier: cfg.Tier, TierConfig: &cfg}

	if key := FlagKey(feature); key != "" {
		enabled, err := featureflag.Enabled(ctx, g.flags, key)
		if err != nil {
			log.Warn("entitlement: flag lookup failed", "flag", key, "error", err)
			res.Message, res.Reason = msgUnavailable, denial.ServiceUnavailable
			return res
		}
		if !enabled {
			res.Message, res.Reason, res.DisabledByAdmin = msgAdminDisabled, denial.AdminDisabled, true
			return res
		}
	}

	if Includes(cfg, feature) {
		res.Allowed = true
		return res
	}

	res.Reason = denial.TierInsufficient
	if TopTierOnly(feature) {
		res.Message = msgTopTier
	} else {
		res.Message = msgPaid
	}
	return res
}

// currentTier loads the gang's tier, falling back to FREE when the gang is
// missing, inactive or unreadable.
func (g *Gate) currentTier(ctx context.Context, log *slog.Logger, gangID string) tenant.Tier {
	gang, err := g.tenants.Get(ctx, gangID)
	if err != nil {
		if !errors.Is(err, tenant.ErrTenantNotFound) {
			log.Warn("entitlement: gang lookup failed", "error", err)
		}
		return tenant.TierFree
	}
	if !gang.IsActive {
		return tenant.TierFree
	}
	return gang.Tier
}

// MultiAdminAllowed reports whether the gang may hold more than one ADMIN.
func (g *Gate) MultiAdminAllowed(ctx context.Context, gangID string) bool {
	return g.CheckAccess(ctx, gangID, FeatureMultiAdmin).Allowed
}
