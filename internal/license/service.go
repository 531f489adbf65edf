package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/gangboard/internal/idgen"
	"github.com/mbd888/gangboard/internal/metrics"
	"github.com/mbd888/gangboard/internal/syncutil"
	"github.com/mbd888/gangboard/internal/tenant"
	"github.com/mbd888/gangboard/internal/traces"
)

// keyRandomLength is the length of the random part of a license key.
const keyRandomLength = 12

// maxKeyAttempts bounds retries on key collisions.
const maxKeyAttempts = 5

// EventEmitter publishes subscription changes to live subscribers.
type EventEmitter interface {
	EmitTierChanged(gangID string, from, to tenant.Tier, expiresAt *time.Time, source string)
	EmitLicenseRedeemed(gangID string, l *License)
}

// Service issues and redeems license keys.
type Service struct {
	store   Store
	tenants tenant.Store
	logger  *slog.Logger
	events  EventEmitter
	locks   *syncutil.KeyedMutex
	now     func() time.Time
	newKey  func(tier tenant.Tier) string
}

// NewService creates a license service.
func NewService(store Store, tenants tenant.Store, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		tenants: tenants,
		logger:  logger,
		locks:   syncutil.NewKeyedMutex(),
		now:     time.Now,
		newKey:  GenerateKey,
	}
}

// WithEvents adds a real-time event emitter.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// GenerateKey returns a key of the form {TIER}-{12 random characters}.
func GenerateKey(tier tenant.Tier) string {
	return string(tier) + "-" + idgen.Code(keyRandomLength)
}

// IssueRequest describes a license to create. Nil limits take the tier
// defaults.
type IssueRequest struct {
	Tier         tenant.Tier `json:"tier"`
	MaxMembers   *int        `json:"maxMembers,omitempty"`
	DurationDays *int        `json:"durationDays,omitempty"`
	ExpiresAt    *time.Time  `json:"expiresAt,omitempty"`
	CreatedBy    string      `json:"createdBy,omitempty"`
}

// Issue creates a new, immediately redeemable license.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*License, error) {
	ctx, span := traces.StartSpan(ctx, "license.Issue", traces.Tier(string(req.Tier)))
	defer span.End()

	if !tenant.Licensable(req.Tier) {
		return nil, ErrInvalidTier
	}
	maxMembers := tenant.ConfigFor(req.Tier).MaxMembers
	if req.MaxMembers != nil {
		maxMembers = *req.MaxMembers
	}
	duration := DefaultDurationDays
	if req.DurationDays != nil {
		duration = *req.DurationDays
	}
	if maxMembers <= 0 || duration <= 0 {
		return nil, ErrInvalidLimits
	}

	now := s.now()
	l := &License{
		Tier:         req.Tier,
		DurationDays: duration,
		MaxMembers:   maxMembers,
		IsActive:     true,
		ExpiresAt:    req.ExpiresAt,
		CreatedBy:    req.CreatedBy,
		CreatedAt:    now,
	}
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		l.Key = s.newKey(req.Tier)
		err := s.store.Create(ctx, l)
		if err == nil {
			metrics.LicensesIssuedTotal.WithLabelValues(string(l.Tier)).Inc()
			s.logger.Info("license issued", "tier", l.Tier, "duration_days", duration, "created_by", req.CreatedBy)
			return l, nil
		}
		if !errors.Is(err, ErrDuplicateKey) {
			return nil, fmt.Errorf("failed to store license: %w", err)
		}
	}
	return nil, ErrKeyGenExhausted
}

// Get returns a license by key.
func (s *Service) Get(ctx context.Context, key string) (*License, error) {
	return s.store.Get(ctx, key)
}

// List returns up to limit licenses, newest first.
func (s *Service) List(ctx context.Context, limit int, opts ...ListOption) ([]*License, error) {
	return s.store.List(ctx, limit, opts...)
}

// Redemption is the outcome of a successful redeem.
type Redemption struct {
	License      *License    `json:"license"`
	GangID       string      `json:"gangId"`
	PreviousTier tenant.Tier `json:"previousTier"`
	Tier         tenant.Tier `json:"tier"`
	ExpiresAt    time.Time   `json:"subscriptionExpiresAt"`
}

// Redeem claims the key for the gang and applies its tier. Renewing the
// same tier before expiry extends from the current expiry; anything else
// starts from now. A key never replaces a higher unexpired tier.
func (s *Service) Redeem(ctx context.Context, key, gangID string) (*Redemption, error) {
	ctx, span := traces.StartSpan(ctx, "license.Redeem", traces.GangID(gangID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, gangID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	gang, err := s.tenants.Get(ctx, gangID)
	if err != nil {
		return nil, err
	}
	if !gang.IsActive {
		return nil, ErrGangInactive
	}

	now := s.now()
	lic, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !lic.IsActive || lic.RedeemedAt != nil {
		return nil, ErrAlreadyRedeemed
	}
	if !lic.Redeemable(now) {
		return nil, ErrLicenseExpired
	}
	if tenant.Rank(gang.Tier) > tenant.Rank(lic.Tier) && subscriptionLive(gang, now) {
		return nil, ErrWouldDowngrade
	}

	claimed, err := s.store.Claim(ctx, key, gangID, now)
	if err != nil {
		return nil, err
	}

	base := now
	if gang.Tier == claimed.Tier && gang.SubscriptionExpiresAt != nil && gang.SubscriptionExpiresAt.After(now) {
		base = *gang.SubscriptionExpiresAt
	}
	expiresAt := base.AddDate(0, 0, claimed.DurationDays)

	if err := s.tenants.SetSubscription(ctx, gangID, claimed.Tier, &expiresAt, now); err != nil {
		if relErr := s.store.Release(ctx, key); relErr != nil {
			s.logger.Error("license release after failed redeem", "gang_id", gangID, "error", relErr)
		}
		traces.Fail(span, err)
		return nil, fmt.Errorf("failed to apply license tier: %w", err)
	}

	metrics.LicensesRedeemedTotal.WithLabelValues(string(claimed.Tier)).Inc()
	s.logger.Info("license redeemed", "gang_id", gangID, "tier", claimed.Tier,
		"previous_tier", gang.Tier, "expires_at", expiresAt)
	if s.events != nil {
		s.events.EmitLicenseRedeemed(gangID, claimed)
		if gang.Tier != claimed.Tier {
			s.events.EmitTierChanged(gangID, gang.Tier, claimed.Tier, &expiresAt, "license")
		}
	}

	return &Redemption{
		License:      claimed,
		GangID:       gangID,
		PreviousTier: gang.Tier,
		Tier:         claimed.Tier,
		ExpiresAt:    expiresAt,
	}, nil
}

// subscriptionLive reports whether the gang's current paid tier is still
// running. A paid tier without an expiry is treated as live.
func subscriptionLive(g *tenant.Tenant, now time.Time) bool {
	if g.Tier == tenant.TierFree {
		return false
	}
	return g.SubscriptionExpiresAt == nil || g.SubscriptionExpiresAt.After(now)
}
