// Package billing applies Stripe subscription state to gang tiers.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/gangboard/internal/syncutil"
	"github.com/mbd888/gangboard/internal/tenant"
)

// Outcome describes what a subscription event did to its gang.
type Outcome string

const (
	OutcomeGranted         Outcome = "granted"
	OutcomeRevoked         Outcome = "revoked"
	OutcomeUnchanged       Outcome = "unchanged"
	OutcomeUnknownCustomer Outcome = "unknown_customer"
	OutcomeUnknownPrice    Outcome = "unknown_price"
)

// Subscription is the slice of a Stripe subscription object we read.
type Subscription struct {
	ID               string            `json:"id"`
	Customer         string            `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID       string            `json:"id"`
				Metadata map[string]string `json:"metadata"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// periodEnd prefers the subscription-level field and falls back to the
// first item, where newer API versions carry it.
func (s Subscription) periodEnd() (time.Time, bool) {
	if s.CurrentPeriodEnd > 0 {
		return time.Unix(s.CurrentPeriodEnd, 0).UTC(), true
	}
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > 0 {
			return time.Unix(item.CurrentPeriodEnd, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

// EventEmitter publishes tier changes to live subscribers.
type EventEmitter interface {
	EmitTierChanged(gangID string, from, to tenant.Tier, expiresAt *time.Time, source string)
}

// Config maps Stripe prices to tiers.
type Config struct {
	WebhookSecret string
	PricePro      string
	PricePremium  string
}

// Service applies subscription events. Events for one customer are
// serialised so two deliveries cannot interleave their read and write.
type Service struct {
	tenants tenant.Store
	prices  map[string]tenant.Tier
	logger  *slog.Logger
	events  EventEmitter
	locks   *syncutil.KeyedMutex
	now     func() time.Time
}

// NewService creates a billing service.
func NewService(cfg Config, tenants tenant.Store, logger *slog.Logger) *Service {
	prices := make(map[string]tenant.Tier)
	if cfg.PricePro != "" {
		prices[cfg.PricePro] = tenant.TierPro
	}
	if cfg.PricePremium != "" {
		prices[cfg.PricePremium] = tenant.TierPremium
	}
	return &Service{
		tenants: tenants,
		prices:  prices,
		logger:  logger,
		locks:   syncutil.NewKeyedMutex(),
		now:     time.Now,
	}
}

// WithEvents adds a real-time event emitter.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// tierFor resolves the tier a subscription pays for: a configured price
// ID first, then a "tier" metadata key on the price or the subscription.
func (s *Service) tierFor(sub Subscription) (tenant.Tier, bool) {
	for _, item := range sub.Items.Data {
		if tier, ok := s.prices[item.Price.ID]; ok {
			return tier, true
		}
	}
	candidates := []string{sub.Metadata["tier"]}
	for _, item := range sub.Items.Data {
		candidates = append(candidates, item.Price.Metadata["tier"])
	}
	for _, c := range candidates {
		if tier, err := tenant.ParseTier(c); err == nil && tenant.Licensable(tier) {
			return tier, true
		}
	}
	return "", false
}

// Apply writes the gang tier a subscription implies. deleted marks a
// customer.subscription.deleted event regardless of the carried status.
func (s *Service) Apply(ctx context.Context, sub Subscription, deleted bool) (Outcome, error) {
	customer := strings.TrimSpace(sub.Customer)
	if customer == "" {
		return OutcomeUnknownCustomer, nil
	}
	unlock := s.locks.Lock(customer)
	defer unlock()

	gang, err := s.tenants.GetByStripeCustomer(ctx, customer)
	if errors.Is(err, tenant.ErrTenantNotFound) {
		s.logger.Warn("stripe event for unknown customer", "customer", customer, "subscription", sub.ID)
		return OutcomeUnknownCustomer, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup gang by customer: %w", err)
	}

	status := strings.ToLower(sub.Status)
	if deleted {
		status = "canceled"
	}

	var (
		tier      tenant.Tier
		expiresAt *time.Time
		outcome   Outcome
	)
	switch status {
	case "active", "trialing":
		t, ok := s.tierFor(sub)
		if !ok {
			s.logger.Warn("stripe subscription has no known tier", "gang_id", gang.ID, "subscription", sub.ID)
			return OutcomeUnknownPrice, nil
		}
		end, ok := sub.periodEnd()
		if !ok {
			return "", fmt.Errorf("subscription %s has no current period end", sub.ID)
		}
		tier, expiresAt, outcome = t, &end, OutcomeGranted
	case "past_due", "unpaid", "incomplete":
		// Access runs until the expiry sweep clears the grace window.
		return OutcomeUnchanged, nil
	default:
		tier, outcome = tenant.TierFree, OutcomeRevoked
	}

	if gang.Tier == tier && sameTime(gang.SubscriptionExpiresAt, expiresAt) {
		return OutcomeUnchanged, nil
	}
	if err := s.tenants.SetSubscription(ctx, gang.ID, tier, expiresAt, s.now()); err != nil {
		return "", fmt.Errorf("apply subscription: %w", err)
	}

	s.logger.Info("subscription applied from stripe",
		"gang_id", gang.ID, "status", status, "from", gang.Tier, "to", tier)
	if s.events != nil {
		s.events.EmitTierChanged(gang.ID, gang.Tier, tier, expiresAt, "billing")
	}
	return outcome, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
