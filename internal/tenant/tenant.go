// Package tenant holds gangs, the tenants of the platform, together with
// their subscription state and the tier catalogue.
package tenant

import (
	"errors"
	"time"
)

// Errors
var (
	ErrTenantNotFound = errors.New("tenant: not found")
	ErrSlugTaken      = errors.New("tenant: slug already taken")
	ErrInvalidTier    = errors.New("tenant: unknown tier")
)

// Tenant is a gang: an independent community with its own members,
// finances and subscription tier.
type Tenant struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name"`
	Slug                  string     `json:"slug"`
	Tier                  Tier       `json:"subscriptionTier"`
	SubscriptionExpiresAt *time.Time `json:"subscriptionExpiresAt,omitempty"`
	IsActive              bool       `json:"isActive"`
	StripeCustomerID      string     `json:"stripeCustomerId,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// InGrace reports whether a paid subscription has lapsed but is still
// inside the grace window, so access is kept until the expiry sweep runs.
func (t *Tenant) InGrace(now time.Time, grace time.Duration) bool {
	if t.Tier == TierFree || t.SubscriptionExpiresAt == nil {
		return false
	}
	exp := *t.SubscriptionExpiresAt
	return exp.Before(now) && !exp.Before(now.Add(-grace))
}

// Lapsed reports whether the expiry sweep would downgrade this tenant.
func (t *Tenant) Lapsed(now time.Time, grace time.Duration) bool {
	return t.IsActive &&
		t.Tier != TierFree &&
		t.SubscriptionExpiresAt != nil &&
		t.SubscriptionExpiresAt.Before(now.Add(-grace))
}
