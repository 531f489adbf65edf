package tenant

import (
	"context"
	"time"
)

// Store persists tenant data.
type Store interface {
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	GetByStripeCustomer(ctx context.Context, customerID string) (*Tenant, error)
	Update(ctx context.Context, t *Tenant) error

	// SetSubscription overwrites tier and expiry in one row write. Concurrent
	// writers (sweep, redemption, billing, admin edits) are last-write-wins.
	SetSubscription(ctx context.Context, id string, tier Tier, expiresAt *time.Time, now time.Time) error

	// DowngradeExpired sets tier FREE on every active, non-FREE tenant whose
	// expiry is earlier than cutoff, and reports each one with the tier it
	// lost, ordered by ID. Tenants already on FREE are excluded, which makes
	// repeated calls no-ops.
	DowngradeExpired(ctx context.Context, cutoff, now time.Time) ([]Downgrade, error)
}

// Downgrade is one tenant moved to FREE by the expiry sweep.
type Downgrade struct {
	ID   string
	From Tier
}
