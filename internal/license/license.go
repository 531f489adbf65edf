// Package license issues and redeems license keys that move a gang onto a
// paid tier, and sweeps gangs whose paid period lapsed past the grace
// window back to FREE.
package license

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/gangboard/internal/pagination"
	"github.com/mbd888/gangboard/internal/tenant"
)

// Errors
var (
	ErrLicenseNotFound = errors.New("license: not found")
	ErrDuplicateKey    = errors.New("license: key already exists")
	ErrInvalidTier     = errors.New("license: only PRO and PREMIUM are licensable")
	ErrInvalidLimits   = errors.New("license: maxMembers and durationDays must be positive")
	ErrAlreadyRedeemed = errors.New("license: already redeemed or deactivated")
	ErrLicenseExpired  = errors.New("license: key has expired")
	ErrWouldDowngrade  = errors.New("license: gang already holds a higher tier")
	ErrGangInactive    = errors.New("license: gang is not active")
	ErrKeyGenExhausted = errors.New("license: could not generate a unique key")
)

// DefaultDurationDays applies when Issue is not given a duration.
const DefaultDurationDays = 30

// License is a redeemable grant of a paid tier.
type License struct {
	Key          string      `json:"key"`
	Tier         tenant.Tier `json:"tier"`
	DurationDays int         `json:"durationDays"`
	MaxMembers   int         `json:"maxMembers"`
	IsActive     bool        `json:"isActive"`
	ExpiresAt    *time.Time  `json:"expiresAt,omitempty"` // last moment the key may be redeemed
	CreatedBy    string      `json:"createdBy,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	RedeemedBy   string      `json:"redeemedBy,omitempty"` // gang id
	RedeemedAt   *time.Time  `json:"redeemedAt,omitempty"`
}

// Redeemable reports whether the key can still be claimed at now.
func (l *License) Redeemable(now time.Time) bool {
	if !l.IsActive || l.RedeemedAt != nil {
		return false
	}
	return l.ExpiresAt == nil || now.Before(*l.ExpiresAt)
}

// Store persists licenses.
type Store interface {
	// Create inserts a license; ErrDuplicateKey when the key exists.
	Create(ctx context.Context, l *License) error
	Get(ctx context.Context, key string) (*License, error)
	// Claim atomically deactivates an active, unexpired key and records
	// the redeeming gang. Exactly one concurrent caller succeeds.
	Claim(ctx context.Context, key, gangID string, now time.Time) (*License, error)
	// Release undoes a Claim whose tier write failed.
	Release(ctx context.Context, key string) error
	// List returns licenses newest first, ordered by (createdAt, key).
	List(ctx context.Context, limit int, opts ...ListOption) ([]*License, error)
}

// ListOption configures optional parameters for List.
type ListOption func(*listOpts)

type listOpts struct {
	cursor     *pagination.Cursor
	unredeemed bool
}

func applyListOpts(opts []ListOption) listOpts {
	var o listOpts
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithCursor resumes listing after the given position.
func WithCursor(c *pagination.Cursor) ListOption {
	return func(o *listOpts) {
		o.cursor = c
	}
}

// WithUnredeemed restricts the listing to keys that were never claimed
// and are still active.
func WithUnredeemed() ListOption {
	return func(o *listOpts) {
		o.unredeemed = true
	}
}

// before reports whether l sorts after the cursor in newest-first order.
func (o listOpts) before(l *License) bool {
	if o.cursor == nil {
		return true
	}
	if l.CreatedAt.Equal(o.cursor.CreatedAt) {
		return l.Key < o.cursor.ID
	}
	return l.CreatedAt.Before(o.cursor.CreatedAt)
}
