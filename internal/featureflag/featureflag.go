// Package featureflag stores global kill-switches. A flag is tenant
// independent and overrides tier entitlement when disabled.
package featureflag

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// Errors
var (
	ErrFlagNotFound = errors.New("featureflag: not found")
	ErrInvalidKey   = errors.New("featureflag: key must be 1-64 lowercase letters, digits, '_' or '-'")
)

var keyPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidKey reports whether key is an acceptable flag key.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Flag is a global on/off switch.
type Flag struct {
	Key       string    `json:"key"`
	Enabled   bool      `json:"enabled"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists flags. Get returns ErrFlagNotFound for keys that were
// never written; callers treat that as enabled.
type Store interface {
	Get(ctx context.Context, key string) (*Flag, error)
	List(ctx context.Context) ([]*Flag, error)
	Set(ctx context.Context, f *Flag) error
}

// Enabled reports whether key is switched on. A missing row is enabled.
func Enabled(ctx context.Context, s Store, key string) (bool, error) {
	f, err := s.Get(ctx, key)
	if errors.Is(err, ErrFlagNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return f.Enabled, nil
}
