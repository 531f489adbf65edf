// Package member stores gang membership: who belongs to which gang, with
// which role, and whether the registration was approved.
package member

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrMemberNotFound   = errors.New("member: not found")
	ErrAlreadyMember    = errors.New("member: an active membership already exists")
	ErrInvalidRole      = errors.New("member: unknown role")
	ErrInvalidStatus    = errors.New("member: unknown status")
	ErrMissingDiscordID = errors.New("member: discord id required")
)

// Role is the role a member holds inside one gang.
type Role string

const (
	RoleOwner     Role = "OWNER"
	RoleAdmin     Role = "ADMIN"
	RoleTreasurer Role = "TREASURER"
	RoleMember    Role = "MEMBER"
)

// ValidRole returns true for the four assignable roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleTreasurer, RoleMember:
		return true
	}
	return false
}

// Status is the registration state of a membership.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// ValidStatus returns true for known registration states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Member links a Discord identity to a gang.
type Member struct {
	ID        string    `json:"id"`
	GangID    string    `json:"gangId"`
	DiscordID string    `json:"discordId"`
	Name      string    `json:"name"`
	Role      Role      `json:"gangRole"`
	Status    Status    `json:"status"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists members. At most one active member may exist per
// (gang, discord id); soft deletion flips IsActive.
type Store interface {
	Create(ctx context.Context, m *Member) error
	Get(ctx context.Context, id string) (*Member, error)
	// GetActive returns the active member for (gangID, discordID) regardless
	// of status; callers decide what status grants.
	GetActive(ctx context.Context, gangID, discordID string) (*Member, error)
	Update(ctx context.Context, m *Member) error
	CountActive(ctx context.Context, gangID string, role Role) (int, error)
}
