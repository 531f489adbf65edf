// Package permission resolves what a caller may do inside a gang.
//
// Roles are not nested. OWNER carries every capability, ADMIN carries
// admin and member, TREASURER carries treasurer only, MEMBER carries member
// only. Authorization always checks a capability, never the level, because
// ADMIN and TREASURER are siblings.
package permission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/gangboard/internal/logging"
	"github.com/mbd888/gangboard/internal/member"
	"github.com/mbd888/gangboard/internal/metrics"
	"github.com/mbd888/gangboard/internal/tenant"
	"github.com/mbd888/gangboard/internal/traces"
)

// Level is the display level of a caller inside one gang.
type Level string

const (
	LevelNone      Level = "NONE"
	LevelMember    Level = "MEMBER"
	LevelTreasurer Level = "TREASURER"
	LevelAdmin     Level = "ADMIN"
	LevelOwner     Level = "OWNER"
)

// Capability is a single permission checked by handlers.
type Capability string

const (
	CapOwner     Capability = "owner"
	CapAdmin     Capability = "admin"
	CapTreasurer Capability = "treasurer"
	CapMember    Capability = "member"
)

// Result is the capability set of one caller in one gang.
type Result struct {
	Level       Level `json:"level"`
	IsOwner     bool  `json:"isOwner"`
	IsAdmin     bool  `json:"isAdmin"`
	IsTreasurer bool  `json:"isTreasurer"`
	IsMember    bool  `json:"isMember"`
}

// None is the fail-closed result.
var None = Result{Level: LevelNone}

var roleCapabilities = map[member.Role]Result{
	member.RoleOwner:     {Level: LevelOwner, IsOwner: true, IsAdmin: true, IsTreasurer: true, IsMember: true},
	member.RoleAdmin:     {Level: LevelAdmin, IsAdmin: true, IsMember: true},
	member.RoleTreasurer: {Level: LevelTreasurer, IsTreasurer: true},
	member.RoleMember:    {Level: LevelMember, IsMember: true},
}

// ForRole returns the capability set of a role; unknown roles get None.
func ForRole(r member.Role) Result {
	if res, ok := roleCapabilities[r]; ok {
		return res
	}
	return None
}

// Has reports whether the result carries the capability.
func (r Result) Has(c Capability) bool {
	switch c {
	case CapOwner:
		return r.IsOwner
	case CapAdmin:
		return r.IsAdmin
	case CapTreasurer:
		return r.IsTreasurer
	case CapMember:
		return r.IsMember
	}
	return false
}

// Resolver maps (gang, caller) to a capability set. It never returns an
// error: any lookup failure resolves to None.
type Resolver struct {
	tenants tenant.Store
	members member.Store
	logger  *slog.Logger
}

// NewResolver creates a resolver over the gang and member stores.
func NewResolver(tenants tenant.Store, members member.Store, logger *slog.Logger) *Resolver {
	return &Resolver{tenants: tenants, members: members, logger: logger}
}

// Resolve returns the caller's capabilities inside the gang.
func (r *Resolver) Resolve(ctx context.Context, gangID, callerID string) Result {
	ctx, span := traces.StartSpan(ctx, "permission.Resolve", traces.GangID(gangID), traces.CallerID(callerID))
	defer span.End()

	res := r.resolve(ctx, gangID, callerID)
	metrics.PermissionResolutionsTotal.WithLabelValues(string(res.Level)).Inc()
	span.SetAttributes(traces.Outcome(string(res.Level)))
	return res
}

func (r *Resolver) resolve(ctx context.Context, gangID, callerID string) Result {
	if gangID == "" || callerID == "" {
		return None
	}
	log := r.logger.With("gang_id", gangID, "caller_id", callerID, "request_id", logging.RequestID(ctx))

	gang, err := r.tenants.Get(ctx, gangID)
	if err != nil {
		if !errors.Is(err, tenant.ErrTenantNotFound) {
			log.Warn("permission resolve: gang lookup failed", "error", err)
		}
		return None
	}
	if !gang.IsActive {
		return None
	}

	m, err := r.members.GetActive(ctx, gangID, callerID)
	if err != nil {
		if !errors.Is(err, member.ErrMemberNotFound) {
			log.Warn("permission resolve: member lookup failed", "error", err)
		}
		return None
	}
	if m.Status != member.StatusApproved {
		return None
	}
	return ForRole(m.Role)
}

// AssignableRoles lists the roles an actor may grant.
// Nobody assigns OWNER; ownership moves outside this flow.
func AssignableRoles(actor Result) []member.Role {
	switch {
	case actor.IsOwner:
		return []member.Role{member.RoleAdmin, member.RoleTreasurer, member.RoleMember}
	case actor.IsAdmin:
		return []member.Role{member.RoleTreasurer, member.RoleMember}
	}
	return nil
}

// Errors returned by role changes.
var (
	ErrCannotAssign      = errors.New("permission: role cannot be assigned by this caller")
	ErrCannotModifyOwner = errors.New("permission: the owner's role cannot be changed")
	ErrCannotModifySelf  = errors.New("permission: callers cannot change their own role")
	ErrCannotModifyPeer  = errors.New("permission: admins cannot change another admin's role")
	ErrMultiAdminLocked  = errors.New("permission: additional admins require the multi_admin feature")
)

// MultiAdminChecker reports whether a gang may hold more than one ADMIN.
type MultiAdminChecker interface {
	MultiAdminAllowed(ctx context.Context, gangID string) bool
}

// RoleChanger applies role changes under the assignment rules.
type RoleChanger struct {
	members    member.Store
	multiAdmin MultiAdminChecker
	now        func() time.Time
}

// NewRoleChanger creates a role changer.
func NewRoleChanger(members member.Store, multiAdmin MultiAdminChecker) *RoleChanger {
	return &RoleChanger{members: members, multiAdmin: multiAdmin, now: time.Now}
}

// Change sets the target member's role. actor is the caller's resolved
// capability set; actorID is the caller's discord id.
func (rc *RoleChanger) Change(ctx context.Context, gangID string, actor Result, actorID, targetDiscordID string, role member.Role) (*member.Member, error) {
	if !member.ValidRole(role) {
		return nil, member.ErrInvalidRole
	}
	if !canAssign(actor, role) {
		return nil, ErrCannotAssign
	}
	if actorID == targetDiscordID {
		return nil, ErrCannotModifySelf
	}

	target, err := rc.members.GetActive(ctx, gangID, targetDiscordID)
	if err != nil {
		return nil, err
	}
	if target.Role == member.RoleOwner {
		return nil, ErrCannotModifyOwner
	}
	if target.Role == member.RoleAdmin && !actor.IsOwner {
		return nil, ErrCannotModifyPeer
	}
	if target.Role == role {
		return target, nil
	}

	if role == member.RoleAdmin {
		admins, err := rc.members.CountActive(ctx, gangID, member.RoleAdmin)
		if err != nil {
			return nil, err
		}
		if admins >= 1 && !rc.multiAdmin.MultiAdminAllowed(ctx, gangID) {
			return nil, ErrMultiAdminLocked
		}
	}

	target.Role = role
	target.UpdatedAt = rc.now()
	if err := rc.members.Update(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}

func canAssign(actor Result, role member.Role) bool {
	for _, r := range AssignableRoles(actor) {
		if r == role {
			return true
		}
	}
	return false
}
