package permission

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/gangboard/internal/auth"
	"github.com/mbd888/gangboard/internal/denial"
	"github.com/mbd888/gangboard/internal/logging"
	"github.com/mbd888/gangboard/internal/member"
)

// Handler serves permission lookups and role changes.
type Handler struct {
	resolver *Resolver
	roles    *RoleChanger
}

// NewHandler creates a permission handler.
func NewHandler(resolver *Resolver, roles *RoleChanger) *Handler {
	return &Handler{resolver: resolver, roles: roles}
}

// RegisterRoutes sets up gang-scoped permission routes. The group is
// expected to run auth.RequireCaller already.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/gangs/:id/permissions", h.GetPermissions)
	r.PUT("/gangs/:id/members/:discordId/role", RequireCapability(h.resolver, CapAdmin), h.ChangeRole)
}

// GetPermissions handles GET /v1/gangs/:id/permissions
func (h *Handler) GetPermissions(c *gin.Context) {
	res := resultFor(c, h.resolver, c.Param(GangParam))
	c.JSON(http.StatusOK, gin.H{
		"gangId":     c.Param(GangParam),
		"callerId":   auth.CallerID(c),
		"permission": res,
	})
}

// ChangeRoleRequest is the body of a role change.
type ChangeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// ChangeRole handles PUT /v1/gangs/:id/members/:discordId/role
func (h *Handler) ChangeRole(c *gin.Context) {
	var req ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "role is required",
		})
		return
	}

	actor, _ := FromContext(c)
	gangID := c.Param(GangParam)
	target := c.Param("discordId")
	role := member.Role(strings.ToUpper(strings.TrimSpace(req.Role)))

	updated, err := h.roles.Change(c.Request.Context(), gangID, actor, auth.CallerID(c), target, role)
	if err != nil {
		switch {
		case errors.Is(err, member.ErrInvalidRole):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role", "message": err.Error()})
		case errors.Is(err, member.ErrMemberNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Member not found"})
		case errors.Is(err, ErrMultiAdminLocked):
			denial.Abort(c, denial.TierInsufficient, "Additional admins require the PREMIUM plan.")
		case errors.Is(err, ErrCannotAssign), errors.Is(err, ErrCannotModifyOwner),
			errors.Is(err, ErrCannotModifySelf), errors.Is(err, ErrCannotModifyPeer):
			denial.Abort(c, denial.InsufficientRole, err.Error())
		default:
			logging.L(c.Request.Context()).Error("role change failed", "target", target, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to change role"})
		}
		return
	}

	logging.L(c.Request.Context()).Info("member role changed", "target", target, "role", role)
	c.JSON(http.StatusOK, gin.H{"member": updated})
}
