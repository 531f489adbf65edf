package tenant

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/gangboard/internal/idgen"
	"github.com/mbd888/gangboard/internal/logging"
	"github.com/mbd888/gangboard/internal/member"
	"github.com/mbd888/gangboard/internal/validation"
)

// EventEmitter publishes admin-driven tier changes.
type EventEmitter interface {
	EmitTierChanged(gangID string, from, to Tier, expiresAt *time.Time, source string)
}

// Handler provides the admin endpoints for gangs and their members.
type Handler struct {
	store   Store
	members member.Store
	events  EventEmitter
	now     func() time.Time
}

// NewHandler creates a new tenant handler.
func NewHandler(store Store, members member.Store) *Handler {
	return &Handler{store: store, members: members, now: time.Now}
}

// WithEvents adds an event emitter.
func (h *Handler) WithEvents(e EventEmitter) *Handler {
	h.events = e
	return h
}

// RegisterAdminRoutes sets up the admin-only gang routes.
func (h *Handler) RegisterAdminRoutes(r gin.IRoutes) {
	r.POST("/admin/gangs", h.CreateGang)
	r.GET("/admin/gangs", h.FindGang)
	r.GET("/admin/gangs/:id", h.GetGang)
	r.PATCH("/admin/gangs/:id", h.UpdateGang)
	r.POST("/admin/gangs/:id/members", h.AddMember)
	r.PATCH("/admin/gangs/:id/subscription", h.SetSubscription)
}

// CreateGangRequest creates a gang, optionally with its owner.
type CreateGangRequest struct {
	Name             string `json:"name"`
	Slug             string `json:"slug"`
	Tier             string `json:"tier"`
	OwnerDiscordID   string `json:"ownerDiscordId"`
	OwnerName        string `json:"ownerName"`
	StripeCustomerID string `json:"stripeCustomerId"`
}

// CreateGang handles POST /v1/admin/gangs.
func (h *Handler) CreateGang(c *gin.Context) {
	var req CreateGangRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid JSON body"})
		return
	}
	req.Name = validation.SanitizeString(req.Name, 100)
	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	req.OwnerDiscordID = strings.TrimSpace(req.OwnerDiscordID)

	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.Required("slug", req.Slug),
		validation.Slug("slug", req.Slug),
		validation.DiscordID("ownerDiscordId", req.OwnerDiscordID),
	); len(errs) > 0 {
		validation.Abort(c, errs)
		return
	}

	tier := TierFree
	if req.Tier != "" {
		t, err := ParseTier(req.Tier)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tier", "message": "unknown tier"})
			return
		}
		tier = t
	}

	ctx := c.Request.Context()
	now := h.now().UTC()
	t := &Tenant{
		ID:               idgen.WithPrefix("gang_"),
		Name:             req.Name,
		Slug:             req.Slug,
		Tier:             tier,
		IsActive:         true,
		StripeCustomerID: strings.TrimSpace(req.StripeCustomerID),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.store.Create(ctx, t); err != nil {
		if errors.Is(err, ErrSlugTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "slug_taken", "message": "A gang with this slug already exists"})
			return
		}
		logging.L(ctx).Error("create gang failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to create gang"})
		return
	}

	resp := gin.H{"gang": t}
	if req.OwnerDiscordID != "" {
		owner := h.newMember(t.ID, req.OwnerDiscordID, req.OwnerName, member.RoleOwner, member.StatusApproved)
		if err := h.members.Create(ctx, owner); err != nil {
			logging.L(ctx).Error("create gang owner failed", "gang_id", t.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Gang created but owner could not be added"})
			return
		}
		resp["owner"] = owner
	}
	c.JSON(http.StatusCreated, resp)
}

// GetGang handles GET /v1/admin/gangs/:id.
func (h *Handler) GetGang(c *gin.Context) {
	t, ok := h.loadGang(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"gang": t})
}

// FindGang handles GET /v1/admin/gangs?slug=.
func (h *Handler) FindGang(c *gin.Context) {
	slug := strings.ToLower(strings.TrimSpace(c.Query("slug")))
	if errs := validation.Validate(
		validation.Required("slug", slug),
		validation.Slug("slug", slug),
	); len(errs) > 0 {
		validation.Abort(c, errs)
		return
	}
	t, err := h.store.GetBySlug(c.Request.Context(), slug)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Gang not found"})
			return
		}
		logging.L(c.Request.Context()).Error("find gang by slug failed", "slug", slug, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to load gang"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gang": t})
}

// UpdateGangRequest changes a gang's profile. Absent fields are left as is.
// Subscription changes go through SetSubscription instead.
type UpdateGangRequest struct {
	Name     *string `json:"name"`
	Slug     *string `json:"slug"`
	IsActive *bool   `json:"isActive"`
}

// UpdateGang handles PATCH /v1/admin/gangs/:id.
func (h *Handler) UpdateGang(c *gin.Context) {
	var req UpdateGangRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid JSON body"})
		return
	}
	var checks []func() *validation.ValidationError
	if req.Name != nil {
		n := validation.SanitizeString(*req.Name, 100)
		req.Name = &n
		checks = append(checks, validation.Required("name", n))
	}
	if req.Slug != nil {
		s := strings.ToLower(strings.TrimSpace(*req.Slug))
		req.Slug = &s
		checks = append(checks, validation.Required("slug", s), validation.Slug("slug", s))
	}
	if errs := validation.Validate(checks...); len(errs) > 0 {
		validation.Abort(c, errs)
		return
	}

	t, ok := h.loadGang(c)
	if !ok {
		return
	}
	wasActive := t.IsActive
	if req.Name != nil {
		t.Name = *req.Name
	}
	if req.Slug != nil {
		t.Slug = *req.Slug
	}
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}
	t.UpdatedAt = h.now().UTC()

	ctx := c.Request.Context()
	if err := h.store.Update(ctx, t); err != nil {
		switch {
		case errors.Is(err, ErrSlugTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "slug_taken", "message": "A gang with this slug already exists"})
		case errors.Is(err, ErrTenantNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Gang not found"})
		default:
			logging.L(ctx).Error("update gang failed", "gang_id", t.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to update gang"})
		}
		return
	}
	if wasActive != t.IsActive {
		logging.L(ctx).Info("gang activation changed", "gang_id", t.ID, "active", t.IsActive)
	}
	c.JSON(http.StatusOK, gin.H{"gang": t})
}

// AddMemberRequest registers a member in a gang.
type AddMemberRequest struct {
	DiscordID string `json:"discordId"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Status    string `json:"status"`
}

// AddMember handles POST /v1/admin/gangs/:id/members.
func (h *Handler) AddMember(c *gin.Context) {
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid JSON body"})
		return
	}
	req.DiscordID = strings.TrimSpace(req.DiscordID)
	if errs := validation.Validate(
		validation.Required("discordId", req.DiscordID),
		validation.DiscordID("discordId", req.DiscordID),
		validation.MaxLength("name", req.Name, 100),
	); len(errs) > 0 {
		validation.Abort(c, errs)
		return
	}

	role := member.RoleMember
	if req.Role != "" {
		role = member.Role(strings.ToUpper(strings.TrimSpace(req.Role)))
	}
	status := member.StatusApproved
	if req.Status != "" {
		status = member.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	}
	if !member.ValidRole(role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role", "message": "unknown role"})
		return
	}
	if !member.ValidStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "unknown status"})
		return
	}

	t, ok := h.loadGang(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	m := h.newMember(t.ID, req.DiscordID, validation.SanitizeString(req.Name, 100), role, status)
	if err := h.members.Create(ctx, m); err != nil {
		if errors.Is(err, member.ErrAlreadyMember) {
			c.JSON(http.StatusConflict, gin.H{"error": "already_member", "message": "This user already has an active membership"})
			return
		}
		logging.L(ctx).Error("add member failed", "gang_id", t.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to add member"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"member": m})
}

// SubscriptionRequest overrides a gang's subscription. A null expiresAt
// means the tier never expires.
type SubscriptionRequest struct {
	Tier      string     `json:"tier"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// SetSubscription handles PATCH /v1/admin/gangs/:id/subscription.
func (h *Handler) SetSubscription(c *gin.Context) {
	var req SubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid JSON body"})
		return
	}
	tier, err := ParseTier(req.Tier)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tier", "message": "unknown tier"})
		return
	}
	expiresAt := req.ExpiresAt
	if tier == TierFree {
		expiresAt = nil
	}

	t, ok := h.loadGang(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	now := h.now().UTC()
	if err := h.store.SetSubscription(ctx, t.ID, tier, expiresAt, now); err != nil {
		logging.L(ctx).Error("set subscription failed", "gang_id", t.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to update subscription"})
		return
	}
	logging.L(ctx).Info("subscription overridden", "gang_id", t.ID, "from", t.Tier, "to", tier)
	if h.events != nil && t.Tier != tier {
		h.events.EmitTierChanged(t.ID, t.Tier, tier, expiresAt, "admin")
	}

	t.Tier = tier
	t.SubscriptionExpiresAt = expiresAt
	t.UpdatedAt = now
	c.JSON(http.StatusOK, gin.H{"gang": t})
}

func (h *Handler) loadGang(c *gin.Context) (*Tenant, bool) {
	t, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Gang not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to load gang"})
		return nil, false
	}
	return t, true
}

func (h *Handler) newMember(gangID, discordID, name string, role member.Role, status member.Status) *member.Member {
	now := h.now().UTC()
	return &member.Member{
		ID:        idgen.WithPrefix("mem_"),
		GangID:    gangID,
		DiscordID: discordID,
		Name:      name,
		Role:      role,
		Status:    status,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
