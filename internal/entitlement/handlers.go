package entitlement

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/gangboard/internal/logging"
	"github.com/mbd888/gangboard/internal/tenant"
)

// Handler serves entitlement lookups for the bot and dashboard.
type Handler struct {
	gate    *Gate
	tenants tenant.Store
	grace   time.Duration
	now     func() time.Time
}

// NewHandler creates an entitlement handler. grace is the period a lapsed
// subscription keeps its tier before the expiry sweep downgrades it.
func NewHandler(gate *Gate, tenants tenant.Store, grace time.Duration) *Handler {
	return &Handler{gate: gate, tenants: tenants, grace: grace, now: time.Now}
}

// RegisterRoutes sets up gang-scoped routes. Callers wrap the group with
// membership checks.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/gangs/:id/features/:feature", h.CheckFeature)
	r.GET("/gangs/:id/subscription", h.GetSubscription)
}

// CheckFeature handles GET /v1/gangs/:id/features/:feature
func (h *Handler) CheckFeature(c *gin.Context) {
	feature := Feature(c.Param("feature"))
	if !ValidFeature(feature) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Unknown feature",
		})
		return
	}
	c.JSON(http.StatusOK, h.gate.CheckAccess(c.Request.Context(), c.Param("id"), feature))
}

// SubscriptionView is the dashboard's view of a gang's plan. Tier is the
// effective tier the gate enforces, so an inactive gang reports FREE and
// StoredTier carries what the subscription record says.
type SubscriptionView struct {
	GangID      string            `json:"gangId"`
	Tier        tenant.Tier       `json:"tier"`
	StoredTier  tenant.Tier       `json:"storedTier"`
	IsActive    bool              `json:"isActive"`
	ExpiresAt   *time.Time        `json:"subscriptionExpiresAt,omitempty"`
	InGrace     bool              `json:"inGrace"`
	Lapsed      bool              `json:"lapsed"`
	GraceEndsAt *time.Time        `json:"graceEndsAt,omitempty"`
	TierConfig  tenant.TierConfig `json:"tierConfig"`
	Features    []Feature         `json:"features"`
}

// GetSubscription handles GET /v1/gangs/:id/subscription
func (h *Handler) GetSubscription(c *gin.Context) {
	gang, err := h.tenants.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Gang not found"})
			return
		}
		logging.L(c.Request.Context()).Error("subscription lookup failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service_unavailable", "message": "Subscription could not be loaded"})
		return
	}

	c.JSON(http.StatusOK, h.view(gang))
}

func (h *Handler) view(gang *tenant.Tenant) SubscriptionView {
	effective := gang.Tier
	if !gang.IsActive {
		effective = tenant.TierFree
	}
	cfg := tenant.ConfigFor(effective)
	now := h.now()
	v := SubscriptionView{
		GangID:     gang.ID,
		Tier:       cfg.Tier,
		StoredTier: gang.Tier,
		IsActive:   gang.IsActive,
		ExpiresAt:  gang.SubscriptionExpiresAt,
		TierConfig: cfg,
		Features:   FeaturesFor(cfg),
	}
	if !gang.IsActive {
		return v
	}
	v.InGrace = gang.InGrace(now, h.grace)
	v.Lapsed = gang.Lapsed(now, h.grace)
	if gang.SubscriptionExpiresAt != nil && cfg.Paid {
		ends := gang.SubscriptionExpiresAt.Add(h.grace)
		v.GraceEndsAt = &ends
	}
	return v
}
