package license

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/gangboard/internal/auth"
	"github.com/mbd888/gangboard/internal/logging"
	"github.com/mbd888/gangboard/internal/pagination"
	"github.com/mbd888/gangboard/internal/tenant"
)

// Handler serves license HTTP endpoints.
type Handler struct {
	service *Service
	sweeper *Sweeper
}

// NewHandler creates a license handler.
func NewHandler(service *Service, sweeper *Sweeper) *Handler {
	return &Handler{service: service, sweeper: sweeper}
}

// RegisterGangRoutes sets up the redeem route. guards run before the
// handler (the server passes an OWNER capability check).
func (h *Handler) RegisterGangRoutes(r gin.IRoutes, guards ...gin.HandlerFunc) {
	handlers := append(append([]gin.HandlerFunc{}, guards...), h.Redeem)
	r.POST("/gangs/:id/licenses/redeem", handlers...)
}

// RegisterAdminRoutes sets up operator routes on an admin-only group.
func (h *Handler) RegisterAdminRoutes(r gin.IRoutes) {
	r.POST("/licenses", h.Issue)
	r.GET("/licenses", h.ListLicenses)
	r.GET("/licenses/:key", h.GetLicense)
	r.POST("/sweep", h.RunSweep)
}

// RedeemRequest is the body of a redeem call.
type RedeemRequest struct {
	Key string `json:"key" binding:"required"`
}

// Redeem handles POST /v1/gangs/:id/licenses/redeem
func (h *Handler) Redeem(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "key is required"})
		return
	}

	key := strings.ToUpper(strings.TrimSpace(req.Key))
	gangID := c.Param("id")
	res, err := h.service.Redeem(c.Request.Context(), key, gangID)
	if err != nil {
		switch {
		case errors.Is(err, ErrLicenseNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "invalid_key", "message": "License key not found"})
		case errors.Is(err, tenant.ErrTenantNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Gang not found"})
		case errors.Is(err, ErrAlreadyRedeemed), errors.Is(err, ErrLicenseExpired),
			errors.Is(err, ErrWouldDowngrade), errors.Is(err, ErrGangInactive):
			c.JSON(http.StatusConflict, gin.H{"error": "license_unusable", "message": err.Error()})
		default:
			logging.L(c.Request.Context()).Error("license redeem failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to redeem license"})
		}
		return
	}

	c.JSON(http.StatusOK, res)
}

// Issue handles POST /v1/admin/licenses
func (h *Handler) Issue(c *gin.Context) {
	var body struct {
		Tier         string     `json:"tier" binding:"required"`
		MaxMembers   *int       `json:"maxMembers"`
		DurationDays *int       `json:"durationDays"`
		ExpiresAt    *time.Time `json:"expiresAt"`
		CreatedBy    string     `json:"createdBy"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "tier is required"})
		return
	}

	createdBy := body.CreatedBy
	if createdBy == "" {
		createdBy = auth.CallerID(c)
	}
	lic, err := h.service.Issue(c.Request.Context(), IssueRequest{
		Tier:         tenant.Tier(strings.ToUpper(strings.TrimSpace(body.Tier))),
		MaxMembers:   body.MaxMembers,
		DurationDays: body.DurationDays,
		ExpiresAt:    body.ExpiresAt,
		CreatedBy:    createdBy,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTier) || errors.Is(err, ErrInvalidLimits) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": err.Error()})
			return
		}
		logging.L(c.Request.Context()).Error("license issue failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to issue license"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"license": lic})
}

// GetLicense handles GET /v1/admin/licenses/:key
func (h *Handler) GetLicense(c *gin.Context) {
	lic, err := h.service.Get(c.Request.Context(), strings.ToUpper(c.Param("key")))
	if err != nil {
		if errors.Is(err, ErrLicenseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "License not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to load license"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"license": lic})
}

// ListLicenses handles GET /v1/admin/licenses
func (h *Handler) ListLicenses(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
		return
	}
	opts := []ListOption{WithCursor(cursor)}
	if c.Query("status") == "unredeemed" {
		opts = append(opts, WithUnredeemed())
	}

	// Fetch one extra row to learn whether another page exists.
	items, err := h.service.List(c.Request.Context(), limit+1, opts...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list licenses"})
		return
	}
	page, next, hasMore := pagination.ComputePage(items, limit, func(l *License) (time.Time, string) {
		return l.CreatedAt, l.Key
	})
	if page == nil {
		page = []*License{}
	}
	c.JSON(http.StatusOK, gin.H{
		"licenses":   page,
		"count":      len(page),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// RunSweep handles POST /v1/admin/sweep
func (h *Handler) RunSweep(c *gin.Context) {
	res, err := h.sweeper.Sweep(c.Request.Context())
	if errors.Is(err, ErrSweepInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "sweep_in_progress", "message": "An expiry sweep is already running; try again shortly"})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("manual expiry sweep failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service_unavailable", "message": "Sweep failed; the scheduled run will retry"})
		return
	}
	c.JSON(http.StatusOK, res)
}
