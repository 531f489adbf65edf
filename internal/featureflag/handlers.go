package featureflag

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/gangboard/internal/auth"
	"github.com/mbd888/gangboard/internal/logging"
)

// EventEmitter publishes flag changes to live subscribers.
type EventEmitter interface {
	EmitFlagToggled(f *Flag)
}

// Handler serves operator flag endpoints.
type Handler struct {
	store  Store
	events EventEmitter
	now    func() time.Time
}

// NewHandler creates a flag handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store, now: time.Now}
}

// WithEvents adds a real-time event emitter.
func (h *Handler) WithEvents(e EventEmitter) *Handler {
	h.events = e
	return h
}

// RegisterAdminRoutes sets up flag routes on an admin-only group.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/flags", h.ListFlags)
	r.PUT("/flags/:key", h.SetFlag)
}

// ListFlags handles GET /v1/admin/flags
func (h *Handler) ListFlags(c *gin.Context) {
	flags, err := h.store.List(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("list flags failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list flags"})
		return
	}
	if flags == nil {
		flags = []*Flag{}
	}
	c.JSON(http.StatusOK, gin.H{"flags": flags, "count": len(flags)})
}

// SetFlagRequest is the body of PUT /v1/admin/flags/:key.
type SetFlagRequest struct {
	Enabled *bool  `json:"enabled" binding:"required"`
	By      string `json:"by"`
}

// SetFlag handles PUT /v1/admin/flags/:key
func (h *Handler) SetFlag(c *gin.Context) {
	var req SetFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "enabled is required"})
		return
	}

	by := req.By
	if by == "" {
		by = auth.CallerID(c)
	}
	if by == "" {
		by = "admin"
	}
	f := &Flag{
		Key:       c.Param("key"),
		Enabled:   *req.Enabled,
		UpdatedBy: by,
		UpdatedAt: h.now(),
	}
	if err := h.store.Set(c.Request.Context(), f); err != nil {
		if errors.Is(err, ErrInvalidKey) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_key", "message": err.Error()})
			return
		}
		logging.L(c.Request.Context()).Error("set flag failed", "key", f.Key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to set flag"})
		return
	}

	logging.L(c.Request.Context()).Info("feature flag changed", "key", f.Key, "enabled", f.Enabled, "by", by)
	if h.events != nil {
		h.events.EmitFlagToggled(f)
	}
	c.JSON(http.StatusOK, gin.H{"flag": f})
}
