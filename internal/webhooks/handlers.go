package webhooks

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/gangboard/internal/auth"
	"github.com/mbd888/gangboard/internal/circuitbreaker"
	"github.com/mbd888/gangboard/internal/idgen"
	"github.com/mbd888/gangboard/internal/logging"
	"github.com/mbd888/gangboard/internal/security"
)

type breakerView interface {
	Snapshot(key string) circuitbreaker.Snapshot
	Forget(key string)
}

// Handler provides HTTP endpoints for webhook management
type Handler struct {
	store       Store
	breaker     breakerView
	validateURL func(string) error
	now         func() time.Time
}

// NewHandler creates a new webhook handler
func NewHandler(store Store, d *Dispatcher) *Handler {
	h := &Handler{store: store, validateURL: security.ValidateEndpointURL, now: time.Now}
	if d != nil {
		h.breaker = d.Breaker()
	}
	return h
}

// RegisterRoutes sets up webhook routes. guards run before every handler
// (the server passes an ADMIN capability check and the webhook_notify gate).
func (h *Handler) RegisterRoutes(r gin.IRoutes, guards ...gin.HandlerFunc) {
	with := func(fn gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, guards...), fn)
	}
	r.POST("/gangs/:id/webhooks", with(h.CreateWebhook)...)
	r.GET("/gangs/:id/webhooks", with(h.ListWebhooks)...)
	r.DELETE("/gangs/:id/webhooks/:webhookId", with(h.DeleteWebhook)...)
}

// CreateWebhookRequest for creating a webhook subscription
type CreateWebhookRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events"`
}

// CreateWebhook handles POST /v1/gangs/:id/webhooks
func (h *Handler) CreateWebhook(c *gin.Context) {
	gangID := c.Param("id")
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "url is required"})
		return
	}

	events := []EventType{EventTierChanged, EventLicenseRedeemed}
	if len(req.Events) > 0 {
		events = events[:0]
		for _, e := range req.Events {
			t := EventType(strings.TrimSpace(e))
			if !ValidEvent(t) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": "unknown event type: " + e})
				return
			}
			events = append(events, t)
		}
	}
	if err := h.validateURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url", "message": err.Error()})
		return
	}

	ctx := c.Request.Context()
	existing, err := h.store.ListByGang(ctx, gangID)
	if err != nil {
		logging.L(ctx).Error("list webhooks failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to create webhook"})
		return
	}
	if len(existing) >= MaxPerGang {
		c.JSON(http.StatusConflict, gin.H{"error": "limit_reached", "message": ErrTooMany.Error()})
		return
	}

	w := &Webhook{
		ID:        idgen.WithPrefix("wh_"),
		GangID:    gangID,
		URL:       req.URL,
		Secret:    idgen.Hex(32),
		Events:    events,
		Active:    true,
		CreatedBy: auth.CallerID(c),
		CreatedAt: h.now().UTC(),
	}
	if err := h.store.Create(ctx, w); err != nil {
		logging.L(ctx).Error("create webhook failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to create webhook"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": w,
		"secret":  w.Secret,
		"usage": gin.H{
			"signature": "HMAC-SHA256 over \"<timestamp>.<body>\" with the secret",
			"headers":   []string{HeaderSignature, HeaderTimestamp, HeaderEvent},
		},
	})
}

// ListWebhooks handles GET /v1/gangs/:id/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	hooks, err := h.store.ListByGang(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list webhooks"})
		return
	}
	views := make([]webhookView, 0, len(hooks))
	for _, w := range hooks {
		v := webhookView{Webhook: w, Circuit: circuitbreaker.StateClosed.String()}
		if h.breaker != nil {
			snap := h.breaker.Snapshot(w.ID)
			v.Circuit = snap.State.String()
			if !snap.OpenUntil.IsZero() {
				v.PausedUntil = &snap.OpenUntil
			}
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": views})
}

// webhookView adds the delivery circuit state; "open" means deliveries
// are paused after repeated failures.
type webhookView struct {
	*Webhook
	Circuit     string     `json:"circuit"`
	PausedUntil *time.Time `json:"pausedUntil,omitempty"`
}

// DeleteWebhook handles DELETE /v1/gangs/:id/webhooks/:webhookId
func (h *Handler) DeleteWebhook(c *gin.Context) {
	id := c.Param("webhookId")
	if err := h.store.Delete(c.Request.Context(), c.Param("id"), id); err != nil {
		if errors.Is(err, ErrWebhookNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Webhook not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to delete webhook"})
		return
	}
	if h.breaker != nil {
		h.breaker.Forget(id)
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
