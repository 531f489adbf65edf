package billing

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/mbd888/gangboard/internal/logging"
	"github.com/mbd888/gangboard/internal/metrics"
)

const webhookBodyLimit = 1 << 20

// Handler receives Stripe webhooks.
type Handler struct {
	secret  string
	service *Service
}

// NewHandler creates a webhook handler. An empty secret refuses every
// delivery with 503.
func NewHandler(secret string, service *Service) *Handler {
	return &Handler{secret: secret, service: service}
}

// RegisterRoutes sets up the webhook route.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/billing/stripe/webhook", h.Webhook)
}

// Webhook handles POST /v1/billing/stripe/webhook
func (h *Handler) Webhook(c *gin.Context) {
	eventType := "unknown"
	outcome := "rejected"
	defer func() {
		metrics.BillingWebhooksTotal.WithLabelValues(eventType, outcome).Inc()
	}()

	if strings.TrimSpace(h.secret) == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service_unavailable", "message": "Webhook secret not configured"})
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Failed to read request body"})
		return
	}
	sig := c.GetHeader("Stripe-Signature")
	if strings.TrimSpace(sig) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Missing Stripe signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sig, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": "Invalid Stripe signature"})
		return
	}
	eventType = string(event.Type)

	result, err := h.handleEvent(c, &event)
	if err != nil {
		outcome = "error"
		logging.L(c.Request.Context()).Error("stripe webhook processing failed",
			"event_id", event.ID, "type", event.Type, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Processing failed"})
		return
	}

	outcome = string(result)
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": result})
}

func (h *Handler) handleEvent(c *gin.Context, event *stripe.Event) (Outcome, error) {
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return "", fmt.Errorf("decode subscription: %w", err)
		}
		return h.service.Apply(c.Request.Context(), sub, event.Type == "customer.subscription.deleted")
	default:
		logging.L(c.Request.Context()).Info("stripe webhook ignored", "type", event.Type, "event_id", event.ID)
		return "ignored", nil
	}
}
