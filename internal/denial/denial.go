// Package denial carries the structured reason behind every refused
// request so callers can render the right remediation.
package denial

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Reason identifies why access was refused.
type Reason string

const (
	NoMembership       Reason = "no_membership"
	InsufficientRole   Reason = "insufficient_role"
	TierInsufficient   Reason = "tier_insufficient"
	AdminDisabled      Reason = "admin_disabled"
	RateLimited        Reason = "rate_limited"
	ServiceUnavailable Reason = "service_unavailable"
)

// Status maps a reason to its HTTP status code.
func (r Reason) Status() int {
	switch r {
	case NoMembership, InsufficientRole, TierInsufficient, AdminDisabled:
		return http.StatusForbidden
	case RateLimited:
		return http.StatusTooManyRequests
	case ServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}

// Retryable reports whether the same request may succeed later without
// any change by the caller.
func (r Reason) Retryable() bool {
	return r == RateLimited || r == ServiceUnavailable
}

// Abort writes the denial body and stops the handler chain.
func Abort(c *gin.Context, reason Reason, message string) {
	c.AbortWithStatusJSON(reason.Status(), gin.H{
		"error":   string(reason),
		"message": message,
	})
}

// AbortWith is Abort with extra body fields (tier, feature, retry hints).
func AbortWith(c *gin.Context, reason Reason, message string, extra gin.H) {
	body := gin.H{
		"error":   string(reason),
		"message": message,
	}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(reason.Status(), body)
}
