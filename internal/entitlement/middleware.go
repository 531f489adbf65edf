package entitlement

import (
	"github.com/gin-gonic/gin"

	"github.com/mbd888/gangboard/internal/denial"
	"github.com/mbd888/gangboard/internal/logging"
)

// ContextKeyResult is the gin context key for the last access check.
const ContextKeyResult = "entitlementResult"

// RequireFeature aborts unless the gang named by the :id route parameter
// may use feature. Denials keep the admin-disabled and tier cases apart.
func RequireFeature(g *Gate, feature Feature) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := g.CheckAccess(c.Request.Context(), c.Param("id"), feature)
		c.Set(ContextKeyResult, res)
		if res.Allowed {
			c.Next()
			return
		}

		logging.L(c.Request.Context()).Info("access denied: entitlement",
			"feature", feature, "reason", res.Reason, "tier", res.Tier)
		extra := gin.H{"feature": string(feature)}
		if res.Tier != "" {
			extra["tier"] = string(res.Tier)
		}
		if res.DisabledByAdmin {
			extra["disabledByAdmin"] = true
		}
		if res.Reason == denial.ServiceUnavailable {
			c.Header("Retry-After", "5")
		}
		denial.AbortWith(c, res.Reason, res.Message, extra)
	}
}
