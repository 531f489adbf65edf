package permission

import (
	"github.com/gin-gonic/gin"

	"github.com/mbd888/gangboard/internal/auth"
	"github.com/mbd888/gangboard/internal/denial"
	"github.com/mbd888/gangboard/internal/logging"
)

// ContextKeyResult is the gin context key holding the caller's Result.
const ContextKeyResult = "permissionResult"

// GangParam is the route parameter naming the gang.
const GangParam = "id"

// RequireCapability resolves the caller inside the gang named by the :id
// route parameter and aborts unless the result carries cap.
func RequireCapability(r *Resolver, cap Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		gangID := c.Param(GangParam)
		res := resultFor(c, r, gangID)

		if res.Level == LevelNone {
			logging.L(c.Request.Context()).Info("access denied: no membership", "capability", cap)
			denial.Abort(c, denial.NoMembership, "You are not an approved member of this gang.")
			return
		}
		if !res.Has(cap) {
			logging.L(c.Request.Context()).Info("access denied: insufficient role",
				"capability", cap, "level", res.Level)
			denial.AbortWith(c, denial.InsufficientRole, "Your role does not allow this action.", gin.H{
				"required": string(cap),
				"level":    string(res.Level),
			})
			return
		}
		c.Next()
	}
}

// RequireMembership aborts unless the caller holds any role in the gang.
func RequireMembership(r *Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if resultFor(c, r, c.Param(GangParam)).Level == LevelNone {
			denial.Abort(c, denial.NoMembership, "You are not an approved member of this gang.")
			return
		}
		c.Next()
	}
}

// FromContext returns the Result stored by RequireCapability.
func FromContext(c *gin.Context) (Result, bool) {
	v, exists := c.Get(ContextKeyResult)
	if !exists {
		return None, false
	}
	res, ok := v.(Result)
	return res, ok
}

// resultFor resolves once per request and caches the result on the context.
func resultFor(c *gin.Context, r *Resolver, gangID string) Result {
	if res, ok := FromContext(c); ok {
		return res
	}
	ctx := logging.WithGang(c.Request.Context(), gangID)
	c.Request = c.Request.WithContext(ctx)

	res := r.Resolve(ctx, gangID, auth.CallerID(c))
	c.Set(ContextKeyResult, res)
	return res
}
