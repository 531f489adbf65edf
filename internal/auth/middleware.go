package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/gangboard/internal/logging"
)

// Middleware extracts the caller identity from the request.
// It never aborts; RequireCaller does that for routes that need one.
func Middleware(serviceToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := normalizeCaller(c.GetHeader(HeaderCallerID))
		if caller == "" {
			c.Next()
			return
		}

		if serviceToken != "" && !secretsEqual(c.GetHeader(HeaderServiceToken), serviceToken) {
			logging.L(c.Request.Context()).Warn("ignoring caller id without valid service token",
				"path", c.FullPath(), "ip", c.ClientIP())
			c.Next()
			return
		}

		c.Set(ContextKeyCaller, caller)
		ctx := logging.WithCaller(c.Request.Context(), caller)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireCaller rejects requests without an established caller identity.
func RequireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Caller identity required. Include the 'X-Caller-ID' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin gates operator endpoints. With an empty secret (demo mode)
// any identified caller passes; otherwise X-Admin-Secret must match.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			if CallerID(c) == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"message": "Authentication required.",
				})
				return
			}
			c.Set(ContextKeyAdmin, true)
			c.Next()
			return
		}

		got := c.GetHeader(HeaderAdminSecret)
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Admin secret required. Include the 'X-Admin-Secret' header.",
			})
			return
		}
		if !secretsEqual(got, secret) {
			logging.L(c.Request.Context()).Warn("admin secret mismatch", "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret.",
			})
			return
		}
		c.Set(ContextKeyAdmin, true)
		c.Next()
	}
}
