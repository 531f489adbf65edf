// Package auth establishes who is calling.
//
// Trust model:
//   - The bot and dashboard authenticate users themselves (OAuth, Discord)
//     and forward the Discord user id in X-Caller-ID.
//   - When SERVICE_TOKEN is configured, X-Caller-ID is only honored on
//     requests that also carry a matching X-Service-Token.
//   - Operator endpoints require X-Admin-Secret matching ADMIN_SECRET.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
)

// Errors
var (
	ErrNoCaller         = errors.New("caller identity required")
	ErrInvalidToken     = errors.New("invalid service token")
	ErrInvalidAdminAuth = errors.New("invalid admin secret")
)

const (
	// HeaderCallerID carries the authenticated Discord user id.
	HeaderCallerID = "X-Caller-ID"
	// HeaderServiceToken proves the request comes from a trusted frontend.
	HeaderServiceToken = "X-Service-Token"
	// HeaderAdminSecret authenticates operator requests.
	HeaderAdminSecret = "X-Admin-Secret"

	// ContextKeyCaller is the gin context key for the caller identity.
	ContextKeyCaller = "authCallerID"
	// ContextKeyAdmin is set when the request passed RequireAdmin.
	ContextKeyAdmin = "authAdmin"
)

// CallerID returns the authenticated caller identity, or "".
func CallerID(c *gin.Context) string {
	v, exists := c.Get(ContextKeyCaller)
	if !exists {
		return ""
	}
	id, _ := v.(string)
	return id
}

// IsAdmin reports whether the request was authenticated as an operator.
func IsAdmin(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyAdmin)
	return exists
}

// secretsEqual compares in constant time.
func secretsEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func normalizeCaller(raw string) string {
	return strings.TrimSpace(raw)
}
