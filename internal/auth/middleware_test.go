package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext(headers map[string]string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	for k, v := range headers {
		c.Request.Header.Set(k, v)
	}
	return c, w
}

// --- Middleware() ---

func TestMiddleware_NoToken_TrustsCallerHeader(t *testing.T) {
	c, _ := newTestContext(map[string]string{HeaderCallerID: " 1234 "})

	Middleware("")(c)

	assert.Equal(t, "1234", CallerID(c))
	assert.False(t, c.IsAborted())
}

func TestMiddleware_TokenRequired(t *testing.T) {
	c, _ := newTestContext(map[string]string{HeaderCallerID: "1234"})
	Middleware("svc-token")(c)
	assert.Empty(t, CallerID(c), "caller must be ignored without the service token")

	c, _ = newTestContext(map[string]string{HeaderCallerID: "1234", HeaderServiceToken: "wrong"})
	Middleware("svc-token")(c)
	assert.Empty(t, CallerID(c))

	c, _ = newTestContext(map[string]string{HeaderCallerID: "1234", HeaderServiceToken: "svc-token"})
	Middleware("svc-token")(c)
	assert.Equal(t, "1234", CallerID(c))
}

func TestMiddleware_NoCallerDoesNotAbort(t *testing.T) {
	c, _ := newTestContext(nil)
	Middleware("svc-token")(c)
	assert.False(t, c.IsAborted())
	assert.Empty(t, CallerID(c))
}

// --- RequireCaller() ---

func TestRequireCaller(t *testing.T) {
	c, w := newTestContext(nil)
	RequireCaller()(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, _ = newTestContext(nil)
	c.Set(ContextKeyCaller, "1234")
	RequireCaller()(c)
	assert.False(t, c.IsAborted())
}

// --- RequireAdmin() ---

func TestRequireAdmin_DemoMode_IdentifiedPasses(t *testing.T) {
	c, _ := newTestContext(nil)
	c.Set(ContextKeyCaller, "1234")

	RequireAdmin("")(c)

	assert.False(t, c.IsAborted())
	assert.True(t, IsAdmin(c))
}

func TestRequireAdmin_DemoMode_AnonymousRejected(t *testing.T) {
	c, w := newTestContext(nil)
	RequireAdmin("")(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin_CorrectSecret(t *testing.T) {
	c, _ := newTestContext(map[string]string{HeaderAdminSecret: "supersecret123"})
	RequireAdmin("supersecret123")(c)
	assert.False(t, c.IsAborted())
	assert.True(t, IsAdmin(c))
}

func TestRequireAdmin_WrongSecret(t *testing.T) {
	c, w := newTestContext(map[string]string{HeaderAdminSecret: "wrongsecret"})
	RequireAdmin("supersecret123")(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, IsAdmin(c))
}

func TestRequireAdmin_MissingHeader(t *testing.T) {
	c, w := newTestContext(nil)
	c.Set(ContextKeyCaller, "1234")
	RequireAdmin("supersecret123")(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
