package denial

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestReasonStatus(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, NoMembership.Status())
	assert.Equal(t, http.StatusForbidden, AdminDisabled.Status())
	assert.Equal(t, http.StatusTooManyRequests, RateLimited.Status())
	assert.Equal(t, http.StatusServiceUnavailable, ServiceUnavailable.Status())

	assert.True(t, RateLimited.Retryable())
	assert.False(t, TierInsufficient.Retryable())
}

func TestAbortWith(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	AbortWith(c, TierInsufficient, "upgrade", gin.H{"tier": "PRO"})

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusForbidden, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "tier_insufficient", body["error"])
	assert.Equal(t, "upgrade", body["message"])
	assert.Equal(t, "PRO", body["tier"])
}
