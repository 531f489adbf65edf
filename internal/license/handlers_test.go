package license

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/gangboard/internal/logging"
	"github.com/mbd888/gangboard/internal/tenant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(t *testing.T) (*gin.Engine, *Service, *tenant.MemoryStore) {
	t.Helper()
	svc, tenants := newService(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	sweeper := newSweeper(tenants, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	h := NewHandler(svc, sweeper)

	r := gin.New()
	v1 := r.Group("/v1")
	h.RegisterGangRoutes(v1)
	h.RegisterAdminRoutes(v1.Group("/admin"))
	return r, svc, tenants
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_IssueAndGet(t *testing.T) {
	r, _, _ := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/admin/licenses", map[string]any{"tier": "premium", "durationDays": 90})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		License License `json:"license"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, tenant.TierPremium, created.License.Tier)
	assert.Equal(t, 90, created.License.DurationDays)

	w = doJSON(r, http.MethodGet, "/v1/admin/licenses/"+created.License.Key, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/v1/admin/licenses/PRO-NOPE", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_IssueValidation(t *testing.T) {
	r, _, _ := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/v1/admin/licenses", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/admin/licenses", map[string]any{"tier": "FREE"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_failed")
}

func TestHandler_ListLicensesPaged(t *testing.T) {
	r, svc, _ := setupRouter(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Issue(ctx, IssueRequest{Tier: tenant.TierPro})
		require.NoError(t, err)
	}

	type page struct {
		Licenses   []License `json:"licenses"`
		Count      int       `json:"count"`
		NextCursor string    `json:"nextCursor"`
		HasMore    bool      `json:"hasMore"`
	}

	w := doJSON(r, http.MethodGet, "/v1/admin/licenses?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, 2, first.Count)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextCursor)

	w = doJSON(r, http.MethodGet, "/v1/admin/licenses?limit=2&cursor="+first.NextCursor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var second page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, 1, second.Count)
	assert.False(t, second.HasMore)
	assert.Empty(t, second.NextCursor)

	seen := map[string]bool{}
	for _, l := range append(first.Licenses, second.Licenses...) {
		seen[l.Key] = true
	}
	assert.Len(t, seen, 3)

	w = doJSON(r, http.MethodGet, "/v1/admin/licenses?cursor=not-base64!!!", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_cursor")
}

func TestHandler_Redeem(t *testing.T) {
	r, svc, tenants := setupRouter(t)
	addGang(t, tenants, "gang_1", tenant.TierFree, nil)
	lic, err := svc.Issue(context.Background(), IssueRequest{Tier: tenant.TierPro})
	require.NoError(t, err)

	// Keys are accepted regardless of case and surrounding space.
	w := doJSON(r, http.MethodPost, "/v1/gangs/gang_1/licenses/redeem", map[string]string{"key": "  " + lic.Key + " "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res Redemption
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, tenant.TierPro, res.Tier)
	assert.Equal(t, tenant.TierFree, res.PreviousTier)

	w = doJSON(r, http.MethodPost, "/v1/gangs/gang_1/licenses/redeem", map[string]string{"key": lic.Key})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(r, http.MethodPost, "/v1/gangs/gang_1/licenses/redeem", map[string]string{"key": "PRO-UNKNOWN"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_key")

	w = doJSON(r, http.MethodPost, "/v1/gangs/gang_1/licenses/redeem", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_RedeemGuardsRun(t *testing.T) {
	svc, _ := newService(t, time.Now())
	h := NewHandler(svc, nil)
	r := gin.New()
	h.RegisterGangRoutes(r, func(c *gin.Context) {
		c.AbortWithStatus(http.StatusForbidden)
	})

	w := doJSON(r, http.MethodPost, "/gangs/g/licenses/redeem", map[string]string{"key": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_RunSweep(t *testing.T) {
	r, _, tenants := setupRouter(t)
	addGang(t, tenants, "old", tenant.TierPro, timePtr(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	w := doJSON(r, http.MethodPost, "/v1/admin/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res SweepResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, []string{"old"}, res.Downgraded)

	broken := NewHandler(nil, NewSweeper(&brokenSweepStore{MemoryStore: tenant.NewMemoryStore()}, DefaultGracePeriod, logging.Discard()))
	r2 := gin.New()
	broken.RegisterAdminRoutes(r2)
	w = doJSON(r2, http.MethodPost, "/sweep", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandler_RunSweepWhileTimerSweeping(t *testing.T) {
	store := newSlowSweepStore()
	sweeper := newSweeper(store, time.Now())
	timer := NewTimer(sweeper, time.Millisecond, time.Hour, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go timer.Start(ctx)
	<-store.entered

	r := gin.New()
	NewHandler(nil, sweeper).RegisterAdminRoutes(r)
	w := doJSON(r, http.MethodPost, "/sweep", nil)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "sweep_in_progress", body["error"])

	close(store.release)
	require.Eventually(t, func() bool {
		return doJSON(r, http.MethodPost, "/sweep", nil).Code == http.StatusOK
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), store.maxSeen.Load())
	assert.Equal(t, int32(2), store.calls.Load())
}
