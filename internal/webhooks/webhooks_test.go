package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/gangboard/internal/circuitbreaker"
	"github.com/mbd888/gangboard/internal/entitlement"
	"github.com/mbd888/gangboard/internal/logging"
	"github.com/mbd888/gangboard/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAccess struct{ allowed bool }

func (s stubAccess) CheckAccess(_ context.Context, gangID string, feature entitlement.Feature) entitlement.Result {
	return entitlement.Result{Allowed: s.allowed}
}

type received struct {
	mu     sync.Mutex
	bodies [][]byte
	heads  []http.Header
}

func (r *received) add(h http.Header, b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, b)
	r.heads = append(r.heads, h.Clone())
}

func (r *received) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func newTarget(t *testing.T, status func(n int) int) (*httptest.Server, *received) {
	t.Helper()
	rec := &received{}
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.add(r.Header, body)
		w.WriteHeader(status(int(calls.Add(1))))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func newDispatcher(store Store, allowed bool) *Dispatcher {
	d := NewDispatcher(store, stubAccess{allowed: allowed}, logging.Discard())
	d.baseDelay = time.Millisecond
	return d
}

func addHook(t *testing.T, store Store, id, gangID, url string, events ...EventType) {
	t.Helper()
	if len(events) == 0 {
		events = []EventType{EventTierChanged, EventLicenseRedeemed}
	}
	require.NoError(t, store.Create(context.Background(), &Webhook{
		ID: id, GangID: gangID, URL: url, Secret: "s3cret", Events: events,
		Active: true, CreatedAt: time.Now(),
	}))
}

func tierEvent(gangID string) *Event {
	return &Event{
		ID: "evt_1", Type: EventTierChanged, GangID: gangID,
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Data:      map[string]any{"from": "FREE", "to": "PRO"},
	}
}

func TestDispatch_DeliversSignedPayload(t *testing.T) {
	srv, rec := newTarget(t, func(int) int { return http.StatusOK })
	store := NewMemoryStore()
	addHook(t, store, "wh_1", "g1", srv.URL)
	d := newDispatcher(store, true)

	require.NoError(t, d.DispatchToGang(context.Background(), tierEvent("g1")))
	d.Wait()

	require.Equal(t, 1, rec.count())
	h := rec.heads[0]
	assert.Equal(t, "tier.changed", h.Get(HeaderEvent))
	assert.Equal(t, "1700000000", h.Get(HeaderTimestamp))
	assert.Equal(t, Sign("s3cret", "1700000000", rec.bodies[0]), h.Get(HeaderSignature))

	var got Event
	require.NoError(t, json.Unmarshal(rec.bodies[0], &got))
	assert.Equal(t, "g1", got.GangID)
	assert.Equal(t, "PRO", got.Data["to"])

	w, err := store.Get(context.Background(), "wh_1")
	require.NoError(t, err)
	assert.NotNil(t, w.LastSuccess)
	assert.Empty(t, w.LastError)
}

func TestDispatch_NotEntitledSendsNothing(t *testing.T) {
	srv, rec := newTarget(t, func(int) int { return http.StatusOK })
	store := NewMemoryStore()
	addHook(t, store, "wh_1", "g1", srv.URL)
	d := newDispatcher(store, false)

	before := metrics.CounterValue(metrics.WebhookDeliveriesTotal.WithLabelValues("not_entitled"))
	require.NoError(t, d.DispatchToGang(context.Background(), tierEvent("g1")))
	d.Wait()

	assert.Equal(t, 0, rec.count())
	assert.Equal(t, before+1, metrics.CounterValue(metrics.WebhookDeliveriesTotal.WithLabelValues("not_entitled")))
}

func TestDispatch_FiltersByEventAndGang(t *testing.T) {
	srv, rec := newTarget(t, func(int) int { return http.StatusOK })
	store := NewMemoryStore()
	addHook(t, store, "wh_redeem", "g1", srv.URL, EventLicenseRedeemed)
	addHook(t, store, "wh_other", "g2", srv.URL)
	require.NoError(t, store.Create(context.Background(), &Webhook{
		ID: "wh_off", GangID: "g1", URL: srv.URL, Events: []EventType{EventTierChanged}, CreatedAt: time.Now(),
	}))
	d := newDispatcher(store, true)

	require.NoError(t, d.DispatchToGang(context.Background(), tierEvent("g1")))
	d.Wait()
	assert.Equal(t, 0, rec.count())
}

func TestDispatch_RetriesServerErrors(t *testing.T) {
	srv, rec := newTarget(t, func(n int) int {
		if n < 3 {
			return http.StatusBadGateway
		}
		return http.StatusNoContent
	})
	store := NewMemoryStore()
	addHook(t, store, "wh_1", "g1", srv.URL)
	d := newDispatcher(store, true)

	require.NoError(t, d.DispatchToGang(context.Background(), tierEvent("g1")))
	d.Wait()

	assert.Equal(t, 3, rec.count())
	w, _ := store.Get(context.Background(), "wh_1")
	assert.NotNil(t, w.LastSuccess)
	assert.Equal(t, circuitbreaker.StateClosed, d.Breaker().State("wh_1"))
}

func TestDispatch_ClientErrorIsNotRetried(t *testing.T) {
	srv, rec := newTarget(t, func(int) int { return http.StatusGone })
	store := NewMemoryStore()
	addHook(t, store, "wh_1", "g1", srv.URL)
	d := newDispatcher(store, true)

	require.NoError(t, d.DispatchToGang(context.Background(), tierEvent("g1")))
	d.Wait()

	assert.Equal(t, 1, rec.count())
	w, _ := store.Get(context.Background(), "wh_1")
	assert.Nil(t, w.LastSuccess)
	assert.Equal(t, "status 410", w.LastError)
}

func TestDispatch_BreakerSkipsFailingTarget(t *testing.T) {
	srv, rec := newTarget(t, func(int) int { return http.StatusInternalServerError })
	store := NewMemoryStore()
	addHook(t, store, "wh_1", "g1", srv.URL)
	d := newDispatcher(store, true)
	d.attempts = 1
	d.breaker = circuitbreaker.New(2, time.Hour)

	for i := 0; i < 4; i++ {
		require.NoError(t, d.DispatchToGang(context.Background(), tierEvent("g1")))
		d.Wait()
	}

	assert.Equal(t, 2, rec.count())
	assert.Equal(t, circuitbreaker.StateOpen, d.Breaker().State("wh_1"))
}

func TestSign_IsStable(t *testing.T) {
	a := Sign("k", "1", []byte(`{}`))
	assert.Equal(t, a, Sign("k", "1", []byte(`{}`)))
	assert.NotEqual(t, a, Sign("k", "2", []byte(`{}`)))
	assert.NotEqual(t, a, Sign("other", "1", []byte(`{}`)))
	assert.Len(t, a, len("sha256=")+64)
}

func TestEmitter_BuildsEvents(t *testing.T) {
	srv, rec := newTarget(t, func(int) int { return http.StatusOK })
	store := NewMemoryStore()
	addHook(t, store, "wh_1", "g1", srv.URL)
	d := newDispatcher(store, true)
	e := NewEmitter(d)

	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.EmitTierChanged("g1", "FREE", "PRO", &exp, "license")
	e.EmitLicenseRedeemed("g1", "PRO", 30)
	e.EmitTierChanged("", "FREE", "PRO", nil, "license")
	d.Wait()

	require.Equal(t, 2, rec.count())
	types := map[string]map[string]any{}
	for _, b := range rec.bodies {
		var ev Event
		require.NoError(t, json.Unmarshal(b, &ev))
		assert.Contains(t, ev.ID, "evt_")
		types[string(ev.Type)] = ev.Data
	}
	assert.Equal(t, "license", types["tier.changed"]["source"])
	assert.Equal(t, "2026-01-01T00:00:00Z", types["tier.changed"]["expiresAt"])
	assert.Equal(t, float64(30), types["license.redeemed"]["durationDays"])
}

func newRouter(h *Handler) *gin.Engine {
	h.validateURL = func(string) error { return nil }
	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))
	return r
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
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

func TestHandler_CreateListDelete(t *testing.T) {
	store := NewMemoryStore()
	d := newDispatcher(store, true)
	r := newRouter(NewHandler(store, d))

	w := do(r, http.MethodPost, "/v1/gangs/g1/webhooks", gin.H{"url": "https://hooks.example.com/x"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Webhook Webhook `json:"webhook"`
		Secret  string  `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Len(t, created.Secret, 64)
	assert.ElementsMatch(t, []EventType{EventTierChanged, EventLicenseRedeemed}, created.Webhook.Events)
	assert.NotContains(t, w.Body.String(), `"Secret"`)

	w = do(r, http.MethodGet, "/v1/gangs/g1/webhooks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), created.Secret)
	var list struct {
		Webhooks []struct {
			ID      string `json:"id"`
			URL     string `json:"url"`
			Circuit     string     `json:"circuit"`
			PausedUntil *time.Time `json:"pausedUntil"`
		} `json:"webhooks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Webhooks, 1)
	assert.Equal(t, "https://hooks.example.com/x", list.Webhooks[0].URL)
	assert.Equal(t, "closed", list.Webhooks[0].Circuit)
	assert.Nil(t, list.Webhooks[0].PausedUntil)

	for i := 0; i < 5; i++ {
		d.Breaker().RecordFailure(created.Webhook.ID)
	}
	w = do(r, http.MethodGet, "/v1/gangs/g1/webhooks", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, "open", list.Webhooks[0].Circuit)
	assert.NotNil(t, list.Webhooks[0].PausedUntil)

	w = do(r, http.MethodDelete, "/v1/gangs/g2/webhooks/"+created.Webhook.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(r, http.MethodDelete, "/v1/gangs/g1/webhooks/"+created.Webhook.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, circuitbreaker.StateClosed, d.Breaker().State(created.Webhook.ID))
}

func TestHandler_Validation(t *testing.T) {
	store := NewMemoryStore()
	h := NewHandler(store, nil)
	r := newRouter(h)

	w := do(r, http.MethodPost, "/v1/gangs/g1/webhooks", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/v1/gangs/g1/webhooks", gin.H{"url": "https://a.example.com", "events": []string{"nope"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_event")

	h.validateURL = func(string) error { return assert.AnError }
	w = do(r, http.MethodPost, "/v1/gangs/g1/webhooks", gin.H{"url": "http://127.0.0.1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_url")
}

func TestHandler_PerGangLimit(t *testing.T) {
	store := NewMemoryStore()
	r := newRouter(NewHandler(store, nil))
	for i := 0; i < MaxPerGang; i++ {
		w := do(r, http.MethodPost, "/v1/gangs/g1/webhooks", gin.H{"url": "https://a.example.com"})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := do(r, http.MethodPost, "/v1/gangs/g1/webhooks", gin.H{"url": "https://a.example.com"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPost, "/v1/gangs/g2/webhooks", gin.H{"url": "https://a.example.com"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestHandler_GuardsRunFirst(t *testing.T) {
	store := NewMemoryStore()
	h := NewHandler(store, nil)
	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"), func(c *gin.Context) {
		c.AbortWithStatus(http.StatusForbidden)
	})
	w := do(r, http.MethodGet, "/v1/gangs/g1/webhooks", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryAfter("2"))
	assert.Equal(t, maxRetryAfter, retryAfter("3600"))
	assert.Zero(t, retryAfter(""))
	assert.Zero(t, retryAfter("-1"))
	assert.Zero(t, retryAfter("Wed, 21 Oct 2026 07:28:00 GMT"))
}
