package tenant

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

	"github.com/mbd888/gangboard/internal/member"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type tierChange struct {
	gangID   string
	from, to Tier
	source   string
}

type recordingEmitter struct{ changes []tierChange }

func (r *recordingEmitter) EmitTierChanged(gangID string, from, to Tier, _ *time.Time, source string) {
	r.changes = append(r.changes, tierChange{gangID, from, to, source})
}

const ownerID = "123456789012345678"

func setupHandler(t *testing.T) (*gin.Engine, *MemoryStore, *member.MemoryStore, *recordingEmitter) {
	t.Helper()
	store := NewMemoryStore()
	members := member.NewMemoryStore()
	events := &recordingEmitter{}
	require.NoError(t, store.Create(context.Background(), &Tenant{
		ID: "gang_1", Name: "Test Gang", Slug: "test-gang", Tier: TierFree, IsActive: true,
	}))

	r := gin.New()
	NewHandler(store, members).WithEvents(events).RegisterAdminRoutes(r.Group("/v1"))
	return r, store, members, events
}

func send(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
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

func TestCreateGang_WithOwner(t *testing.T) {
	r, store, members, _ := setupHandler(t)

	w := send(r, http.MethodPost, "/v1/admin/gangs", gin.H{
		"name": "  Night Owls ", "slug": "Night-Owls", "tier": "pro", "ownerDiscordId": ownerID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Gang  Tenant        `json:"gang"`
		Owner member.Member `json:"owner"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Night Owls", resp.Gang.Name)
	assert.Equal(t, "night-owls", resp.Gang.Slug)
	assert.Equal(t, TierPro, resp.Gang.Tier)
	assert.True(t, resp.Gang.IsActive)
	assert.Contains(t, resp.Gang.ID, "gang_")

	stored, err := store.GetBySlug(context.Background(), "night-owls")
	require.NoError(t, err)
	assert.Equal(t, resp.Gang.ID, stored.ID)

	owner, err := members.GetActive(context.Background(), resp.Gang.ID, ownerID)
	require.NoError(t, err)
	assert.Equal(t, member.RoleOwner, owner.Role)
	assert.Equal(t, member.StatusApproved, owner.Status)
}

func TestCreateGang_Validation(t *testing.T) {
	r, _, _, _ := setupHandler(t)

	tests := []struct {
		name string
		body gin.H
		code int
		err  string
	}{
		{"missing name", gin.H{"slug": "abc"}, http.StatusBadRequest, "validation_failed"},
		{"bad slug", gin.H{"name": "x", "slug": "-a"}, http.StatusBadRequest, "validation_failed"},
		{"bad owner", gin.H{"name": "x", "slug": "abc", "ownerDiscordId": "bob"}, http.StatusBadRequest, "validation_failed"},
		{"bad tier", gin.H{"name": "x", "slug": "abc", "tier": "gold"}, http.StatusBadRequest, "invalid_tier"},
		{"slug taken", gin.H{"name": "x", "slug": "test-gang"}, http.StatusConflict, "slug_taken"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := send(r, http.MethodPost, "/v1/admin/gangs", tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), tt.err)
		})
	}
}

func TestAddMember(t *testing.T) {
	r, _, members, _ := setupHandler(t)

	w := send(r, http.MethodPost, "/v1/admin/gangs/gang_1/members", gin.H{"discordId": ownerID, "role": "treasurer"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	m, err := members.GetActive(context.Background(), "gang_1", ownerID)
	require.NoError(t, err)
	assert.Equal(t, member.RoleTreasurer, m.Role)
	assert.Equal(t, member.StatusApproved, m.Status)

	w = send(r, http.MethodPost, "/v1/admin/gangs/gang_1/members", gin.H{"discordId": ownerID})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = send(r, http.MethodPost, "/v1/admin/gangs/nope/members", gin.H{"discordId": "223456789012345678"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = send(r, http.MethodPost, "/v1/admin/gangs/gang_1/members", gin.H{"discordId": "223456789012345678", "role": "boss"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = send(r, http.MethodPost, "/v1/admin/gangs/gang_1/members", gin.H{"discordId": "223456789012345678", "status": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = send(r, http.MethodPost, "/v1/admin/gangs/gang_1/members", gin.H{"discordId": "12"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetSubscription(t *testing.T) {
	r, store, _, events := setupHandler(t)
	exp := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	w := send(r, http.MethodPatch, "/v1/admin/gangs/gang_1/subscription", gin.H{"tier": "premium", "expiresAt": exp})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	g, err := store.Get(context.Background(), "gang_1")
	require.NoError(t, err)
	assert.Equal(t, TierPremium, g.Tier)
	require.NotNil(t, g.SubscriptionExpiresAt)
	assert.True(t, exp.Equal(*g.SubscriptionExpiresAt))
	require.Len(t, events.changes, 1)
	assert.Equal(t, tierChange{"gang_1", TierFree, TierPremium, "admin"}, events.changes[0])

	// Downgrading to FREE clears the expiry.
	w = send(r, http.MethodPatch, "/v1/admin/gangs/gang_1/subscription", gin.H{"tier": "FREE", "expiresAt": exp})
	require.Equal(t, http.StatusOK, w.Code)
	g, _ = store.Get(context.Background(), "gang_1")
	assert.Equal(t, TierFree, g.Tier)
	assert.Nil(t, g.SubscriptionExpiresAt)
	assert.Len(t, events.changes, 2)
}

func TestSetSubscription_Errors(t *testing.T) {
	r, _, _, events := setupHandler(t)

	w := send(r, http.MethodPatch, "/v1/admin/gangs/gang_1/subscription", gin.H{"tier": "gold"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = send(r, http.MethodPatch, "/v1/admin/gangs/missing/subscription", gin.H{"tier": "PRO"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = send(r, http.MethodPatch, "/v1/admin/gangs/gang_1/subscription", gin.H{"tier": "FREE"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, events.changes)
}

func TestGetGang(t *testing.T) {
	r, _, _, _ := setupHandler(t)
	w := send(r, http.MethodGet, "/v1/admin/gangs/gang_1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"subscriptionTier":"FREE"`)

	w = send(r, http.MethodGet, "/v1/admin/gangs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFindGang_BySlug(t *testing.T) {
	r, _, _, _ := setupHandler(t)

	w := send(r, http.MethodGet, "/v1/admin/gangs?slug=Test-Gang", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"id":"gang_1"`)

	w = send(r, http.MethodGet, "/v1/admin/gangs?slug=missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = send(r, http.MethodGet, "/v1/admin/gangs", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = send(r, http.MethodGet, "/v1/admin/gangs?slug=bad%20slug!", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateGang(t *testing.T) {
	r, store, _, _ := setupHandler(t)

	w := send(r, http.MethodPatch, "/v1/admin/gangs/gang_1", gin.H{"name": "Renamed", "slug": "Renamed-Gang"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got, err := store.GetBySlug(context.Background(), "renamed-gang")
	require.NoError(t, err)
	assert.Equal(t, "gang_1", got.ID)
	assert.Equal(t, "Renamed", got.Name)
	assert.True(t, got.IsActive, "absent fields are untouched")
	_, err = store.GetBySlug(context.Background(), "test-gang")
	assert.ErrorIs(t, err, ErrTenantNotFound, "old slug is released")

	w = send(r, http.MethodPatch, "/v1/admin/gangs/gang_1", gin.H{"isActive": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got, _ = store.Get(context.Background(), "gang_1")
	assert.False(t, got.IsActive)
	assert.Equal(t, "Renamed", got.Name)
}

func TestUpdateGang_Errors(t *testing.T) {
	r, store, _, _ := setupHandler(t)
	require.NoError(t, store.Create(context.Background(), &Tenant{ID: "gang_2", Name: "Other", Slug: "other", IsActive: true}))

	w := send(r, http.MethodPatch, "/v1/admin/gangs/gang_1", gin.H{"slug": "other"})
	assert.Equal(t, http.StatusConflict, w.Code)
	got, _ := store.Get(context.Background(), "gang_1")
	assert.Equal(t, "test-gang", got.Slug)

	w = send(r, http.MethodPatch, "/v1/admin/gangs/gang_1", gin.H{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = send(r, http.MethodPatch, "/v1/admin/gangs/gang_1", gin.H{"slug": "no spaces"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = send(r, http.MethodPatch, "/v1/admin/gangs/nope", gin.H{"name": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
