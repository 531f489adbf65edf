package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewClient(Config{
		APIURL:      ts.URL,
		AdminSecret: "op-secret",
		CallerID:    "100000000000000001",
	})
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================
// Client
// ============================================================

func TestClient_Headers(t *testing.T) {
	var got http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, AdminSecret: "s3cret", ServiceToken: "svc", CallerID: "42"})
	_, err := client.ListFlags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got.Get("X-Admin-Secret"))
	assert.Equal(t, "svc", got.Get("X-Service-Token"))
	assert.Equal(t, "42", got.Get("X-Caller-ID"))
}

func TestClient_CallerOverride(t *testing.T) {
	var gotCaller, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCaller = r.Header.Get("X-Caller-ID")
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, CallerID: "default"})
	_, err := client.GetPermissions(context.Background(), "gang-1", "override")
	require.NoError(t, err)
	assert.Equal(t, "override", gotCaller)
	assert.Equal(t, "/v1/gangs/gang-1/permissions", gotPath)
}

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":   "unauthorized",
			"message": "Admin secret required. Include the 'X-Admin-Secret' header.",
		})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.RunSweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Admin secret required")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.ListFlags(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := client.ListFlags(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.ListFlags(ctx)
	require.Error(t, err)
}

// ============================================================
// check_feature_access
// ============================================================

func TestHandleCheckFeatureAccess_Allowed(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/gangs/g1/features/finance", r.URL.Path)
		assert.Equal(t, "100000000000000001", r.Header.Get("X-Caller-ID"))
		writeJSON(w, http.StatusOK, map[string]any{"allowed": true, "feature": "finance", "tier": "PRO"})
	}))
	defer cleanup()

	result, err := h.HandleCheckFeatureAccess(context.Background(), makeRequest(map[string]any{
		"gang_id": "g1",
		"feature": "finance",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "finance: ALLOWED")
	assert.Contains(t, text, "Tier: PRO")
}

func TestHandleCheckFeatureAccess_DeniedByFlag(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "999", r.Header.Get("X-Caller-ID"))
		writeJSON(w, http.StatusOK, map[string]any{
			"allowed":         false,
			"feature":         "analytics",
			"tier":            "PREMIUM",
			"disabledByAdmin": true,
			"reason":          "feature_disabled",
			"message":         "This feature is temporarily disabled",
		})
	}))
	defer cleanup()

	result, err := h.HandleCheckFeatureAccess(context.Background(), makeRequest(map[string]any{
		"gang_id":   "g1",
		"feature":   "analytics",
		"caller_id": "999",
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "analytics: DENIED")
	assert.Contains(t, text, "Reason: feature_disabled")
	assert.Contains(t, text, "Disabled by an operator flag")
}

func TestHandleCheckFeatureAccess_MissingArgs(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("API should not be called")
	}))
	defer cleanup()

	result, err := h.HandleCheckFeatureAccess(context.Background(), makeRequest(map[string]any{"gang_id": "g1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleCheckFeatureAccess_NotMember(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":   "forbidden",
			"reason":  "not_member",
			"message": "Caller is not an approved member of this gang",
		})
	}))
	defer cleanup()

	result, err := h.HandleCheckFeatureAccess(context.Background(), makeRequest(map[string]any{
		"gang_id": "g1",
		"feature": "leave",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not an approved member")
}

// ============================================================
// get_permissions
// ============================================================

func TestHandleGetPermissions(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/gangs/g1/permissions", r.URL.Path)
		assert.Equal(t, "555", r.Header.Get("X-Caller-ID"))
		writeJSON(w, http.StatusOK, map[string]any{
			"gangId":   "g1",
			"callerId": "555",
			"permission": map[string]any{
				"level":       "TREASURER",
				"isTreasurer": true,
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetPermissions(context.Background(), makeRequest(map[string]any{
		"gang_id":    "g1",
		"discord_id": "555",
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Caller 555 in gang g1")
	assert.Contains(t, text, "Level: TREASURER")
	assert.Contains(t, text, "Admin: no")
	assert.Contains(t, text, "Treasurer: yes")
	assert.Contains(t, text, "Member: no")
}

func TestHandleGetPermissions_MissingDiscordID(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	result, err := h.HandleGetPermissions(context.Background(), makeRequest(map[string]any{"gang_id": "g1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "discord_id")
}

// ============================================================
// issue_license
// ============================================================

func TestHandleIssueLicense(t *testing.T) {
	var body map[string]any
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/admin/licenses", r.URL.Path)
		assert.Equal(t, "op-secret", r.Header.Get("X-Admin-Secret"))
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &body))
		writeJSON(w, http.StatusCreated, map[string]any{
			"license": map[string]any{
				"key":          "PREMIUM-ABCDEFGHJKLM",
				"tier":         "PREMIUM",
				"durationDays": 90,
				"maxMembers":   100,
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleIssueLicense(context.Background(), makeRequest(map[string]any{
		"tier":          "premium",
		"duration_days": float64(90),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	assert.Equal(t, "PREMIUM", body["tier"])
	assert.Equal(t, float64(90), body["durationDays"])
	assert.Equal(t, "mcp", body["createdBy"])
	assert.NotContains(t, body, "maxMembers")

	text := resultText(t, result)
	assert.Contains(t, text, "PREMIUM-ABCDEFGHJKLM")
	assert.Contains(t, text, "PREMIUM for 90 days")
}

func TestHandleIssueLicense_ValidationError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "validation_failed",
			"message": "license tier must be a paid tier",
		})
	}))
	defer cleanup()

	result, err := h.HandleIssueLicense(context.Background(), makeRequest(map[string]any{"tier": "FREE"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "paid tier")
}

func TestHandleIssueLicense_MissingTier(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	result, err := h.HandleIssueLicense(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// ============================================================
// feature flags
// ============================================================

func TestHandleListFeatureFlags(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/admin/flags", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"flags": []map[string]any{
				{"key": "analytics", "enabled": false, "updatedBy": "ops"},
				{"key": "finance", "enabled": true},
			},
			"count": 2,
		})
	}))
	defer cleanup()

	result, err := h.HandleListFeatureFlags(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "2 flag(s)")
	assert.Contains(t, text, "analytics: disabled (by ops)")
	assert.Contains(t, text, "finance: enabled")
}

func TestHandleListFeatureFlags_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"flags": []any{}, "count": 0})
	}))
	defer cleanup()

	result, err := h.HandleListFeatureFlags(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Every feature is enabled")
}

func TestHandleSetFeatureFlag(t *testing.T) {
	var body map[string]any
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/admin/flags/analytics", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &body))
		writeJSON(w, http.StatusOK, map[string]any{
			"flag": map[string]any{"key": "analytics", "enabled": false, "updatedBy": "mcp"},
		})
	}))
	defer cleanup()

	result, err := h.HandleSetFeatureFlag(context.Background(), makeRequest(map[string]any{
		"key":     "analytics",
		"enabled": false,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, false, body["enabled"])
	assert.Equal(t, "mcp", body["by"])
	assert.Equal(t, "Flag analytics is now disabled.", resultText(t, result))
}

func TestHandleSetFeatureFlag_MissingEnabled(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("API should not be called")
	}))
	defer cleanup()

	result, err := h.HandleSetFeatureFlag(context.Background(), makeRequest(map[string]any{"key": "analytics"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "enabled is required")
}

// ============================================================
// run_expiry_sweep
// ============================================================

func TestHandleRunExpirySweep(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/admin/sweep", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"downgraded": []string{"g1", "g2"},
			"cutoff":     "2026-01-01T00:00:00Z",
		})
	}))
	defer cleanup()

	result, err := h.HandleRunExpirySweep(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Downgraded 2 gang(s)")
	assert.Contains(t, text, "- g1")
	assert.Contains(t, text, "- g2")
}

func TestHandleRunExpirySweep_Nothing(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"downgraded": []string{}, "cutoff": "2026-01-01T00:00:00Z"})
	}))
	defer cleanup()

	result, err := h.HandleRunExpirySweep(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No gangs expired")
}

func TestHandleRunExpirySweep_Unavailable(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":   "service_unavailable",
			"message": "Sweep failed; the scheduled run will retry",
		})
	}))
	defer cleanup()

	result, err := h.HandleRunExpirySweep(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "503")
}

func TestHandleRunExpirySweep_AlreadyRunning(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "sweep_in_progress",
			"message": "An expiry sweep is already running; try again shortly",
		})
	}))
	defer cleanup()

	result, err := h.HandleRunExpirySweep(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "409")
	assert.Contains(t, resultText(t, result), "already running")
}

// ============================================================
// Server wiring
// ============================================================

func TestNewMCPServer_RegistersTools(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:0"})
	require.NotNil(t, s)

	for _, tool := range []mcp.Tool{
		ToolCheckFeatureAccess, ToolGetPermissions, ToolIssueLicense,
		ToolListFeatureFlags, ToolSetFeatureFlag, ToolRunExpirySweep,
	} {
		assert.NotEmpty(t, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
}
