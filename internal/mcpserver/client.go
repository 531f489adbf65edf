package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mbd888/gangboard/internal/auth"
)

// Config holds the configuration for reaching a gangboard API.
type Config struct {
	APIURL       string // Base URL, e.g. "http://localhost:8080"
	AdminSecret  string // sent as X-Admin-Secret on operator calls
	ServiceToken string // sent as X-Service-Token when set
	CallerID     string // default Discord id for caller-scoped tools
}

// Client is a thin HTTP client for the gangboard API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a client for the gangboard API.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// doRequest calls the API as callerID and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path, callerID string, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.AdminSecret != "" {
		req.Header.Set(auth.HeaderAdminSecret, c.cfg.AdminSecret)
	}
	if c.cfg.ServiceToken != "" {
		req.Header.Set(auth.HeaderServiceToken, c.cfg.ServiceToken)
	}
	if callerID != "" {
		req.Header.Set(auth.HeaderCallerID, callerID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

func (c *Client) caller(override string) string {
	if override != "" {
		return override
	}
	return c.cfg.CallerID
}

// CheckFeature asks whether a gang may use a feature, as seen by callerID.
func (c *Client) CheckFeature(ctx context.Context, gangID, feature, callerID string) (json.RawMessage, error) {
	path := "/v1/gangs/" + url.PathEscape(gangID) + "/features/" + url.PathEscape(feature)
	return c.doRequest(ctx, http.MethodGet, path, c.caller(callerID), nil)
}

// GetPermissions resolves callerID's capabilities inside a gang.
func (c *Client) GetPermissions(ctx context.Context, gangID, callerID string) (json.RawMessage, error) {
	path := "/v1/gangs/" + url.PathEscape(gangID) + "/permissions"
	return c.doRequest(ctx, http.MethodGet, path, c.caller(callerID), nil)
}

// IssueLicenseRequest is the body of an operator license issue.
type IssueLicenseRequest struct {
	Tier         string `json:"tier"`
	DurationDays *int   `json:"durationDays,omitempty"`
	MaxMembers   *int   `json:"maxMembers,omitempty"`
	CreatedBy    string `json:"createdBy,omitempty"`
}

// IssueLicense mints a new license key.
func (c *Client) IssueLicense(ctx context.Context, req IssueLicenseRequest) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/admin/licenses", c.cfg.CallerID, req)
}

// ListFlags returns every stored feature flag.
func (c *Client) ListFlags(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/admin/flags", c.cfg.CallerID, nil)
}

// SetFlag enables or disables a feature flag globally.
func (c *Client) SetFlag(ctx context.Context, key string, enabled bool, by string) (json.RawMessage, error) {
	body := map[string]any{"enabled": enabled}
	if by != "" {
		body["by"] = by
	}
	return c.doRequest(ctx, http.MethodPut, "/v1/admin/flags/"+url.PathEscape(key), c.cfg.CallerID, body)
}

// RunSweep triggers one expiry sweep.
func (c *Client) RunSweep(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/admin/sweep", c.cfg.CallerID, nil)
}
