package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleCheckFeatureAccess reports whether a gang may use a feature.
func (h *Handlers) HandleCheckFeatureAccess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gangID := req.GetString("gang_id", "")
	feature := req.GetString("feature", "")
	if gangID == "" || feature == "" {
		return mcp.NewToolResultError("gang_id and feature are required"), nil
	}

	raw, err := h.client.CheckFeature(ctx, gangID, feature, req.GetString("caller_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check feature: %v", err)), nil
	}

	text, err := formatAccess(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse access result: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetPermissions resolves a member's capabilities.
func (h *Handlers) HandleGetPermissions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gangID := req.GetString("gang_id", "")
	discordID := req.GetString("discord_id", "")
	if gangID == "" || discordID == "" {
		return mcp.NewToolResultError("gang_id and discord_id are required"), nil
	}

	raw, err := h.client.GetPermissions(ctx, gangID, discordID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve permissions: %v", err)), nil
	}

	text, err := formatPermissions(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse permissions: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleIssueLicense mints a license key.
func (h *Handlers) HandleIssueLicense(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tier := strings.ToUpper(strings.TrimSpace(req.GetString("tier", "")))
	if tier == "" {
		return mcp.NewToolResultError("tier is required"), nil
	}

	body := IssueLicenseRequest{Tier: tier, CreatedBy: "mcp"}
	if d := req.GetInt("duration_days", 0); d > 0 {
		body.DurationDays = &d
	}
	if m := req.GetInt("max_members", 0); m > 0 {
		body.MaxMembers = &m
	}

	raw, err := h.client.IssueLicense(ctx, body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to issue license: %v", err)), nil
	}

	text, err := formatLicense(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse license: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListFeatureFlags lists the global flags.
func (h *Handlers) HandleListFeatureFlags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListFlags(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list flags: %v", err)), nil
	}

	text, err := formatFlagList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse flags: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleSetFeatureFlag toggles a flag.
func (h *Handlers) HandleSetFeatureFlag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("key", "")
	if key == "" {
		return mcp.NewToolResultError("key is required"), nil
	}
	enabled, err := req.RequireBool("enabled")
	if err != nil {
		return mcp.NewToolResultError("enabled is required"), nil
	}

	raw, err := h.client.SetFlag(ctx, key, enabled, "mcp")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to set flag: %v", err)), nil
	}

	var resp struct {
		Flag flagInfo `json:"flag"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse flag: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Flag %s is now %s.", resp.Flag.Key, onOff(resp.Flag.Enabled))), nil
}

// HandleRunExpirySweep triggers a sweep.
func (h *Handlers) HandleRunExpirySweep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.RunSweep(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Sweep failed: %v", err)), nil
	}

	var res struct {
		Downgraded []string `json:"downgraded"`
		Cutoff     string   `json:"cutoff"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse sweep result: %v", err)), nil
	}

	if len(res.Downgraded) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("Sweep complete. No gangs expired before %s.", res.Cutoff)), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sweep complete. Downgraded %d gang(s) to FREE:\n", len(res.Downgraded))
	for _, id := range res.Downgraded {
		fmt.Fprintf(&sb, "- %s\n", id)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// --- Formatting helpers ---

type accessInfo struct {
	Allowed         bool   `json:"allowed"`
	Feature         string `json:"feature"`
	Tier            string `json:"tier"`
	Message         string `json:"message"`
	DisabledByAdmin bool   `json:"disabledByAdmin"`
	Reason          string `json:"reason"`
}

func formatAccess(raw json.RawMessage) (string, error) {
	var a accessInfo
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", err
	}

	var sb strings.Builder
	if a.Allowed {
		fmt.Fprintf(&sb, "Feature %s: ALLOWED\n", a.Feature)
	} else {
		fmt.Fprintf(&sb, "Feature %s: DENIED\n", a.Feature)
	}
	if a.Tier != "" {
		fmt.Fprintf(&sb, "Tier: %s\n", a.Tier)
	}
	if a.Reason != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", a.Reason)
	}
	if a.DisabledByAdmin {
		sb.WriteString("Disabled by an operator flag\n")
	}
	if a.Message != "" {
		fmt.Fprintf(&sb, "%s\n", a.Message)
	}
	return sb.String(), nil
}

func formatPermissions(raw json.RawMessage) (string, error) {
	var resp struct {
		GangID     string `json:"gangId"`
		CallerID   string `json:"callerId"`
		Permission struct {
			Level       string `json:"level"`
			IsOwner     bool   `json:"isOwner"`
			IsAdmin     bool   `json:"isAdmin"`
			IsTreasurer bool   `json:"isTreasurer"`
			IsMember    bool   `json:"isMember"`
		} `json:"permission"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	p := resp.Permission
	var sb strings.Builder
	fmt.Fprintf(&sb, "Caller %s in gang %s\n", resp.CallerID, resp.GangID)
	fmt.Fprintf(&sb, "Level: %s\n", p.Level)
	fmt.Fprintf(&sb, "Owner: %s  Admin: %s  Treasurer: %s  Member: %s\n",
		yesNo(p.IsOwner), yesNo(p.IsAdmin), yesNo(p.IsTreasurer), yesNo(p.IsMember))
	return sb.String(), nil
}

func formatLicense(raw json.RawMessage) (string, error) {
	var resp struct {
		License struct {
			Key          string  `json:"key"`
			Tier         string  `json:"tier"`
			DurationDays int     `json:"durationDays"`
			MaxMembers   int     `json:"maxMembers"`
			ExpiresAt    *string `json:"expiresAt"`
		} `json:"license"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	l := resp.License
	if l.Key == "" {
		return "", fmt.Errorf("response has no license key")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "License key: %s\n", l.Key)
	fmt.Fprintf(&sb, "Tier: %s for %d days\n", l.Tier, l.DurationDays)
	fmt.Fprintf(&sb, "Max members: %d\n", l.MaxMembers)
	if l.ExpiresAt != nil {
		fmt.Fprintf(&sb, "Redeem before: %s\n", *l.ExpiresAt)
	}
	return sb.String(), nil
}

type flagInfo struct {
	Key       string `json:"key"`
	Enabled   bool   `json:"enabled"`
	UpdatedBy string `json:"updatedBy"`
}

func formatFlagList(raw json.RawMessage) (string, error) {
	var resp struct {
		Flags []flagInfo `json:"flags"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Flags) == 0 {
		return "No flags set. Every feature is enabled.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d flag(s):\n\n", len(resp.Flags))
	for _, f := range resp.Flags {
		fmt.Fprintf(&sb, "- %s: %s", f.Key, onOff(f.Enabled))
		if f.UpdatedBy != "" {
			fmt.Fprintf(&sb, " (by %s)", f.UpdatedBy)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
