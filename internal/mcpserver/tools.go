package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the gangboard operator MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCheckFeatureAccess = mcp.NewTool("check_feature_access",
	mcp.WithDescription(
		"Check whether a gang may use a feature right now. "+
			"Reports the gang's tier, whether the feature is allowed, "+
			"and why not (tier too low, subscription expired, or disabled by an operator)."),
	mcp.WithString("gang_id",
		mcp.Required(),
		mcp.Description("The gang ID")),
	mcp.WithString("feature",
		mcp.Required(),
		mcp.Description("Feature key, e.g. 'finance', 'analytics', 'webhook_notify'")),
	mcp.WithString("caller_id",
		mcp.Description("Discord ID of a gang member to check as. Defaults to the configured caller.")),
)

var ToolGetPermissions = mcp.NewTool("get_permissions",
	mcp.WithDescription(
		"Resolve what a Discord user may do inside a gang. "+
			"Returns the display level (NONE, MEMBER, TREASURER, ADMIN, OWNER) and each capability flag."),
	mcp.WithString("gang_id",
		mcp.Required(),
		mcp.Description("The gang ID")),
	mcp.WithString("discord_id",
		mcp.Required(),
		mcp.Description("The Discord user ID to resolve")),
)

var ToolIssueLicense = mcp.NewTool("issue_license",
	mcp.WithDescription(
		"Issue a single-use license key that upgrades a gang's tier when redeemed. "+
			"Hand the returned key to the gang owner."),
	mcp.WithString("tier",
		mcp.Required(),
		mcp.Description("Tier granted on redemption"),
		mcp.Enum("PRO", "PREMIUM")),
	mcp.WithNumber("duration_days",
		mcp.Description("Days of subscription granted (default 30)")),
	mcp.WithNumber("max_members",
		mcp.Description("Member cap override; defaults to the tier's limit")),
)

var ToolListFeatureFlags = mcp.NewTool("list_feature_flags",
	mcp.WithDescription(
		"List the global feature flags. A feature missing from the list is enabled."),
)

var ToolSetFeatureFlag = mcp.NewTool("set_feature_flag",
	mcp.WithDescription(
		"Enable or disable a feature for every gang. "+
			"Disabling a feature blocks it even for gangs whose tier includes it."),
	mcp.WithString("key",
		mcp.Required(),
		mcp.Description("Feature key, e.g. 'analytics'")),
	mcp.WithBoolean("enabled",
		mcp.Required(),
		mcp.Description("true to enable, false to disable")),
)

var ToolRunExpirySweep = mcp.NewTool("run_expiry_sweep",
	mcp.WithDescription(
		"Run the subscription expiry sweep now instead of waiting for the scheduled run. "+
			"Downgrades gangs whose subscription ended more than the grace period ago."),
)
