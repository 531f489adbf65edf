package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients during initialize.
const Version = "0.1.0"

// NewMCPServer creates an MCP server with the gangboard operator tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("gangboard", Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolCheckFeatureAccess, h.HandleCheckFeatureAccess)
	s.AddTool(ToolGetPermissions, h.HandleGetPermissions)
	s.AddTool(ToolIssueLicense, h.HandleIssueLicense)
	s.AddTool(ToolListFeatureFlags, h.HandleListFeatureFlags)
	s.AddTool(ToolSetFeatureFlag, h.HandleSetFeatureFlag)
	s.AddTool(ToolRunExpirySweep, h.HandleRunExpirySweep)

	return s
}
