package mcp

import (
	"github.com/coder/monacoharness/buildinfo"
	"github.com/mark3labs/mcp-go/mcp"
)

const serverName = "coder/monacoharness"

// GetServerInfo returns the implementation information advertised to MCP
// clients.
func GetServerInfo() mcp.Implementation {
	return mcp.Implementation{
		Name:    serverName,
		Version: buildinfo.Version(),
	}
}
