package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/TimChild/mcp-chat/internal/tools"
)

// CallFunc invokes tool on server and returns its text output.
type CallFunc func(ctx context.Context, server, tool string, args map[string]any) (string, error)

// BridgeCatalog registers every dispatchable tool in catalog on a new
// registry. Tools keep their MCP names; each handler routes back to
// the server that owns the name through call.
func BridgeCatalog(catalog *Catalog, call CallFunc, logger *slog.Logger) (*tools.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := tools.NewRegistry()
	for _, td := range catalog.Tools() {
		if err := registry.Register(bridgeTool(td, call)); err != nil {
			return nil, fmt.Errorf("bridge tool %s from %s: %w", td.Name, td.ServerName, err)
		}
		logger.Debug("bridged MCP tool",
			"tool", td.Name,
			"mcp_server", td.ServerName,
		)
	}
	return registry, nil
}

// bridgeTool creates a registry tool that proxies calls to an MCP server.
func bridgeTool(td ToolDefinition, call CallFunc) *tools.Tool {
	server, name := td.ServerName, td.Name
	return &tools.Tool{
		Name:        name,
		Description: td.Description,
		Parameters:  td.InputSchema,
		Server:      server,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return call(ctx, server, name, args)
		},
	}
}
