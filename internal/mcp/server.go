package mcp

import (
	"database/sql"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/gather/internal/config"
	"github.com/hpungsan/gather/internal/sink"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"gather_status": {
		def:     statusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStatus },
	},
	"gather_cycles": {
		def:     cyclesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCycles },
	},
	"gather_cycle": {
		def:     cycleToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCycle },
	},
	"gather_files": {
		def:     filesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFiles },
	},
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewServer creates an MCP server exposing the read-only Gather tools.
func NewServer(db *sql.DB, cfg *config.Config, s *sink.Sink, version string) *server.MCPServer {
	srv := server.NewMCPServer(
		"gather",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg, s)
	for _, entry := range toolRegistry {
		srv.AddTool(entry.def, entry.handler(h))
	}
	return srv
}

// Run serves the MCP tools over stdio.
func Run(db *sql.DB, cfg *config.Config, s *sink.Sink, version string) error {
	return server.ServeStdio(NewServer(db, cfg, s, version))
}
