// Package mcp implements the MCP protocol server for adb-shell-mcp.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/droidshell/adb-shell-mcp/internal/adb"
	"github.com/droidshell/adb-shell-mcp/internal/config"
	"github.com/droidshell/adb-shell-mcp/internal/session"
)

// Server wraps the MCP server implementation.
type Server struct {
	mcpServer *server.MCPServer
	manager   *session.Manager
	adb       *adb.Client
	config    *config.Config
}

// NewServer creates a new MCP server over the given session manager and
// device client.
func NewServer(version string, cfg *config.Config, adbClient *adb.Client, manager *session.Manager) *Server {
	mcpServer := server.NewMCPServer(
		"adb-shell-mcp",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		manager:   manager,
		adb:       adbClient,
		config:    cfg,
	}
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport.
func (s *Server) Run() error {
	slog.Info("starting MCP server on stdio transport")
	return server.ServeStdio(s.mcpServer)
}

// UpdateConfig applies a new configuration at runtime. Transfer limits
// and CLI hints apply immediately; hang and prompt settings apply to
// sessions created after the update.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if err := s.manager.UpdateConfig(cfg); err != nil {
		slog.Warn("config update rejected, keeping previous",
			slog.String("error", err.Error()),
		)
		return
	}
	s.config = cfg
	slog.Info("configuration hot-reloaded successfully")
}
