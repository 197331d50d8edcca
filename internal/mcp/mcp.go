// Package mcp implements the Model Context Protocol server for the bug
// deduplication service, exposing the same check/submit workflow HTTP
// clients use as two MCP tools for MCP-compatible AI agents.
package mcp

import (
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/bugdedup/internal/detector"
	"github.com/ashita-ai/bugdedup/internal/storage"
)

// serverInstructions is sent to every MCP client during the initialize handshake.
const serverInstructions = `You have access to a bug deduplication service.

WORKFLOW — follow this for every bug report you are about to file:

1. BEFORE filing: call check_duplicate with a short title and description.
   This returns the most similar existing bugs, if any. If a strong match
   exists, prefer linking to it over filing a new report.

2. TO FILE: call submit_bug with the full report. The service runs its own
   duplicate and quality checks server-side — it may return a new bug, a
   soft duplicate flag, a hard block against an existing bug, or a
   low-quality rejection. Read the response status and act on it; do not
   retry a blocked or rejected submission unchanged.`

// Server wraps the MCP server with the deduplication service's pipeline.
type Server struct {
	mcpServer *mcpserver.MCPServer
	db        *storage.DB
	detector  *detector.Detector
	logger    *slog.Logger
}

// New creates and configures a new MCP server exposing check_duplicate and submit_bug.
func New(db *storage.DB, det *detector.Detector, logger *slog.Logger, version string) *Server {
	s := &Server{
		db:       db,
		detector: det,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"bugdedup",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
