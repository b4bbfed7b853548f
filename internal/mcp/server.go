// ABOUTME: MCP server initialization and configuration
// ABOUTME: Exposes recorded walks and their sync state to AI agents

package mcp

import (
	"context"
	"fmt"

	"github.com/harper/walktrack/internal/path"
	"github.com/harper/walktrack/internal/storage"
	"github.com/harper/walktrack/internal/sync"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Syncer runs a sync pass on demand. The sync_now tool is only offered
// when one is configured.
type Syncer interface {
	RunOnce(ctx context.Context) (sync.Report, error)
}

// Server wraps the MCP server with the walk repository.
type Server struct {
	mcp    *mcp.Server
	repo   storage.Repository
	paths  *path.Service
	syncer Syncer
}

// NewServer creates an MCP server with all capabilities. syncer may be nil.
func NewServer(repo storage.Repository, syncer Syncer) (*Server, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "walktrack",
			Version: "1.0.0",
		},
		nil,
	)

	s := &Server{
		mcp:    mcpServer,
		repo:   repo,
		paths:  path.NewService(repo),
		syncer: syncer,
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Serve starts the MCP server in stdio mode.
func (s *Server) Serve(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}
