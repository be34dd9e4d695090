// Package mcpserver exposes the agent state store to an orchestrator as
// MCP tools over stdio.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gabemahoney/waggle/internal/liveness"
	"github.com/gabemahoney/waggle/internal/state"
	"github.com/gabemahoney/waggle/internal/tmux"
)

const (
	// serverName identifies this MCP server to clients.
	serverName = "waggle-async-agents"
	// serverVersion identifies the MCP server version.
	serverVersion = "0.1.0"
)

// SessionSource lists live sessions for orphan annotation and directory
// enrichment. Implemented by the tmux client; fakes stand in for tests.
type SessionSource interface {
	Sessions(ctx context.Context) ([]tmux.Session, error)
}

// Server hosts the MCP tool surface over the state store.
type Server struct {
	mcpServer *mcp.Server
	store     *state.Store
	sessions  SessionSource
}

// New creates a configured MCP server backed by the given store and
// session registry.
func New(store *state.Store, sessions SessionSource) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)

	s := &Server{mcpServer: mcpServer, store: store, sessions: sessions}

	mcp.AddTool(mcpServer, listAgentsTool(), s.listAgentsHandler())
	mcp.AddTool(mcpServer, deleteRepoAgentsTool(), s.deleteRepoAgentsHandler())
	mcp.AddTool(mcpServer, pruneDeadAgentsTool(), s.pruneDeadAgentsHandler())

	return s
}

// Serve runs the MCP server on stdio and blocks until it stops or the
// context ends.
func (s *Server) Serve(ctx context.Context) error {
	return s.serveWithTransport(ctx, &mcp.StdioTransport{})
}

// serveWithTransport runs the server on the provided transport. Context
// cancellation is a clean shutdown, not an error.
func (s *Server) serveWithTransport(ctx context.Context, transport mcp.Transport) error {
	err := s.mcpServer.Run(ctx, transport)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

// liveKeys adapts the session source to the liveness registry contract.
type liveKeys struct {
	sessions SessionSource
}

func (l liveKeys) LiveKeys(ctx context.Context) (map[string]bool, error) {
	sessions, err := l.sessions.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		live[sess.Identity().Key()] = true
	}
	return live, nil
}

var _ liveness.Registry = liveKeys{}
