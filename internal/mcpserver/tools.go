package mcpserver

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gabemahoney/waggle/internal/identity"
	"github.com/gabemahoney/waggle/internal/liveness"
)

// ListAgentsInput filters the agent listing. Both filters are optional.
type ListAgentsInput struct {
	Name string `json:"name,omitempty" jsonschema:"return only agents whose session label equals this name"`
	Repo string `json:"repo,omitempty" jsonschema:"return only agents whose namespace contains this substring (case-insensitive)"`
}

// Agent is one tracked identity as reported to the orchestrator.
type Agent struct {
	Name           string `json:"name" jsonschema:"human session label"`
	SessionID      string `json:"session_id" jsonschema:"opaque session instance id"`
	SessionCreated string `json:"session_created" jsonschema:"session creation time, unix epoch"`
	Status         string `json:"status" jsonschema:"last reported free-form status"`
	Repo           string `json:"repo" jsonschema:"namespace the session runs in"`
	Directory      string `json:"directory,omitempty" jsonschema:"live session working directory, when the session registry can supply it"`
	Orphaned       bool   `json:"orphaned,omitempty" jsonschema:"true when the underlying session no longer exists"`
	UpdatedAt      string `json:"updated_at,omitempty" jsonschema:"RFC3339 timestamp of the last status write"`
}

// ListAgentsResult is the list_agents tool output.
type ListAgentsResult struct {
	InvocationID string  `json:"invocation_id" jsonschema:"server-generated id for this tool call"`
	Agents       []Agent `json:"agents" jsonschema:"all tracked agents, arbitrary order"`
}

func listAgentsTool() *mcp.Tool {
	return &mcp.Tool{
		Name: "list_agents",
		Description: "List all tracked async agents with their last reported status. " +
			"Agents whose underlying session no longer exists are marked orphaned, not deleted.",
	}
}

// listAgentsHandler reads the store and enriches each row with liveness
// and directory data from the session registry. Registry unavailability is
// non-fatal; store failure is a structured tool error.
func (s *Server) listAgentsHandler() mcp.ToolHandlerFor[ListAgentsInput, ListAgentsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ListAgentsInput) (*mcp.CallToolResult, ListAgentsResult, error) {
		records, err := s.store.List(ctx)
		if err != nil {
			return nil, ListAgentsResult{}, fmt.Errorf("query agent state: %w", err)
		}

		// Best effort: agents exist in the store even when tmux is down.
		var live map[string]bool
		directories := map[string]string{}
		if sessions, err := s.sessions.Sessions(ctx); err == nil {
			live = make(map[string]bool, len(sessions))
			for _, sess := range sessions {
				key := sess.Identity().Key()
				live[key] = true
				directories[key] = sess.Path
			}
		}

		result := ListAgentsResult{InvocationID: newInvocationID(), Agents: []Agent{}}
		for _, status := range liveness.Annotate(records, live) {
			id, err := identity.ParseKey(status.Key)
			if err != nil {
				// Malformed stored keys are skipped, not fatal.
				continue
			}
			if input.Name != "" && id.Label != input.Name {
				continue
			}
			if input.Repo != "" && !strings.Contains(strings.ToLower(status.Namespace), strings.ToLower(input.Repo)) {
				continue
			}

			agent := Agent{
				Name:           id.Label,
				SessionID:      id.InstanceID,
				SessionCreated: id.Created,
				Status:         status.Status,
				Repo:           status.Namespace,
				Directory:      directories[status.Key],
				Orphaned:       status.Orphaned,
			}
			if !status.UpdatedAt.IsZero() {
				agent.UpdatedAt = status.UpdatedAt.Format(time.RFC3339)
			}
			result.Agents = append(result.Agents, agent)
		}
		return nil, result, nil
	}
}

// DeleteRepoAgentsInput names the namespace subtree to clear.
type DeleteRepoAgentsInput struct {
	RepoRoot string `json:"repo_root" jsonschema:"repository root path; all agent state under it is deleted"`
}

// DeleteRepoAgentsResult is the delete_repo_agents tool output.
type DeleteRepoAgentsResult struct {
	InvocationID string `json:"invocation_id" jsonschema:"server-generated id for this tool call"`
	DeletedCount int64  `json:"deleted_count" jsonschema:"number of records removed"`
}

func deleteRepoAgentsTool() *mcp.Tool {
	return &mcp.Tool{
		Name: "delete_repo_agents",
		Description: "Delete all agent state for a repository and its subdirectories. " +
			"Recovers from stuck or corrupted entries without destroying the whole store; " +
			"does not terminate any session.",
	}
}

func (s *Server) deleteRepoAgentsHandler() mcp.ToolHandlerFor[DeleteRepoAgentsInput, DeleteRepoAgentsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DeleteRepoAgentsInput) (*mcp.CallToolResult, DeleteRepoAgentsResult, error) {
		root := strings.TrimSpace(input.RepoRoot)
		if root == "" {
			return nil, DeleteRepoAgentsResult{}, fmt.Errorf("repo_root is required")
		}
		root = normalizeNamespace(root)

		n, err := s.store.DeleteNamespace(ctx, root)
		if err != nil {
			return nil, DeleteRepoAgentsResult{}, fmt.Errorf("delete agent state for %s: %w", root, err)
		}
		return nil, DeleteRepoAgentsResult{InvocationID: newInvocationID(), DeletedCount: n}, nil
	}
}

// PruneDeadAgentsInput takes no arguments.
type PruneDeadAgentsInput struct{}

// PruneDeadAgentsResult is the prune_dead_agents tool output.
type PruneDeadAgentsResult struct {
	InvocationID string `json:"invocation_id" jsonschema:"server-generated id for this tool call"`
	PrunedCount  int64  `json:"pruned_count" jsonschema:"number of orphaned records removed"`
}

func pruneDeadAgentsTool() *mcp.Tool {
	return &mcp.Tool{
		Name: "prune_dead_agents",
		Description: "Delete records whose underlying session no longer exists. " +
			"Fails without deleting anything when the session registry cannot be queried.",
	}
}

func (s *Server) pruneDeadAgentsHandler() mcp.ToolHandlerFor[PruneDeadAgentsInput, PruneDeadAgentsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ PruneDeadAgentsInput) (*mcp.CallToolResult, PruneDeadAgentsResult, error) {
		n, err := liveness.Prune(ctx, s.store, liveKeys{sessions: s.sessions})
		if err != nil {
			return nil, PruneDeadAgentsResult{}, fmt.Errorf("prune dead agents: %w", err)
		}
		return nil, PruneDeadAgentsResult{InvocationID: newInvocationID(), PrunedCount: n}, nil
	}
}

// normalizeNamespace matches the path format hooks record: absolute,
// cleaned, no trailing slash, symlinks unresolved.
func normalizeNamespace(path string) string {
	cleaned := filepath.Clean(path)
	if !filepath.IsAbs(cleaned) {
		if abs, err := filepath.Abs(cleaned); err == nil {
			cleaned = abs
		}
	}
	if len(cleaned) > 1 {
		cleaned = strings.TrimRight(cleaned, "/")
	}
	return cleaned
}

func newInvocationID() string {
	return uuid.NewString()
}
