package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabemahoney/waggle/internal/state"
	"github.com/gabemahoney/waggle/internal/tmux"
)

// fakeSessions is a canned session registry.
type fakeSessions struct {
	sessions []tmux.Session
	err      error
}

func (f fakeSessions) Sessions(context.Context) ([]tmux.Session, error) {
	return f.sessions, f.err
}

// startServer connects an in-memory MCP client to a server over the given
// store and registry.
func startServer(t *testing.T, store *state.Store, sessions SessionSource) *mcp.ClientSession {
	t.Helper()

	server := New(store, sessions)
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.serveWithTransport(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "dev"}, nil)
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer connectCancel()
	session, err := client.Connect(connectCtx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = session.Close()
		cancel()
		select {
		case err := <-serveErr:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop after cancel")
		}
	})
	return session
}

func openTestStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(filepath.Join(t.TempDir(), "agent_state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// decodeResult decodes structured MCP content into the target type.
func decodeResult[T any](t *testing.T, value any) T {
	t.Helper()
	data, err := json.Marshal(value)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestListAgentsEmptyStore(t *testing.T) {
	session := startServer(t, openTestStore(t), fakeSessions{})

	result := callTool(t, session, "list_agents", nil)
	require.False(t, result.IsError, "empty store is not an error: %+v", result.Content)

	output := decodeResult[ListAgentsResult](t, result.StructuredContent)
	assert.Empty(t, output.Agents)
	assert.NotEmpty(t, output.InvocationID)
}

func TestListAgentsRoundTrip(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Upsert(context.Background(), "main+$1+100", "/home/bee/project", "working"))

	registry := fakeSessions{sessions: []tmux.Session{
		{Name: "main", ID: "$1", Created: "100", Path: "/home/bee/project"},
	}}
	session := startServer(t, store, registry)

	result := callTool(t, session, "list_agents", nil)
	require.False(t, result.IsError)

	output := decodeResult[ListAgentsResult](t, result.StructuredContent)
	require.Len(t, output.Agents, 1)
	agent := output.Agents[0]
	assert.Equal(t, "main", agent.Name)
	assert.Equal(t, "$1", agent.SessionID)
	assert.Equal(t, "100", agent.SessionCreated)
	assert.Equal(t, "working", agent.Status)
	assert.Equal(t, "/home/bee/project", agent.Repo)
	assert.Equal(t, "/home/bee/project", agent.Directory)
	assert.False(t, agent.Orphaned)
	assert.NotEmpty(t, agent.UpdatedAt)
}

func TestListAgentsMarksOrphans(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "alive+$1+100", "/a", "working"))
	require.NoError(t, store.Upsert(ctx, "gone+$2+200", "/a", "working"))

	registry := fakeSessions{sessions: []tmux.Session{
		{Name: "alive", ID: "$1", Created: "100"},
	}}
	session := startServer(t, store, registry)

	output := decodeResult[ListAgentsResult](t, callTool(t, session, "list_agents", nil).StructuredContent)
	require.Len(t, output.Agents, 2)

	orphaned := map[string]bool{}
	for _, agent := range output.Agents {
		orphaned[agent.Name] = agent.Orphaned
	}
	assert.False(t, orphaned["alive"])
	assert.True(t, orphaned["gone"], "records without a live session are annotated, not deleted")

	// Listing never deletes.
	records, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestListAgentsRegistryDownIsNonFatal(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Upsert(context.Background(), "main+$1+100", "/a", "working"))

	session := startServer(t, store, fakeSessions{err: errors.New("no server running")})

	result := callTool(t, session, "list_agents", nil)
	require.False(t, result.IsError)

	output := decodeResult[ListAgentsResult](t, result.StructuredContent)
	require.Len(t, output.Agents, 1)
	assert.False(t, output.Agents[0].Orphaned, "tmux down must not mark agents orphaned")
	assert.Empty(t, output.Agents[0].Directory)
}

func TestListAgentsFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "alpha+$1+100", "/home/bee/alpha", "working"))
	require.NoError(t, store.Upsert(ctx, "beta+$2+200", "/home/bee/beta", "waiting"))

	session := startServer(t, store, fakeSessions{})

	byName := decodeResult[ListAgentsResult](t,
		callTool(t, session, "list_agents", map[string]any{"name": "alpha"}).StructuredContent)
	require.Len(t, byName.Agents, 1)
	assert.Equal(t, "alpha", byName.Agents[0].Name)

	byRepo := decodeResult[ListAgentsResult](t,
		callTool(t, session, "list_agents", map[string]any{"repo": "BETA"}).StructuredContent)
	require.Len(t, byRepo.Agents, 1)
	assert.Equal(t, "beta", byRepo.Agents[0].Name)
}

func TestListAgentsSkipsMalformedKeys(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "good+$1+100", "/a", "working"))
	require.NoError(t, store.Upsert(ctx, "malformed-key", "/a", "working"))

	session := startServer(t, store, fakeSessions{})

	output := decodeResult[ListAgentsResult](t, callTool(t, session, "list_agents", nil).StructuredContent)
	require.Len(t, output.Agents, 1)
	assert.Equal(t, "good", output.Agents[0].Name)
}

func TestDeleteRepoAgents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "a+$1+100", "/home/bee/project", "working"))
	require.NoError(t, store.Upsert(ctx, "b+$2+200", "/home/bee/project/sub", "waiting"))
	require.NoError(t, store.Upsert(ctx, "c+$3+300", "/home/bee/other", "working"))

	session := startServer(t, store, fakeSessions{})

	result := callTool(t, session, "delete_repo_agents", map[string]any{"repo_root": "/home/bee/project"})
	require.False(t, result.IsError)

	output := decodeResult[DeleteRepoAgentsResult](t, result.StructuredContent)
	assert.Equal(t, int64(2), output.DeletedCount)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "/home/bee/other", records[0].Namespace)
}

func TestDeleteRepoAgentsEmptyStore(t *testing.T) {
	session := startServer(t, openTestStore(t), fakeSessions{})

	result := callTool(t, session, "delete_repo_agents", map[string]any{"repo_root": "/nothing/here"})
	require.False(t, result.IsError)

	output := decodeResult[DeleteRepoAgentsResult](t, result.StructuredContent)
	assert.Zero(t, output.DeletedCount)
}

func TestDeleteRepoAgentsRequiresRepoRoot(t *testing.T) {
	session := startServer(t, openTestStore(t), fakeSessions{})

	result := callTool(t, session, "delete_repo_agents", map[string]any{"repo_root": "  "})
	assert.True(t, result.IsError)
}

func TestPruneDeadAgents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "alive+$1+100", "/a", "working"))
	require.NoError(t, store.Upsert(ctx, "gone+$2+200", "/a", "working"))

	registry := fakeSessions{sessions: []tmux.Session{
		{Name: "alive", ID: "$1", Created: "100"},
	}}
	session := startServer(t, store, registry)

	result := callTool(t, session, "prune_dead_agents", nil)
	require.False(t, result.IsError)

	output := decodeResult[PruneDeadAgentsResult](t, result.StructuredContent)
	assert.Equal(t, int64(1), output.PrunedCount)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alive+$1+100", records[0].Key)
}

func TestPruneDeadAgentsRegistryDownIsError(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Upsert(context.Background(), "a+$1+100", "/a", "working"))

	session := startServer(t, store, fakeSessions{err: errors.New("no server running")})

	result := callTool(t, session, "prune_dead_agents", nil)
	assert.True(t, result.IsError, "prune must fail loudly when the registry is unreachable")

	records, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1, "no deletions on registry failure")
}

func TestStoreFailureIsStructuredError(t *testing.T) {
	store := openTestStore(t)
	session := startServer(t, store, fakeSessions{})

	// Simulate the backing store going away mid-flight.
	require.NoError(t, store.Close())

	result := callTool(t, session, "list_agents", nil)
	assert.True(t, result.IsError, "store failure must surface as a tool error, not a crash")
}
