package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI with args the way main would, returning the error
// that decides the process exit code.
func execute(args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

// writeBrokenConfig plants a config.yaml that cannot be parsed.
func writeBrokenConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("database_path: [unterminated"), 0o600))
	return dir
}

func TestStateCommandsExitZeroOnBrokenConfig(t *testing.T) {
	dir := writeBrokenConfig(t)
	dbPath := filepath.Join(dir, "agent_state.db")

	// Hook commands report success even when config loading fails, so the
	// parent session's lifecycle event is never blocked.
	assert.NoError(t, execute("--config-dir", dir, "--db", dbPath, "state", "set", "working"))
	assert.NoError(t, execute("--config-dir", dir, "--db", dbPath, "state", "clear"))
}

func TestAdminCommandsSurfaceBrokenConfig(t *testing.T) {
	dir := writeBrokenConfig(t)
	dbPath := filepath.Join(dir, "agent_state.db")

	assert.Error(t, execute("--config-dir", dir, "--db", dbPath, "agents", "list"))
}
