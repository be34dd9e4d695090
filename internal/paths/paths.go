// Package paths resolves the waggle configuration directory and the
// agent state database location.
package paths

import (
	"os"
	"path/filepath"
)

// DefaultConfigDirName is the per-user waggle directory under $HOME.
// It holds config.yaml and, by default, the agent state database.
const DefaultConfigDirName = ".waggle"

// DefaultDBFileName is the agent state database file inside the config dir.
const DefaultDBFileName = "agent_state.db"

// Environment variable names for overrides.
const (
	EnvConfigDir = "WAGGLE_CONFIG_DIR"
	EnvDBPath    = "WAGGLE_DB_PATH"
)

// homeDir is overridable in tests.
var homeDir = os.UserHomeDir

// DefaultConfigDir returns ~/.waggle.
func DefaultConfigDir() (string, error) {
	home, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultConfigDirName), nil
}

// ResolveConfigDir returns the configuration directory following the
// precedence chain: flag > WAGGLE_CONFIG_DIR env > ~/.waggle.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDBPath returns the database path following the precedence chain:
// flag > config.yaml database_path > WAGGLE_DB_PATH env > <config dir>/agent_state.db.
// The result is absolute with ~ expanded, matching the path format the
// write-side hooks record as namespace.
func ResolveDBPath(flag, configValue string) (string, error) {
	for _, candidate := range []string{flag, configValue, os.Getenv(EnvDBPath)} {
		if candidate == "" {
			continue
		}
		expanded, err := expandHome(candidate)
		if err != nil {
			return "", err
		}
		return filepath.Abs(expanded)
	}
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultDBFileName), nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) (string, error) {
	if path == "~" {
		return homeDir()
	}
	if len(path) > 1 && path[0] == '~' && path[1] == filepath.Separator {
		home, err := homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
