// Root command for the waggle CLI.
package main

import (
	"github.com/spf13/cobra"

	"github.com/gabemahoney/waggle/internal/paths"
	"github.com/gabemahoney/waggle/internal/state"
)

// Version is the waggle release version.
const Version = "0.1.0"

// Global flag values.
var (
	flagConfigDir string
	flagDBPath    string
	flagJSON      bool
)

// configDBPath holds the database_path value loaded from config.yaml.
// Set by PersistentPreRunE so all subcommands can use it.
var configDBPath string

var rootCmd = &cobra.Command{
	Use:     "waggle",
	Short:   "Waggle tracks what async agent sessions are doing",
	Version: Version,
	Long: `Waggle lets session lifecycle hooks publish an agent's status into a
shared SQLite store, and serves that store to an orchestrator over MCP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadRootConfig(); err != nil {
			// Hook commands must not fail the parent session's lifecycle
			// event, so a broken config falls back to built-in defaults.
			if isHookCommand(cmd) {
				return swallow("load config", err)
			}
			return err
		}
		return nil
	},
}

// loadRootConfig resolves the config directory and reads config.yaml,
// leaving the database path for subcommands in configDBPath.
func loadRootConfig() error {
	configDBPath = ""

	configDir, err := paths.ResolveConfigDir(flagConfigDir)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configDir)
	if err != nil {
		return err
	}

	configDBPath = cfg.GetString(cfgKeyDatabasePath)
	return nil
}

// isHookCommand reports whether cmd lives under the state subtree, whose
// commands are invoked by lifecycle hooks and always exit 0.
func isHookCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c == stateCmd {
			return true
		}
	}
	return false
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "configuration directory (default: ~/.waggle)")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "agent state database path (default: ~/.waggle/agent_state.db)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(agentsCmd)
}

// openStore resolves the database path and opens the state store.
// The caller closes it.
func openStore() (*state.Store, error) {
	dbPath, err := paths.ResolveDBPath(flagDBPath, configDBPath)
	if err != nil {
		return nil, err
	}
	return state.Open(dbPath)
}
