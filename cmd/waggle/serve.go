// Serve command: the MCP server the orchestrator talks to.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gabemahoney/waggle/internal/mcpserver"
	"github.com/gabemahoney/waggle/internal/tmux"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Long: `Serve exposes list_agents, delete_repo_agents, and prune_dead_agents
as MCP tools on stdio until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.SetPrefix("[waggle] ")
		log.SetOutput(os.Stderr)

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		server := mcpserver.New(store, tmux.NewClient())
		return server.Serve(ctx)
	},
}
