// Agents commands: read/administer the state store from the terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gabemahoney/waggle/internal/identity"
	"github.com/gabemahoney/waggle/internal/liveness"
	"github.com/gabemahoney/waggle/internal/tmux"
)

var flagPruneRepo string

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect and clean up tracked agents",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tracked agents with their status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		records, err := store.List(ctx)
		if err != nil {
			return err
		}

		// Liveness annotation is best effort; tmux being down just means
		// no orphan marks.
		live, _ := tmux.NewClient().LiveKeys(ctx)
		statuses := liveness.Annotate(records, live)

		if flagJSON {
			out, err := json.MarshalIndent(statuses, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS\tREPO\tID\t")
		for _, status := range statuses {
			id, err := identity.ParseKey(status.Key)
			if err != nil {
				continue
			}
			name := id.Label
			if status.Orphaned {
				name += " (orphaned)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", name, status.Status, status.Namespace, id.InstanceID)
		}
		return w.Flush()
	},
}

var agentsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stale agent records",
	Long: `Prune deletes agent records whose session no longer exists. With --repo,
it instead deletes every record under the given repository path.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()

		var n int64
		if flagPruneRepo != "" {
			n, err = store.DeleteNamespace(ctx, flagPruneRepo)
		} else {
			n, err = liveness.Prune(ctx, store, tmux.NewClient())
		}
		if err != nil {
			return err
		}

		fmt.Printf("pruned %d agent record(s)\n", n)
		return nil
	},
}

func init() {
	agentsPruneCmd.Flags().StringVar(&flagPruneRepo, "repo", "", "delete all records under this repository path")

	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsPruneCmd)
}
