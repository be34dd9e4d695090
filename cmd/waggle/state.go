// State commands: the write path invoked by session lifecycle hooks.
//
// Hooks run synchronously inside a user's interactive session, so these
// commands always exit 0: any failure is logged to stderr and swallowed.
// A broken store costs a stale status entry, never a broken session.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gabemahoney/waggle/internal/identity"
	"github.com/gabemahoney/waggle/internal/tmux"
)

// hookTimeout bounds a whole hook invocation so a wedged store cannot
// stall the parent session's lifecycle event.
const hookTimeout = 10 * time.Second

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Report this session's agent state (for lifecycle hooks)",
}

var stateSetCmd = &cobra.Command{
	Use:   "set <status>",
	Short: "Record a status string for the current session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()

		key := currentKey(ctx)
		store, err := openStore()
		if err != nil {
			return swallow("set state", err)
		}
		defer store.Close()

		if err := store.Upsert(ctx, key, currentNamespace(), args[0]); err != nil {
			return swallow("set state", err)
		}
		return nil
	},
}

var stateClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the current session's state entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()

		key := currentKey(ctx)
		store, err := openStore()
		if err != nil {
			return swallow("clear state", err)
		}
		defer store.Close()

		if err := store.Delete(ctx, key); err != nil {
			return swallow("clear state", err)
		}
		return nil
	},
}

func init() {
	stateCmd.AddCommand(stateSetCmd)
	stateCmd.AddCommand(stateClearCmd)
}

// currentKey derives the identity key for the session this hook fired in.
// Outside tmux every field falls back to the sentinel.
func currentKey(ctx context.Context) string {
	return tmux.NewClient().CurrentIdentity(ctx).Key()
}

// currentNamespace is the working directory the hook fired in, matching
// the pwd format the admin surface deletes by. Falls back to the sentinel
// rather than failing the hook.
func currentNamespace() string {
	if pwd, err := os.Getwd(); err == nil {
		return pwd
	}
	return identity.Sentinel
}

// swallow logs a write-path failure and reports success to the hook
// dispatcher.
func swallow(op string, err error) error {
	log.SetPrefix("[waggle] ")
	log.SetOutput(os.Stderr)
	log.Printf("%s: %v", op, err)
	return nil
}
