// Package main provides the waggle CLI: the write path invoked by session
// lifecycle hooks, and the MCP server the orchestrator queries.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
