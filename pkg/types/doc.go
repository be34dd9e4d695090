// Package types defines the agent state record and the standard error
// values shared by the waggle store, CLI, and MCP server.
package types
