package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/devlock/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the read-only MCP diagnostics server
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the read-only MCP diagnostics server",
	Long: `Start an MCP (Model Context Protocol) server over stdio that lets AI
assistants check on a devlock installation.

Available tools:
  - guard_status:    key/secret presence and whether the secret decrypts
  - attempt_summary: successful and failed attempt counts

The server cannot unlock, never returns the password, the key or any
entered text, and does not create or modify files.

Example MCP configuration:
  {
    "mcpServers": {
      "devlock": {
        "type": "stdio",
        "command": "/path/to/devlock",
        "args": ["mcp-server", "--dir", "/path/to/data"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer(cmd.Context())
	},
}

func runMCPServer(parent context.Context) error {
	server, err := mcp.NewServer(&mcp.ServerOptions{
		Keys:      app.keys,
		Secrets:   app.secrets,
		Integrity: app.newGuard(),
		Attempts:  app.attempts,
		Version:   version,
		Logger:    app.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		// Don't report context canceled as an error
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
