// Package mcp implements a read-only MCP (Model Context Protocol) server
// for devlock diagnostics. Agents can see whether the installation is
// healthy and how many attempts were made. They never see the secret, the
// key, or anything that was typed, and they cannot attempt an unlock.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/devlock/pkg/audit"
)

// Presence reports whether a persisted file exists.
type Presence interface {
	Exists() bool
}

// IntegrityChecker decrypts the stored secret without verifying anything.
type IntegrityChecker interface {
	CheckIntegrity() error
}

// AttemptSummarizer aggregates the attempt log.
type AttemptSummarizer interface {
	Summary(since time.Time) (*audit.Summary, error)
}

// Server represents the MCP server for devlock.
type Server struct {
	server    *mcp.Server
	keys      Presence
	secrets   Presence
	integrity IntegrityChecker
	attempts  AttemptSummarizer
	logger    *slog.Logger
	now       func() time.Time
}

// ServerOptions contains the collaborators the tools report on.
type ServerOptions struct {
	Keys      Presence
	Secrets   Presence
	Integrity IntegrityChecker
	Attempts  AttemptSummarizer

	// Version is reported to clients.
	Version string
	Logger  *slog.Logger
}

// NewServer creates a new MCP server instance.
func NewServer(opts *ServerOptions) (*Server, error) {
	if opts == nil || opts.Keys == nil || opts.Secrets == nil || opts.Integrity == nil || opts.Attempts == nil {
		return nil, errors.New("mcp: keys, secrets, integrity and attempts are required")
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "devlock",
			Version: version,
		},
		nil,
	)

	s := &Server{
		server:    mcpServer,
		keys:      opts.Keys,
		secrets:   opts.Secrets,
		integrity: opts.Integrity,
		attempts:  opts.Attempts,
		logger:    logger,
		now:       time.Now,
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	// guard_status - installation health
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "guard_status",
		Description: "Report whether the devlock key and secret files are present and whether the secret decrypts. Does NOT return the secret, the key, or any entered text.",
	}, s.handleGuardStatus)

	// attempt_summary - attempt counts
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "attempt_summary",
		Description: "Count successful and failed unlock attempts, optionally within a recent window (e.g. '24h', '7d'). Does NOT return entered text.",
	}, s.handleAttemptSummary)
}

// Run starts the MCP server using stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting", "transport", "stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
