package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/devlock/internal/cli"
)

// GuardStatusInput represents input for guard_status tool.
type GuardStatusInput struct{}

// GuardStatusOutput represents output for guard_status tool.
type GuardStatusOutput struct {
	KeyPresent     bool   `json:"key_present"`
	SecretPresent  bool   `json:"secret_present"`
	IntegrityOK    bool   `json:"integrity_ok"`
	IntegrityError string `json:"integrity_error,omitempty"`
}

// AttemptSummaryInput represents input for attempt_summary tool.
type AttemptSummaryInput struct {
	Since string `json:"since,omitempty"`
}

// AttemptSummaryOutput represents output for attempt_summary tool.
type AttemptSummaryOutput struct {
	Successes   int    `json:"successes"`
	Failures    int    `json:"failures"`
	LastSuccess string `json:"last_success,omitempty"`
	LastFailure string `json:"last_failure,omitempty"`
}

// handleGuardStatus handles the guard_status tool call.
func (s *Server) handleGuardStatus(_ context.Context, _ *mcp.CallToolRequest, _ GuardStatusInput) (*mcp.CallToolResult, GuardStatusOutput, error) {
	output := GuardStatusOutput{
		KeyPresent:    s.keys.Exists(),
		SecretPresent: s.secrets.Exists(),
	}

	if err := s.integrity.CheckIntegrity(); err != nil {
		output.IntegrityError = err.Error()
	} else {
		output.IntegrityOK = true
	}

	return nil, output, nil
}

// handleAttemptSummary handles the attempt_summary tool call.
func (s *Server) handleAttemptSummary(_ context.Context, _ *mcp.CallToolRequest, input AttemptSummaryInput) (*mcp.CallToolResult, AttemptSummaryOutput, error) {
	var since time.Time
	if input.Since != "" {
		d, err := cli.ParseDuration(input.Since)
		if err != nil {
			return nil, AttemptSummaryOutput{}, fmt.Errorf("invalid since format: %w", err)
		}
		since = s.now().Add(-d)
	}

	summary, err := s.attempts.Summary(since)
	if err != nil {
		return nil, AttemptSummaryOutput{}, fmt.Errorf("failed to summarize attempts: %w", err)
	}

	output := AttemptSummaryOutput{
		Successes: summary.Successes,
		Failures:  summary.Failures,
	}
	if summary.LastSuccess != nil {
		output.LastSuccess = summary.LastSuccess.Format(time.RFC3339)
	}
	if summary.LastFailure != nil {
		output.LastFailure = summary.LastFailure.Format(time.RFC3339)
	}

	return nil, output, nil
}
