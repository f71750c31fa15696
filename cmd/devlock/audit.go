package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/devlock/internal/cli"
	"github.com/forest6511/devlock/pkg/audit"
)

// Audit list flags
var (
	auditLimit       int
	auditSince       string
	auditShowEntered bool
)

// Audit export flags
var (
	auditExportFormat         string
	auditExportSince          string
	auditExportUntil          string
	auditExportOutput         string
	auditExportIncludeEntered bool
)

// Audit prune flags
var (
	auditPruneOlderThan string
	auditPruneDryRun    bool
	auditPruneForce     bool
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditExportCmd)
	auditCmd.AddCommand(auditPruneCmd)

	auditListCmd.Flags().IntVarP(&auditLimit, "limit", "n", 50, "maximum number of events to show (0 = all)")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "show events within duration (e.g., 24h, 7d)")
	auditListCmd.Flags().BoolVar(&auditShowEntered, "show-entered", false, "show the text entered on failed attempts")

	auditExportCmd.Flags().StringVar(&auditExportFormat, "format", "json", "output format: json or csv")
	auditExportCmd.Flags().StringVar(&auditExportSince, "since", "", "export events within duration (e.g., 30d)")
	auditExportCmd.Flags().StringVar(&auditExportUntil, "until", "", "export events until time (RFC 3339)")
	auditExportCmd.Flags().StringVarP(&auditExportOutput, "output", "o", "", "output file (default stdout)")
	auditExportCmd.Flags().BoolVar(&auditExportIncludeEntered, "include-entered", false, "include the text entered on failed attempts")

	auditPruneCmd.Flags().StringVar(&auditPruneOlderThan, "older-than", "", "delete entries older than duration (e.g., 30d, 1y)")
	auditPruneCmd.Flags().BoolVar(&auditPruneDryRun, "dry-run", false, "show how many entries would be deleted")
	auditPruneCmd.Flags().BoolVarP(&auditPruneForce, "force", "f", false, "skip confirmation prompt")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Attempt log operations",
}

// auditListCmd lists attempt log entries
var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List attempt log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := sinceFlag(auditSince)
		if err != nil {
			return err
		}
		return runAuditList(app.attempts, cmd.OutOrStdout(), auditLimit, since, auditShowEntered)
	},
}

// auditExportCmd exports attempt log entries
var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export attempt log entries to JSON or CSV format",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditExportFormat != "json" && auditExportFormat != "csv" {
			return fmt.Errorf("invalid format: %s (use 'json' or 'csv')", auditExportFormat)
		}

		since, err := sinceFlag(auditExportSince)
		if err != nil {
			return err
		}
		var until time.Time
		if auditExportUntil != "" {
			until, err = time.Parse(time.RFC3339, auditExportUntil)
			if err != nil {
				return fmt.Errorf("invalid until format (use RFC 3339): %w", err)
			}
		}

		data, err := app.attempts.ExportWithOptions(audit.ExportOptions{
			Format:         auditExportFormat,
			Since:          since,
			Until:          until,
			IncludeEntered: auditExportIncludeEntered,
		})
		if err != nil {
			return fmt.Errorf("failed to export attempt log: %w", err)
		}

		if auditExportOutput == "" {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}

		absPath, err := validateOutputPath(auditExportOutput)
		if err != nil {
			return err
		}
		if err := os.WriteFile(absPath, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if auditExportIncludeEntered {
			fmt.Fprintln(cmd.ErrOrStderr(), "Warning: the export contains text typed at the lock prompt, which may include near-miss passwords.")
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Attempt log exported to %s\n", absPath)
		return nil
	},
}

// auditPruneCmd deletes old attempt log entries
var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old attempt log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditPruneOlderThan == "" {
			return fmt.Errorf("--older-than flag is required")
		}
		olderThan, err := cli.ParseDuration(auditPruneOlderThan)
		if err != nil {
			return fmt.Errorf("invalid older-than format: %w", err)
		}
		return runAuditPrune(app.attempts, cmd.InOrStdin(), cmd.OutOrStdout(), olderThan, auditPruneOlderThan, auditPruneDryRun, auditPruneForce)
	},
}

func sinceFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	d, err := cli.ParseDuration(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since format: %w", err)
	}
	return time.Now().Add(-d), nil
}

func runAuditList(attempts *audit.Logger, out io.Writer, limit int, since time.Time, showEntered bool) error {
	events, err := attempts.ListEvents(limit, since)
	if err != nil {
		return fmt.Errorf("failed to list attempt log: %w", err)
	}

	if len(events) == 0 {
		fmt.Fprintln(out, "No attempts found")
		return nil
	}

	for _, event := range events {
		line := event.Timestamp.Format(audit.TimestampLayout)
		switch event.Outcome {
		case audit.OutcomeSuccess:
			line += " SUCCESS"
		default:
			line += " FAILURE"
			if showEntered {
				line += fmt.Sprintf(" entered:%q", event.Entered)
			}
		}
		fmt.Fprintln(out, line)
	}

	fmt.Fprintf(out, "\nTotal: %d events\n", len(events))
	return nil
}

func runAuditPrune(attempts *audit.Logger, in io.Reader, out io.Writer, olderThan time.Duration, label string, dryRun, force bool) error {
	count, err := attempts.PrunePreview(olderThan)
	if err != nil {
		return fmt.Errorf("failed to preview prune: %w", err)
	}

	if dryRun {
		fmt.Fprintf(out, "Would delete %d attempt log entries older than %s\n", count, label)
		return nil
	}

	if count == 0 {
		fmt.Fprintln(out, "No attempt log entries to delete")
		return nil
	}

	if !force {
		fmt.Fprintf(out, "This will delete %d attempt log entries older than %s.\n", count, label)
		fmt.Fprint(out, "Are you sure? [y/N]: ")
		response, _ := bufio.NewReader(in).ReadString('\n')
		response = strings.TrimSpace(response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted")
			return nil
		}
	}

	deleted, err := attempts.Prune(olderThan)
	if err != nil {
		return fmt.Errorf("failed to prune attempt log: %w", err)
	}

	fmt.Fprintf(out, "Deleted %d attempt log entries\n", deleted)
	return nil
}

// validateOutputPath keeps exports within the current directory, the
// home directory or the temp directory.
func validateOutputPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid output path: %w", err)
	}

	var validPrefixes []string
	if cwd, err := os.Getwd(); err == nil {
		validPrefixes = append(validPrefixes, cwd)
	}
	if home, err := os.UserHomeDir(); err == nil {
		validPrefixes = append(validPrefixes, home)
	}
	validPrefixes = append(validPrefixes, os.TempDir())

	for _, prefix := range validPrefixes {
		rel, err := filepath.Rel(prefix, absPath)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return absPath, nil
		}
	}
	return "", fmt.Errorf("output path must be within current directory, home directory, or %s", os.TempDir())
}
