package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/devlock/internal/cli"
	"github.com/forest6511/devlock/internal/fsutil"
	"github.com/forest6511/devlock/pkg/audit"
)

// Status command flags
var (
	statusJSON  bool
	statusSince string
)

// statusCmd reports installation health without touching any state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show installation health and attempt counts",
	Long: `Show whether the key and the secret exist and whether the secret decrypts,
along with file permission warnings, disk space and attempt counts.

Nothing is created or recorded.

Example:
  devlock status
  devlock status --since 7d --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if statusSince != "" {
			d, err := cli.ParseDuration(statusSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-d)
		}

		report, err := collectStatus(app, since)
		if err != nil {
			return err
		}
		if statusJSON {
			return outputStatusJSON(cmd.OutOrStdout(), report)
		}
		outputStatusText(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output in JSON format")
	statusCmd.Flags().StringVar(&statusSince, "since", "", "count attempts within duration (e.g., 24h, 7d)")
}

// fileStatus describes one persisted file.
type fileStatus struct {
	Path     string `json:"path"`
	Present  bool   `json:"present"`
	Mode     string `json:"mode,omitempty"`
	Insecure bool   `json:"insecure,omitempty"`
}

// statusReport is the output of the status command.
type statusReport struct {
	Dir            string                `json:"dir"`
	Key            fileStatus            `json:"key"`
	Secret         fileStatus            `json:"secret"`
	AttemptLog     fileStatus            `json:"attempt_log"`
	IntegrityOK    bool                  `json:"integrity_ok"`
	IntegrityError string                `json:"integrity_error,omitempty"`
	Disk           *fsutil.DiskSpaceInfo `json:"disk,omitempty"`
	MaxAttempts    int                   `json:"max_attempts"`
	Cooldown       string                `json:"cooldown"`
	Attempts       *audit.Summary        `json:"attempts"`
}

func describeFile(path string, exists bool) fileStatus {
	st := fileStatus{Path: path, Present: exists}
	if exists {
		if perm, insecure := fsutil.InsecurePerm(path); perm != 0 {
			st.Mode = fmt.Sprintf("%04o", uint32(perm))
			st.Insecure = insecure
		}
	}
	return st
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func collectStatus(a *appContext, since time.Time) (*statusReport, error) {
	report := &statusReport{
		Dir:         a.cfg.Dir,
		Key:         describeFile(a.keys.Path(), a.keys.Exists()),
		Secret:      describeFile(a.secrets.Path(), a.secrets.Exists()),
		AttemptLog:  describeFile(a.attempts.Path(), fileExists(a.attempts.Path())),
		MaxAttempts: a.cfg.MaxAttempts,
		Cooldown:    a.cfg.Cooldown.String(),
	}

	if err := a.newGuard().CheckIntegrity(); err != nil {
		report.IntegrityError = err.Error()
	} else {
		report.IntegrityOK = true
	}

	if disk, err := fsutil.DiskSpace(a.cfg.Dir); err == nil {
		report.Disk = disk
	}

	summary, err := a.attempts.Summary(since)
	if err != nil {
		return nil, fmt.Errorf("failed to read attempt log: %w", err)
	}
	report.Attempts = summary

	return report, nil
}

func outputStatusJSON(out io.Writer, report *statusReport) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func outputStatusText(out io.Writer, r *statusReport) {
	fmt.Fprintf(out, "Data directory: %s\n\n", r.Dir)

	for _, f := range []struct {
		label string
		fs    fileStatus
	}{
		{"Key", r.Key},
		{"Secret", r.Secret},
		{"Attempt log", r.AttemptLog},
	} {
		state := "missing"
		if f.fs.Present {
			state = "present"
		}
		fmt.Fprintf(out, "%-12s %-8s %s\n", f.label+":", state, f.fs.Path)
		if f.fs.Insecure {
			fmt.Fprintf(out, "             ⚠ permissions %s, expected 0600\n", f.fs.Mode)
		}
	}

	fmt.Fprintln(out)
	if r.IntegrityOK {
		fmt.Fprintln(out, "Integrity:   ✓ secret decrypts")
	} else {
		fmt.Fprintf(out, "Integrity:   ✗ %s\n", r.IntegrityError)
	}

	if r.Disk != nil {
		fmt.Fprintf(out, "Disk:        %d%% used, %s available\n", r.Disk.UsedPct, formatBytes(r.Disk.Available))
	}
	fmt.Fprintf(out, "Lockout:     %d attempts, %s cooldown\n", r.MaxAttempts, r.Cooldown)

	fmt.Fprintf(out, "Attempts:    %d successful, %d failed\n", r.Attempts.Successes, r.Attempts.Failures)
	if r.Attempts.LastSuccess != nil {
		fmt.Fprintf(out, "             last success %s\n", r.Attempts.LastSuccess.Format(audit.TimestampLayout))
	}
	if r.Attempts.LastFailure != nil {
		fmt.Fprintf(out, "             last failure %s\n", r.Attempts.LastFailure.Format(audit.TimestampLayout))
	}
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
