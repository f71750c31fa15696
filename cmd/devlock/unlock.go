package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/devlock/internal/cli"
	"github.com/forest6511/devlock/pkg/guard"
	"github.com/forest6511/devlock/pkg/secretstore"
)

// unlockCmd runs the lock prompt until the right password is entered
var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Show the lock prompt and wait for the password",
	Long: `Show the lock prompt and wait for the password.

Each wrong password is recorded in the attempt log. After too many
consecutive wrong passwords the prompt pauses for the cooldown period.
Exits 0 once unlocked and 2 if the password cannot be checked at all
(missing or corrupt key or secret).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// First run provisions the default secret, like a fresh install.
		if _, err := app.secrets.EnsureProvisioned(secretstore.DefaultPassword); err != nil {
			return &exitCodeError{code: exitFault, err: fmt.Errorf("failed to provision secret: %w", err)}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		prompter := cli.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
		return runUnlock(ctx, app.newGuard(), prompter, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(unlockCmd)
}

// runUnlock loops on the prompt until Granted, a Fault, ctx cancellation
// or end of input.
func runUnlock(ctx context.Context, g *guard.Guard, prompter *cli.Prompter, out io.Writer) error {
	for {
		if g.IsLockedOut() {
			fmt.Fprintf(out, "Locked. Try again in %s.\n", roundUpSeconds(g.TimeRemaining()))
		}
		if err := g.WaitCooldown(ctx); err != nil {
			return err
		}

		candidate, err := prompter.ReadPassword("Password: ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("no password entered")
			}
			return err
		}

		res := g.Verify(candidate)
		switch res.Outcome {
		case guard.Granted:
			fmt.Fprintln(out, "Unlocked.")
			return nil
		case guard.Fault:
			return &exitCodeError{code: exitFault, err: fmt.Errorf("cannot check password: %w", res.Err)}
		default:
			if res.Reason == guard.ReasonTooManyAttempts {
				fmt.Fprintln(out, "Too many attempts.")
			} else {
				fmt.Fprintln(out, "Incorrect password.")
			}
		}
	}
}

// roundUpSeconds formats d as whole seconds, never showing 0s for a
// pending wait.
func roundUpSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}
