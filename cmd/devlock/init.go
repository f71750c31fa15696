package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/forest6511/devlock/internal/cli"
	"github.com/forest6511/devlock/pkg/secretstore"
)

var initPasswordPrompt bool

// initCmd provisions the key and the secret
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the encryption key and the stored password",
	Long: `Create the encryption key and the encrypted password in the data directory.

Without --password-prompt the built-in default password is stored. An
existing secret is never overwritten.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompter := cli.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
		return runInit(app, prompter, cmd.OutOrStdout(), initPasswordPrompt)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initPasswordPrompt, "password-prompt", false, "prompt for a password instead of using the default")
}

func runInit(a *appContext, prompter *cli.Prompter, out io.Writer, usePrompt bool) error {
	if a.secrets.Exists() {
		fmt.Fprintf(out, "Already initialized: %s\n", a.secrets.Path())
		return nil
	}

	password := secretstore.DefaultPassword
	if usePrompt {
		var err error
		password, err = promptNewPassword(prompter, out)
		if err != nil {
			return err
		}
	}

	created, err := a.secrets.EnsureProvisioned(password)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	if !created {
		fmt.Fprintf(out, "Already initialized: %s\n", a.secrets.Path())
		return nil
	}

	fmt.Fprintf(out, "Initialized in %s\n", a.cfg.Dir)
	if !usePrompt {
		fmt.Fprintln(out, "The built-in default password is in use.")
	}
	return nil
}

func promptNewPassword(prompter *cli.Prompter, out io.Writer) (string, error) {
	password1, err := prompter.ReadPassword("Enter password: ")
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", errors.New("no password entered")
		}
		return "", err
	}

	result := secretstore.ValidatePassword(password1)
	if !result.Valid {
		return "", fmt.Errorf("invalid password: %s", result.Warnings[0])
	}

	password2, err := prompter.ReadPassword("Confirm password: ")
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", errors.New("no confirmation entered")
		}
		return "", err
	}
	if password1 != password2 {
		return "", errors.New("passwords do not match")
	}

	fmt.Fprintf(out, "Password strength: %s\n", result.Strength)
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "  - %s\n", w)
	}
	return password1, nil
}
