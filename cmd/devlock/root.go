package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/forest6511/devlock/internal/config"
	"github.com/forest6511/devlock/internal/logging"
	"github.com/forest6511/devlock/pkg/audit"
	"github.com/forest6511/devlock/pkg/guard"
	"github.com/forest6511/devlock/pkg/keystore"
	"github.com/forest6511/devlock/pkg/secretstore"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// Global flags
var (
	flagDir      string
	flagConfig   string
	flagLogLevel string
)

// app is initialized by rootCmd before any subcommand runs.
var app *appContext

// appContext wires the stores for one command invocation.
type appContext struct {
	cfg      *config.Config
	logger   *slog.Logger
	keys     *keystore.Store
	secrets  *secretstore.Store
	attempts *audit.Logger
}

func newApp(cfg *config.Config, logger *slog.Logger) *appContext {
	keys := keystore.New(cfg.KeyPath(), keystore.WithLogger(logger))
	return &appContext{
		cfg:      cfg,
		logger:   logger,
		keys:     keys,
		secrets:  secretstore.New(cfg.SecretPath(), keys, secretstore.WithLogger(logger)),
		attempts: audit.NewLogger(cfg.AttemptLogPath(), audit.WithLogger(logger)),
	}
}

// newGuard creates a guard configured from a.cfg. Each guard is one lock
// session; its counter is not shared with other processes.
func (a *appContext) newGuard() *guard.Guard {
	return guard.New(a.keys, a.secrets, a.attempts,
		guard.WithMaxAttempts(a.cfg.MaxAttempts),
		guard.WithCooldown(a.cfg.Cooldown),
		guard.WithLogger(a.logger),
		guard.WithUnicodeNormalization(a.cfg.NormalizeUnicode),
	)
}

var rootCmd = &cobra.Command{
	Use:     "devlock",
	Short:   "devlock is a password-guarded terminal lock",
	Long:    `A password-guarded lock prompt with an encrypted secret, a failed-attempt lockout and an attempt log.`,
	Version: version,
	// Errors are printed by cobra; usage only for flag mistakes.
	SilenceUsage: true,
	// PersistentPreRunE runs before every subcommand and wires the stores.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.Flags{
			Dir:        flagDir,
			ConfigFile: flagConfig,
			LogLevel:   flagLogLevel,
		})
		if err != nil {
			return err
		}

		// Logs go to stderr so the prompt on stdout stays clean.
		logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		app = newApp(cfg, logger)
		if cfg.Source != "" {
			logger.Debug("loaded config file", "path", cfg.Source)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", fmt.Sprintf("data directory (env %s, default current directory)", config.EnvDir))
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", fmt.Sprintf("config file (default <dir>/%s)", config.FileName))
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}
