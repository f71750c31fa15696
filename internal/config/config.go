// Package config resolves devlock settings from defaults, an optional YAML
// file in the data directory, DEVLOCK_* environment variables and command
// line flags, in increasing order of priority.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/allisson/go-env"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the data directory.
const FileName = "devlock.yaml"

// Defaults
const (
	DefaultDir              = "."
	DefaultKeyFile          = "key.key"
	DefaultSecretFile       = "secret.json"
	DefaultAttemptLog       = "attempts.log"
	DefaultMaxAttempts      = 3
	DefaultCooldownSeconds  = 5
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultNormalizeUnicode = false
)

// Environment variables
const (
	EnvDir              = "DEVLOCK_DIR"
	EnvKeyFile          = "DEVLOCK_KEY_FILE"
	EnvSecretFile       = "DEVLOCK_SECRET_FILE"
	EnvAttemptLog       = "DEVLOCK_ATTEMPT_LOG"
	EnvMaxAttempts      = "DEVLOCK_MAX_ATTEMPTS"
	EnvCooldownSeconds  = "DEVLOCK_COOLDOWN_SECONDS"
	EnvLogLevel         = "DEVLOCK_LOG_LEVEL"
	EnvLogFormat        = "DEVLOCK_LOG_FORMAT"
	EnvNormalizeUnicode = "DEVLOCK_NORMALIZE_UNICODE"
)

// Errors
var (
	ErrConfigNotFound = errors.New("config: config file not found")
	ErrConfigSymlink  = errors.New("config: config file is a symlink")
	ErrConfigInsecure = errors.New("config: config file is writable by group or others")
	ErrInvalidConfig  = errors.New("config: invalid configuration")
)

// Config holds all devlock configuration.
type Config struct {
	// Dir is the data directory holding the key, secret and attempt log.
	Dir string
	// KeyFile is the key file name, relative to Dir unless absolute.
	KeyFile string
	// SecretFile is the secret file name, relative to Dir unless absolute.
	SecretFile string
	// AttemptLog is the attempt log name, relative to Dir unless absolute.
	AttemptLog string

	// MaxAttempts is the number of consecutive failures that triggers lockout.
	MaxAttempts int
	// Cooldown is how long a lockout lasts.
	Cooldown time.Duration
	// NormalizeUnicode compares NFC forms of entered and stored passwords.
	NormalizeUnicode bool

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// LogFormat is text or json.
	LogFormat string

	// Source is the config file that was applied, if any.
	Source string
}

// Flags carries command line overrides. Empty fields are ignored.
type Flags struct {
	Dir        string
	ConfigFile string
	LogLevel   string
}

// fileConfig mirrors devlock.yaml. Pointers distinguish unset from zero.
type fileConfig struct {
	KeyFile          *string `yaml:"key_file"`
	SecretFile       *string `yaml:"secret_file"`
	AttemptLog       *string `yaml:"attempt_log"`
	MaxAttempts      *int    `yaml:"max_attempts"`
	Cooldown         *string `yaml:"cooldown"`
	NormalizeUnicode *bool   `yaml:"normalize_unicode"`
	LogLevel         *string `yaml:"log_level"`
	LogFormat        *string `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Dir:              DefaultDir,
		KeyFile:          DefaultKeyFile,
		SecretFile:       DefaultSecretFile,
		AttemptLog:       DefaultAttemptLog,
		MaxAttempts:      DefaultMaxAttempts,
		Cooldown:         DefaultCooldownSeconds * time.Second,
		NormalizeUnicode: DefaultNormalizeUnicode,
		LogLevel:         DefaultLogLevel,
		LogFormat:        DefaultLogFormat,
	}
}

// Load resolves the configuration and validates it.
func Load(flags Flags) (*Config, error) {
	cfg := Default()

	// The data directory is needed to find the config file, so it is
	// resolved from flag and environment first.
	cfg.Dir = env.GetString(EnvDir, cfg.Dir)
	if flags.Dir != "" {
		cfg.Dir = flags.Dir
	}

	path := flags.ConfigFile
	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.Dir, FileName)
	}
	// The file is optional unless named explicitly.
	if err := cfg.applyFile(path); err != nil && (explicit || !errors.Is(err, ErrConfigNotFound)) {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if flags.LogLevel != "" {
		cfg.LogLevel = flags.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile merges the YAML file at path into cfg.
func (c *Config) applyFile(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return fmt.Errorf("%w: %s", ErrConfigSymlink, path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0022 != 0 {
		return fmt.Errorf("%w: %s has mode %o", ErrConfigInsecure, path, info.Mode().Perm())
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if fc.KeyFile != nil {
		c.KeyFile = *fc.KeyFile
	}
	if fc.SecretFile != nil {
		c.SecretFile = *fc.SecretFile
	}
	if fc.AttemptLog != nil {
		c.AttemptLog = *fc.AttemptLog
	}
	if fc.MaxAttempts != nil {
		c.MaxAttempts = *fc.MaxAttempts
	}
	if fc.Cooldown != nil {
		d, err := time.ParseDuration(*fc.Cooldown)
		if err != nil {
			return fmt.Errorf("config: invalid cooldown in %s: %w", path, err)
		}
		c.Cooldown = d
	}
	if fc.NormalizeUnicode != nil {
		c.NormalizeUnicode = *fc.NormalizeUnicode
	}
	if fc.LogLevel != nil {
		c.LogLevel = *fc.LogLevel
	}
	if fc.LogFormat != nil {
		c.LogFormat = *fc.LogFormat
	}

	c.Source = path
	return nil
}

// applyEnv overrides cfg with any DEVLOCK_* variables that are set.
// Numeric and boolean variables that are set but unparsable are an error
// rather than a silent fallback.
func (c *Config) applyEnv() error {
	c.KeyFile = env.GetString(EnvKeyFile, c.KeyFile)
	c.SecretFile = env.GetString(EnvSecretFile, c.SecretFile)
	c.AttemptLog = env.GetString(EnvAttemptLog, c.AttemptLog)
	if v, ok := lookupEnv(EnvMaxAttempts); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, EnvMaxAttempts, v)
		}
		c.MaxAttempts = n
	}
	if v, ok := lookupEnv(EnvCooldownSeconds); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, EnvCooldownSeconds, v)
		}
		c.Cooldown = time.Duration(n) * time.Second
	}
	if v, ok := lookupEnv(EnvNormalizeUnicode); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidConfig, EnvNormalizeUnicode, v)
		}
		c.NormalizeUnicode = b
	}
	c.LogLevel = env.GetString(EnvLogLevel, c.LogLevel)
	c.LogFormat = env.GetString(EnvLogFormat, c.LogFormat)
	return nil
}

// lookupEnv returns the trimmed value of key. Empty counts as unset.
func lookupEnv(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("%w: data directory must not be empty", ErrInvalidConfig)
	}
	for name, v := range map[string]string{
		"key file":    c.KeyFile,
		"secret file": c.SecretFile,
		"attempt log": c.AttemptLog,
	} {
		if v == "" {
			return fmt.Errorf("%w: %s must not be empty", ErrInvalidConfig, name)
		}
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown must not be negative, got %s", ErrInvalidConfig, c.Cooldown)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

// KeyPath returns the resolved key file path.
func (c *Config) KeyPath() string {
	return c.resolve(c.KeyFile)
}

// SecretPath returns the resolved secret file path.
func (c *Config) SecretPath() string {
	return c.resolve(c.SecretFile)
}

// AttemptLogPath returns the resolved attempt log path.
func (c *Config) AttemptLogPath() string {
	return c.resolve(c.AttemptLog)
}

func (c *Config) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Dir, name)
}
