package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every DEVLOCK_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		EnvDir, EnvKeyFile, EnvSecretFile, EnvAttemptLog, EnvMaxAttempts,
		EnvCooldownSeconds, EnvLogLevel, EnvLogFormat, EnvNormalizeUnicode,
	} {
		if v, ok := os.LookupEnv(k); ok {
			require.NoError(t, os.Unsetenv(k))
			t.Cleanup(func() { _ = os.Setenv(k, v) })
		}
	}
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := Load(Flags{Dir: dir})
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Dir)
	assert.Equal(t, DefaultKeyFile, cfg.KeyFile)
	assert.Equal(t, DefaultSecretFile, cfg.SecretFile)
	assert.Equal(t, DefaultAttemptLog, cfg.AttemptLog)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Cooldown)
	assert.False(t, cfg.NormalizeUnicode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.Source)

	assert.Equal(t, filepath.Join(dir, "key.key"), cfg.KeyPath())
	assert.Equal(t, filepath.Join(dir, "secret.json"), cfg.SecretPath())
	assert.Equal(t, filepath.Join(dir, "attempts.log"), cfg.AttemptLogPath())
}

func TestDefaultDirIsWorkingDirectory(t *testing.T) {
	assert.Equal(t, ".", Default().Dir)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, `
key_file: lock.key
max_attempts: 5
cooldown: 30s
normalize_unicode: true
log_format: json
`)

	cfg, err := Load(Flags{Dir: dir})
	require.NoError(t, err)

	assert.Equal(t, "lock.key", cfg.KeyFile)
	assert.Equal(t, DefaultSecretFile, cfg.SecretFile)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Cooldown)
	assert.True(t, cfg.NormalizeUnicode)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, path, cfg.Source)
}

func TestLoadEmptyFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "")

	cfg, err := Load(Flags{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown field", "max_attemps: 5\n"},
		{"bad yaml", "max_attempts: [\n"},
		{"bad cooldown", "cooldown: soon\n"},
		{"invalid value", "max_attempts: 0\n"},
		{"bad log level", "log_level: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)

			_, err := Load(Flags{Dir: dir})
			assert.Error(t, err)
		})
	}
}

func TestLoadExplicitFileMissing(t *testing.T) {
	clearEnv(t)
	_, err := Load(Flags{Dir: t.TempDir(), ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadExplicitFile(t *testing.T) {
	clearEnv(t)
	other := t.TempDir()
	path := writeConfig(t, other, "max_attempts: 7\n")

	cfg, err := Load(Flags{Dir: t.TempDir(), ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxAttempts)
}

func TestLoadRejectsInsecureFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not enforced on windows")
	}
	clearEnv(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "max_attempts: 5\n")
	require.NoError(t, os.Chmod(path, 0666))

	_, err := Load(Flags{Dir: dir})
	assert.ErrorIs(t, err, ErrConfigInsecure)
}

func TestLoadRejectsSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
	clearEnv(t)
	dir := t.TempDir()
	target := filepath.Join(t.TempDir(), "real.yaml")
	require.NoError(t, os.WriteFile(target, []byte("max_attempts: 5\n"), 0600))
	require.NoError(t, os.Symlink(target, filepath.Join(dir, FileName)))

	_, err := Load(Flags{Dir: dir})
	assert.ErrorIs(t, err, ErrConfigSymlink)
}

func TestLoadEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv(EnvDir, dir)
	t.Setenv(EnvKeyFile, "k.bin")
	t.Setenv(EnvSecretFile, "s.json")
	t.Setenv(EnvAttemptLog, "a.log")
	t.Setenv(EnvMaxAttempts, "4")
	t.Setenv(EnvCooldownSeconds, "12")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvNormalizeUnicode, "true")

	cfg, err := Load(Flags{})
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Dir)
	assert.Equal(t, filepath.Join(dir, "k.bin"), cfg.KeyPath())
	assert.Equal(t, filepath.Join(dir, "s.json"), cfg.SecretPath())
	assert.Equal(t, filepath.Join(dir, "a.log"), cfg.AttemptLogPath())
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, 12*time.Second, cfg.Cooldown)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.NormalizeUnicode)
}

func TestLoadEnvInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"max attempts not a number", EnvMaxAttempts, "xyz"},
		{"cooldown not a number", EnvCooldownSeconds, "abc"},
		{"cooldown with unit", EnvCooldownSeconds, "30s"},
		{"normalize not a boolean", EnvNormalizeUnicode, "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			writeConfig(t, dir, "max_attempts: 5\ncooldown: 60s\n")
			t.Setenv(tt.key, tt.value)

			cfg, err := Load(Flags{Dir: dir})
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoadEnvEmptyKeepsFileValues(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "max_attempts: 5\ncooldown: 60s\n")
	t.Setenv(EnvMaxAttempts, "")
	t.Setenv(EnvCooldownSeconds, " ")

	cfg, err := Load(Flags{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Cooldown)
}

func TestPrecedence(t *testing.T) {
	clearEnv(t)
	envDir := t.TempDir()
	flagDir := t.TempDir()

	// File in the flag directory sets both values.
	writeConfig(t, flagDir, "max_attempts: 5\nlog_level: warn\ncooldown: 1m\n")
	// Env beats the file.
	t.Setenv(EnvDir, envDir)
	t.Setenv(EnvMaxAttempts, "9")

	cfg, err := Load(Flags{Dir: flagDir, LogLevel: "error"})
	require.NoError(t, err)

	assert.Equal(t, flagDir, cfg.Dir, "flag beats env for the directory")
	assert.Equal(t, 9, cfg.MaxAttempts, "env beats file")
	assert.Equal(t, time.Minute, cfg.Cooldown, "file beats default")
	assert.Equal(t, "error", cfg.LogLevel, "flag beats file")
}

func TestAbsolutePathsNotJoined(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "elsewhere.key")
	cfg := Default()
	cfg.Dir = t.TempDir()
	cfg.KeyFile = abs
	assert.Equal(t, abs, cfg.KeyPath())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero cooldown", func(c *Config) { c.Cooldown = 0 }, false},
		{"negative cooldown", func(c *Config) { c.Cooldown = -time.Second }, true},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }, true},
		{"empty dir", func(c *Config) { c.Dir = "" }, true},
		{"empty key file", func(c *Config) { c.KeyFile = "" }, true},
		{"empty secret file", func(c *Config) { c.SecretFile = "" }, true},
		{"empty attempt log", func(c *Config) { c.AttemptLog = "" }, true},
		{"bad level", func(c *Config) { c.LogLevel = "trace" }, true},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
