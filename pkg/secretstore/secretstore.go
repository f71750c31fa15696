// Package secretstore owns the encrypted password record (secret.json).
//
// The record is a JSON object {"password": "<blob>"} where the blob is
// produced by crypto.SealString under a subkey of the installation key.
// The store only encrypts, at provisioning time; decryption belongs to
// the guard.
package secretstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/forest6511/devlock/internal/fsutil"
	"github.com/forest6511/devlock/pkg/crypto"
)

const (
	// DefaultFileName is the secret file name used when none is configured.
	DefaultFileName = "secret.json"

	// DefaultPassword is provisioned on first run when no secret exists.
	DefaultPassword = "SAM"
)

// Errors
var (
	ErrSecretNotFound = errors.New("secretstore: secret file not found")
	ErrSecretCorrupt  = errors.New("secretstore: secret file is corrupt")
)

// Record is the persisted form of the secret.
type Record struct {
	Password string `json:"password"`
}

// KeyProvider supplies the installation key, creating it if needed.
type KeyProvider interface {
	LoadOrCreate() ([]byte, error)
}

// Store provisions and reads the secret file at a fixed path.
type Store struct {
	path   string
	keys   KeyProvider
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for provisioning notices.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New returns a Store for the secret file at path.
func New(path string, keys KeyProvider, opts ...Option) *Store {
	s := &Store{
		path:   path,
		keys:   keys,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the secret file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the secret file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// EnsureProvisioned encrypts password under the installation key and
// writes the record, but only when no secret file exists yet. An existing
// file is left alone whatever it contains. Reports whether a new record
// was written.
func (s *Store) EnsureProvisioned(password string) (bool, error) {
	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("secretstore: failed to stat secret file: %w", err)
	}

	master, err := s.keys.LoadOrCreate()
	if err != nil {
		return false, fmt.Errorf("secretstore: failed to load key: %w", err)
	}
	defer crypto.SecureWipe(master)

	key, err := crypto.DeriveSubkey(master, crypto.SecretKeyInfo)
	if err != nil {
		return false, fmt.Errorf("secretstore: failed to derive key: %w", err)
	}
	defer crypto.SecureWipe(key)

	blob, err := crypto.SealString(key, password)
	if err != nil {
		return false, fmt.Errorf("secretstore: failed to encrypt secret: %w", err)
	}

	data, err := json.Marshal(Record{Password: blob})
	if err != nil {
		return false, fmt.Errorf("secretstore: failed to marshal secret: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, fsutil.DirMode); err != nil {
		return false, fmt.Errorf("secretstore: failed to create secret directory: %w", err)
	}
	if err := fsutil.CheckDiskSpaceForWrite(dir, len(data), s.logger.Warn); err != nil {
		return false, fmt.Errorf("secretstore: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data); err != nil {
		return false, fmt.Errorf("secretstore: failed to write secret file: %w", err)
	}

	s.logger.Info("provisioned secret", "path", s.path)
	return true, nil
}

// Load reads and parses the secret file and returns the encrypted blob.
func (s *Store) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("secretstore: failed to read secret file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSecretCorrupt, err)
	}
	if rec.Password == "" {
		return "", fmt.Errorf("%w: missing password field", ErrSecretCorrupt)
	}
	return rec.Password, nil
}
