// Package keystore owns the installation encryption key.
//
// The key is 32 random bytes stored raw in a single file (key.key by
// default). It is created on first use and re-read from disk on every
// call; nothing is cached between calls.
package keystore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/forest6511/devlock/internal/fsutil"
	"github.com/forest6511/devlock/pkg/crypto"
)

// DefaultFileName is the key file name used when none is configured.
const DefaultFileName = "key.key"

// Errors
var (
	ErrKeyNotFound = errors.New("keystore: key file not found")
	ErrKeyCorrupt  = errors.New("keystore: key file is corrupt")
)

// Store reads and creates the key file at a fixed path.
type Store struct {
	path     string
	logger   *slog.Logger
	permOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for permission and creation notices.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New returns a Store for the key file at path.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the key file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether the key file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads the key file without ever creating it.
// Returns ErrKeyNotFound if the file is missing and ErrKeyCorrupt if it
// does not hold exactly crypto.KeyLength bytes.
func (s *Store) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("keystore: failed to read key file: %w", err)
	}

	if len(data) != crypto.KeyLength {
		crypto.SecureWipe(data)
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrKeyCorrupt, len(data), crypto.KeyLength)
	}

	s.permOnce.Do(s.warnIfInsecure)
	return data, nil
}

// LoadOrCreate returns the existing key, or generates and persists a new
// one when the key file does not exist yet.
func (s *Store) LoadOrCreate() ([]byte, error) {
	key, err := s.Load()
	if !errors.Is(err, ErrKeyNotFound) {
		return key, err
	}
	return s.create()
}

func (s *Store) create() ([]byte, error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, fsutil.DirMode); err != nil {
		return nil, fmt.Errorf("keystore: failed to create key directory: %w", err)
	}

	if err := fsutil.CheckDiskSpaceForWrite(dir, crypto.KeyLength, s.logger.Warn); err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}

	// O_EXCL so two first runs racing cannot overwrite each other's key.
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fsutil.FileMode)
	if err != nil {
		crypto.SecureWipe(key)
		if errors.Is(err, fs.ErrExist) {
			return s.Load()
		}
		return nil, fmt.Errorf("keystore: failed to create key file: %w", err)
	}

	if _, err := f.Write(key); err != nil {
		f.Close()
		os.Remove(s.path)
		crypto.SecureWipe(key)
		return nil, fmt.Errorf("keystore: failed to write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(s.path)
		crypto.SecureWipe(key)
		return nil, fmt.Errorf("keystore: failed to close key file: %w", err)
	}

	s.logger.Info("generated new encryption key", "path", s.path)
	return key, nil
}

// warnIfInsecure is advisory only; the user may have intentional reasons.
func (s *Store) warnIfInsecure() {
	if perm, insecure := fsutil.InsecurePerm(s.path); insecure {
		s.logger.Warn("key file has insecure permissions",
			"path", s.path,
			"perm", fmt.Sprintf("%04o", perm),
			"expected", "0600")
	}
}
