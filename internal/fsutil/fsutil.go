// Package fsutil holds the small filesystem guards shared by the devlock
// stores: disk-space preflight before writes, permission checks on
// sensitive files, and atomic file replacement.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	// FileMode is used for every file devlock writes.
	FileMode = 0600
	// DirMode is used when devlock creates its data directory.
	DirMode = 0700

	// MinDiskSpaceBytes is the free space required before any write.
	MinDiskSpaceBytes = 1024 * 1024
	// DiskWarningPercent triggers a low-space warning.
	DiskWarningPercent = 90
)

// ErrInsufficientDisk is returned when a write would likely fail for lack of space.
var ErrInsufficientDisk = errors.New("fsutil: insufficient disk space")

// DiskSpaceInfo contains disk usage information
type DiskSpaceInfo struct {
	Total     uint64 `json:"total"`     // Total disk space in bytes
	Free      uint64 `json:"free"`      // Free disk space in bytes
	Available uint64 `json:"available"` // Available to non-root users
	UsedPct   int    `json:"used_pct"`  // Percentage of disk used
}

// CheckDiskSpaceForWrite verifies there is room for dataSize bytes in dir.
// A failure to stat the filesystem is reported through warn and does not
// block the write. warn may be nil.
func CheckDiskSpaceForWrite(dir string, dataSize int, warn func(msg string, args ...any)) error {
	info, err := DiskSpace(dir)
	if err != nil {
		if warn != nil {
			warn("failed to check disk space", "dir", dir, "error", err)
		}
		return nil
	}

	// Need at least MinDiskSpaceBytes or 2x the data size, whichever is larger
	required := uint64(MinDiskSpaceBytes)
	if uint64(dataSize*2) > required {
		required = uint64(dataSize * 2)
	}

	if info.Available < required {
		return fmt.Errorf("%w: only %d bytes available in %s, need at least %d",
			ErrInsufficientDisk, info.Available, dir, required)
	}

	if info.UsedPct >= DiskWarningPercent && warn != nil {
		warn("disk almost full", "dir", dir, "used_pct", info.UsedPct)
	}

	return nil
}

// InsecurePerm reports whether path is accessible by group or others.
// It returns false when the file cannot be stat'ed.
func InsecurePerm(path string) (fs.FileMode, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	perm := info.Mode().Perm()
	return perm, perm&0077 != 0
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place, so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("fsutil: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if err := tmp.Chmod(FileMode); err != nil {
		cleanup()
		return fmt.Errorf("fsutil: failed to set temp file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("fsutil: failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsutil: failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("fsutil: failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("fsutil: failed to rename temp file: %w", err)
	}
	return nil
}
