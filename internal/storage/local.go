package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultTempDir is the workspace directory used when none is configured.
const DefaultTempDir = "MASHUP_TEMP_FILES"

// LocalStorage implements Workspace on local disk.
type LocalStorage struct {
	tempDir string
}

// NewLocalStorage creates a new LocalStorage instance.
// If tempDir is empty, DefaultTempDir in the working directory is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(tempDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = DefaultTempDir
	}

	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	return &LocalStorage{tempDir: tempDir}, nil
}

// TempDir returns the temporary directory path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// Path returns the location of name inside the temp directory.
func (s *LocalStorage) Path(name string) string {
	return filepath.Join(s.tempDir, name)
}

// CleanupTemp removes the specified temporary files.
// It continues cleanup even if some files fail to delete,
// returning the first error encountered.
func (s *LocalStorage) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// Destroy deletes the regular files left at the top of the temp directory
// and then the directory itself. Subdirectories are never descended into, so
// a directory holding anything the run did not write is left in place and
// reported. A missing directory is not an error.
func (s *LocalStorage) Destroy(_ context.Context) error {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read temp directory: %w", err)
	}

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(s.Path(e.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove temp file %s: %w", e.Name(), err)
		}
	}

	if err := os.Remove(s.tempDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp directory: %w", err)
	}
	return nil
}

// SameDir reports whether a and b name the same directory once made absolute.
func SameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// Verify interface implementation at compile time.
var _ Workspace = (*LocalStorage)(nil)
