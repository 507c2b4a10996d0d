// Package storage provides the scratch workspace a mashup run renders into
// and the optional object store the finished mashup is published to.
package storage

import (
	"context"
	"io"
)

// Workspace holds the intermediate files of one run.
type Workspace interface {
	// TempDir returns the directory backing the workspace.
	TempDir() string

	// Path returns the location of name inside the workspace.
	Path(name string) string

	// CleanupTemp removes the specified files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Destroy removes every remaining file and the directory itself.
	Destroy(ctx context.Context) error
}

// Publisher uploads a finished mashup and returns where it can be fetched.
type Publisher interface {
	Publish(ctx context.Context, key string, data io.Reader) (url string, err error)
}
