package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"council-gather/pkg/pipeline"
)

// LocalFileStore stores artifacts under a base directory, fanned out
// into key-prefix subdirectories so no single directory grows unbounded.
// It backs local runs and tests; URIs are file:// paths.
type LocalFileStore struct {
	baseDir string
}

// NewLocalFileStore creates the base directory if needed.
func NewLocalFileStore(baseDir string) (*LocalFileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &LocalFileStore{baseDir: baseDir}, nil
}

// Store writes data under key and returns its file URI. contentType is
// ignored; the filesystem has nowhere to keep it.
func (l *LocalFileStore) Store(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	path := l.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("%w: create prefix dir: %v", pipeline.ErrStorage, err)
	}
	// Write-then-rename keeps a crashed upload from leaving a partial
	// object at the final key.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", pipeline.ErrStorage, key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("%w: finalize %s: %v", pipeline.ErrStorage, key, err)
	}
	return "file://" + path, nil
}

// GetURI returns the file URI for key, or ErrFileNotFound when nothing
// is stored there.
func (l *LocalFileStore) GetURI(ctx context.Context, key string) (string, error) {
	path := l.path(key)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", pipeline.ErrFileNotFound, key)
		}
		return "", fmt.Errorf("%w: stat %s: %v", pipeline.ErrStorage, key, err)
	}
	return "file://" + path, nil
}

// path fans keys out by their first two characters. Digest keys are
// uniformly distributed, so this caps per-directory entry counts.
func (l *LocalFileStore) path(key string) string {
	prefix := "00"
	if len(key) >= 2 {
		prefix = key[:2]
	}
	return filepath.Join(l.baseDir, prefix, key)
}
