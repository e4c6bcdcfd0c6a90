// Package archive uploads exported decision packs to long-term storage.
// Destinations are named by URL: file:// for a local directory, s3:// for
// AWS S3, gs:// for Google Cloud Storage.
package archive

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Store holds decision packs keyed by object name. Writes with the same
// name are overwrites; packs are deterministic, so rewrites are harmless.
type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
}

// Open builds a store from a destination URL.
func Open(ctx context.Context, rawURL string) (Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("archive: parse url %s: %w", rawURL, err)
	}

	switch u.Scheme {
	case "file", "":
		dir := u.Path
		if u.Scheme == "" {
			dir = rawURL
		}
		return NewFileStore(dir)
	case "s3":
		return NewS3Store(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	case "gs":
		return NewGCSStore(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	default:
		return nil, fmt.Errorf("archive: unsupported scheme %q", u.Scheme)
	}
}

// FileStore keeps packs in a local directory.
type FileStore struct {
	baseDir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create dir %s: %w", baseDir, err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(_ context.Context, name string, data []byte) error {
	path := filepath.Join(s.baseDir, name)

	// Write to temp, then rename.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("archive: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("archive: commit %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, name))
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", name, err)
	}
	return data, nil
}
