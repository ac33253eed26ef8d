package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps one markdown file per project under a local directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(slug string) string {
	return filepath.Join(s.dir, slug+".md")
}

func (s *FileStore) Read(_ context.Context, slug string) (string, error) {
	data, err := os.ReadFile(s.path(slug))
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read document %s: %w", slug, err)
	}
	return string(data), nil
}

// Write stages the content in a temp file and renames it into place, so a
// reader never sees a partially written document.
func (s *FileStore) Write(_ context.Context, slug, content string) error {
	tmp, err := os.CreateTemp(s.dir, slug+".*.tmp")
	if err != nil {
		return fmt.Errorf("stage document %s: %w", slug, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("stage document %s: %w", slug, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("stage document %s: %w", slug, err)
	}
	if err := os.Rename(tmpName, s.path(slug)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write document %s: %w", slug, err)
	}
	return nil
}
