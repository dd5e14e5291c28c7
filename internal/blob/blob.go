package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Store is the narrow file contract the engine consumes. Both errors must be
// tolerated by callers that can degrade (the archive assembler inserts a
// placeholder instead of failing the build).
type Store interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

var (
	ErrNotFound    = errors.New("blob not found")
	ErrUnavailable = errors.New("blob store unavailable")
)

// DirStore stores blobs as files under a root directory.
type DirStore struct {
	Root string
}

func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{Root: root}, nil
}

func (s *DirStore) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if strings.Contains(clean, "..") {
		return "", ErrNotFound
	}
	return filepath.Join(s.Root, clean), nil
}

func (s *DirStore) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrUnavailable, err)
	}
	return data, nil
}

func (s *DirStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", errors.Join(ErrUnavailable, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", errors.Join(ErrUnavailable, err)
	}
	return path, nil
}
