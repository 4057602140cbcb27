// Package uploads stores answer media (video and photo responses) and checks
// uploads against the configured type and size limits.
package uploads

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	contextutils "assessapp/internal/utils"
)

// BlobStore is a flat key/value store for uploaded media
type BlobStore interface {
	// Put writes r under key and returns the number of bytes written
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// FSStore is a BlobStore backed by a directory on the local filesystem
type FSStore struct {
	base string
}

var _ BlobStore = (*FSStore)(nil)

// NewFSStore creates the base directory if needed
func NewFSStore(base string) (*FSStore, error) {
	if base == "" {
		base = "uploads"
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to resolve uploads dir")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, contextutils.WrapError(err, "failed to create uploads dir")
	}
	return &FSStore{base: abs}, nil
}

// Base returns the absolute base directory
func (s *FSStore) Base() string {
	return s.base
}

func (s *FSStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", contextutils.WrapErrorf(contextutils.ErrInvalidInput, "invalid blob key %q", key)
	}
	return filepath.Join(s.base, clean), nil
}

// Put writes the blob through a temporary file and renames it into place,
// so readers never see a partial file
func (s *FSStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	dst, err := s.path(key)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, contextutils.WrapError(err, "failed to create blob dir")
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return 0, contextutils.WrapError(err, "failed to create temp file")
	}
	n, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		if copyErr != nil {
			return 0, copyErr
		}
		return 0, contextutils.WrapError(closeErr, "failed to close temp file")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, contextutils.WrapError(err, "failed to store blob")
	}
	return n, nil
}

// Open returns a reader for the blob stored under key
func (s *FSStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "blob %q not found", key)
	}
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to open blob")
	}
	return f, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *FSStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return contextutils.WrapError(err, "failed to delete blob")
	}
	return nil
}
