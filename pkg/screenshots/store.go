package screenshots

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no screenshot exists for a ref.
var ErrNotFound = errors.New("screenshot not found")

// ErrInvalidRef is returned for refs that are not content hashes.
var ErrInvalidRef = errors.New("invalid screenshot ref")

// Store persists screenshots and hands back content-addressed refs.
type Store interface {
	// Put stores the image and returns its ref (the hex SHA-256 of the
	// content). Storing identical content twice is a no-op.
	Put(ctx context.Context, data []byte) (string, error)
	// Get returns the image for a ref.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Delete removes the image for a ref if present.
	Delete(ctx context.Context, ref string) error
	// Close releases backend resources.
	Close() error
}

func contentRef(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// refPath splits a ref into the fanned-out relative path ab/cdef...
func refPath(ref string) (string, error) {
	if len(ref) < 4 || strings.ContainsAny(ref, "/\\.") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(ref[:2], ref[2:]), nil
}

// FilesystemStore keeps screenshots under a base directory, fanned out by
// the first two hex characters of the ref.
type FilesystemStore struct {
	baseDir string
}

// NewFilesystemStore creates the base directory if needed.
func NewFilesystemStore(baseDir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	return &FilesystemStore{baseDir: baseDir}, nil
}

// Put writes the image under its content hash.
func (s *FilesystemStore) Put(ctx context.Context, data []byte) (string, error) {
	ref := contentRef(data)
	rel, err := refPath(ref)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.baseDir, rel)

	if _, err := os.Stat(path); err == nil {
		// Same content already stored.
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return ref, nil
}

// Get reads the image for a ref.
func (s *FilesystemStore) Get(ctx context.Context, ref string) ([]byte, error) {
	rel, err := refPath(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read screenshot: %w", err)
	}
	return data, nil
}

// Delete removes the image for a ref. Deleting a missing ref is not an
// error.
func (s *FilesystemStore) Delete(ctx context.Context, ref string) error {
	rel, err := refPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.baseDir, rel)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete screenshot: %w", err)
	}
	return nil
}

// Close is a no-op for the filesystem store.
func (s *FilesystemStore) Close() error { return nil }
