// Package uploads stores uploaded photos on disk.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidPath is returned for paths that would escape the upload directory.
var ErrInvalidPath = errors.New("invalid upload path")

// Store saves files below a root directory under random names.
type Store struct {
	root string
}

// NewStore creates the root directory if needed.
func NewStore(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute upload directory.
func (s *Store) Root() string {
	return s.root
}

// Save writes a JPEG into the category subdirectory and returns its path
// relative to the root, using forward slashes.
func (s *Store) Save(category string, data []byte) (string, error) {
	if category == "" || strings.ContainsAny(category, `/\.`) {
		return "", fmt.Errorf("%w: category %q", ErrInvalidPath, category)
	}

	dir := filepath.Join(s.root, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", category, err)
	}

	name := uuid.NewString() + ".jpg"
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}

	return path.Join(category, name), nil
}

// resolve maps a relative upload path to an absolute file path inside root.
func (s *Store) resolve(rel string) (string, error) {
	if rel == "" || path.IsAbs(rel) || strings.Contains(rel, `\`) {
		return "", ErrInvalidPath
	}
	clean := path.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Open opens a stored file for reading.
func (s *Store) Open(rel string) (io.ReadCloser, error) {
	p, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Remove deletes a stored file. Missing files are not an error.
func (s *Store) Remove(rel string) error {
	p, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}
