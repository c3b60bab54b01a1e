// Package storage persists incoming file transfers under a per-sender
// directory tree and tracks the progress of each upload.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Tabatskyi/multi-share/internal/logger"
)

// ErrUnsafeName rejects names that would escape the storage root or collide
// with directory syntax.
var ErrUnsafeName = errors.New("unsafe file or sender name")

// Store writes received files below a single root directory, one
// subdirectory per sender.
type Store struct {
	root string
}

// NewStore creates the root directory if needed and returns a store rooted
// there.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the directory all uploads land under.
func (s *Store) Root() string {
	return s.root
}

// Create opens <root>/<sender>/<filename> for writing and returns an Upload
// expecting size bytes. An existing file with the same name is truncated.
func (s *Store) Create(sender, filename string, size uint64) (*Upload, error) {
	if err := checkName(sender); err != nil {
		return nil, fmt.Errorf("sender %q: %w", sender, err)
	}
	if err := checkName(filename); err != nil {
		return nil, fmt.Errorf("filename %q: %w", filename, err)
	}

	dir := filepath.Join(s.root, sender)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sender directory: %w", err)
	}

	path := filepath.Join(dir, filename)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	logger.Debug("upload started", "path", path, "expected_bytes", size)
	return &Upload{file: f, path: path, expected: size}, nil
}

// Path returns the location an uploaded file is (or would be) stored at,
// rejecting names that would escape the root.
func (s *Store) Path(sender, filename string) (string, error) {
	if err := checkName(sender); err != nil {
		return "", fmt.Errorf("sender %q: %w", sender, err)
	}
	if err := checkName(filename); err != nil {
		return "", fmt.Errorf("filename %q: %w", filename, err)
	}
	return filepath.Join(s.root, sender, filename), nil
}

// checkName admits plain file path components only. Empty names, dot and
// dot-dot, separators, and NUL bytes are all rejected; anything else is
// stored byte for byte.
func checkName(name string) error {
	switch {
	case name == "" || name == "." || name == "..":
		return ErrUnsafeName
	case strings.ContainsAny(name, "/\\\x00"):
		return ErrUnsafeName
	}
	return nil
}
