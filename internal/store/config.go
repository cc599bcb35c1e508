// Package store persists the UI's opaque config blob.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"

	"stream-proxy-go/internal/config"
)

const (
	fileName = "config.json"
	// emptyBlob is returned when nothing has been stored yet.
	emptyBlob = "{}"
)

// ConfigStore reads and writes config.json in a single directory. The content
// is never interpreted here.
type ConfigStore struct {
	dir string
	mu  sync.Mutex
}

// NewConfigStore creates a ConfigStore rooted at cfg.Store.Dir.
func NewConfigStore(cfg *config.Config) *ConfigStore {
	return &ConfigStore{dir: cfg.Store.Dir}
}

// Path returns the location of the blob on disk.
func (s *ConfigStore) Path() string {
	return filepath.Join(s.dir, fileName)
}

// Read returns the stored blob, or "{}" if nothing has been written yet.
func (s *ConfigStore) Read() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return emptyBlob, nil
	}
	if err != nil {
		return "", fmt.Errorf("read config blob: %w", err)
	}
	return string(data), nil
}

// Write replaces the stored blob atomically: a crash leaves either the old
// or the new content, never a torn file.
func (s *ConfigStore) Write(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	pendingFile, err := renameio.NewPendingFile(s.Path(), renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending config file: %w", err)
	}
	defer func() { _ = pendingFile.Cleanup() }()

	if _, err := pendingFile.WriteString(data); err != nil {
		return fmt.Errorf("write config blob: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace config blob: %w", err)
	}
	return nil
}
