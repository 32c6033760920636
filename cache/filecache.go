package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// FileBackend stores one envelope per file in a single directory
type FileBackend struct {
	dir string
}

// NewFileBackend creates a file-based partition in dir.
// If dir is empty, ~/.killerwiki_cache is used.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		usr, err := user.Current()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(usr.HomeDir, ".killerwiki_cache")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	return &FileBackend{dir: dir}, nil
}

// Get implements Backend
func (fb *FileBackend) Get(_ context.Context, key string) (*Envelope, error) {
	data, err := os.ReadFile(fb.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", fb.path(key), err)
	}
	return &env, nil
}

// Put implements Backend
func (fb *FileBackend) Put(_ context.Context, key string, env *Envelope) error {
	path := fb.path(key)

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}

	// Write to temporary file first, then rename (atomic operation)
	tmpPath := path + fmt.Sprintf(".tmp.%d", rand.Int())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Clear implements Backend
func (fb *FileBackend) Clear(_ context.Context) error {
	entries, err := os.ReadDir(fb.dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "req_") {
			continue
		}
		if err := os.Remove(filepath.Join(fb.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// path generates the full filesystem path for a cache key
func (fb *FileBackend) path(key string) string {
	return filepath.Join(fb.dir, fileName(key))
}

var _ Backend = (*FileBackend)(nil)
