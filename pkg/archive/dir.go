package archive

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// DirStore implements Store on the local filesystem.
// All paths are resolved relative to the configured root directory.
type DirStore struct {
	root string
}

// NewDirStore creates a DirStore rooted at dir.
// The directory is created (with parents) if it does not already exist.
func NewDirStore(dir string) (*DirStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{root: abs}, nil
}

// resolve turns a transcript path into an absolute filesystem path.
func (d *DirStore) resolve(path string) string {
	return filepath.Join(d.root, filepath.FromSlash(path))
}

// Create opens the named transcript for writing, creating parent
// directories as needed.
func (d *DirStore) Create(_ context.Context, path string) (io.WriteCloser, error) {
	full := d.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	return os.Create(full)
}

// Open opens the named transcript for reading.
func (d *DirStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	return os.Open(d.resolve(path))
}

// Exists reports whether the named transcript exists.
func (d *DirStore) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(d.resolve(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

var _ Store = (*DirStore)(nil)
