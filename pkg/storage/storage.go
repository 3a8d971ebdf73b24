// Package storage holds the files of a training run: the run configuration,
// checkpoints and dashboard figures. Runs may live on local disk or in an
// S3-compatible bucket; callers only see FileStore.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file. A missing file yields an error wrapping
	// os.ErrNotExist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write truncates or creates the named file, creating parents. Data is
	// committed when the returned writer is closed.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file. Missing files are not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns the paths of all files below the directory prefix,
	// relative to the store root, in lexicographic order. An empty prefix
	// lists the whole store.
	List(ctx context.Context, prefix string) ([]string, error)

	// RemoveAll deletes the directory prefix and everything below it.
	RemoveAll(ctx context.Context, prefix string) error
}

var errRemoveRoot = errors.New("storage: refusing to remove the store root")

// ReadFile reads the whole named file.
func ReadFile(ctx context.Context, s FileStore, name string) ([]byte, error) {
	r, err := s.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}
	return data, nil
}

// WriteFile writes data to the named file.
func WriteFile(ctx context.Context, s FileStore, name string, data []byte) error {
	w, err := s.Write(ctx, name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	return w.Close()
}

// Sub returns a FileStore whose root is dir inside s.
func Sub(s FileStore, dir string) FileStore {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return s
	}
	return &subStore{parent: s, dir: dir}
}

type subStore struct {
	parent FileStore
	dir    string
}

func (s *subStore) full(p string) string {
	return path.Join(s.dir, p)
}

func (s *subStore) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	return s.parent.Read(ctx, s.full(p))
}

func (s *subStore) Write(ctx context.Context, p string) (io.WriteCloser, error) {
	return s.parent.Write(ctx, s.full(p))
}

func (s *subStore) Delete(ctx context.Context, p string) error {
	return s.parent.Delete(ctx, s.full(p))
}

func (s *subStore) Exists(ctx context.Context, p string) (bool, error) {
	return s.parent.Exists(ctx, s.full(p))
}

func (s *subStore) List(ctx context.Context, prefix string) ([]string, error) {
	names, err := s.parent.List(ctx, s.full(prefix))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, strings.TrimPrefix(n, s.dir+"/"))
	}
	return out, nil
}

func (s *subStore) RemoveAll(ctx context.Context, prefix string) error {
	return s.parent.RemoveAll(ctx, s.full(prefix))
}
