// Package localfs implements objectstore.Store over an afero filesystem,
// backing both the file:// (real disk) and memory:// (in-process map)
// storage URI schemes with one code path.
//
// The atomic-write discipline (write to a temp file in the same directory,
// sync, then rename) follows the usual content-addressed-store pattern for
// making a filesystem write atomic-or-retry.
package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"kirin/pkg/kirinerr"
)

// Store implements objectstore.Store over an afero.Fs rooted at root.
type Store struct {
	fs   afero.Fs
	root string
}

// NewOS returns a Store backed by the real filesystem rooted at root.
func NewOS(root string) (*Store, error) {
	fs := afero.NewOsFs()
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, kirinerr.NewBackendError("localfs.NewOS", false, err)
	}
	return &Store{fs: fs, root: root}, nil
}

// NewMemory returns a Store backed by an in-memory afero filesystem,
// implementing the memory:// scheme.
func NewMemory() *Store {
	return &Store{fs: afero.NewMemMapFs(), root: "/"}
}

func (s *Store) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+key)))
}

func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, s.path(key))
	if err != nil {
		return nil, kirinerr.NewBackendError("localfs.Read", true, err)
	}
	return data, nil
}

func (s *Store) OpenRead(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.fs.Open(s.path(key))
	if err != nil {
		return nil, kirinerr.NewBackendError("localfs.OpenRead", true, err)
	}
	return f, nil
}

func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w, err := s.OpenWrite(ctx, key)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return kirinerr.NewBackendError("localfs.Write", true, err)
	}
	return w.Close()
}

// atomicWriter buffers into a temp file in the target directory and
// renames it into place on Close.
type atomicWriter struct {
	fs       afero.Fs
	tmp      afero.File
	tmpPath  string
	destPath string
	closed   bool
}

func (w *atomicWriter) Write(p []byte) (int, error) {
	return w.tmp.Write(p)
}

func (w *atomicWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if syncer, ok := w.tmp.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			w.tmp.Close()
			w.fs.Remove(w.tmpPath)
			return kirinerr.NewBackendError("localfs.Write", true, err)
		}
	}
	if err := w.tmp.Close(); err != nil {
		w.fs.Remove(w.tmpPath)
		return kirinerr.NewBackendError("localfs.Write", true, err)
	}
	if err := w.fs.Rename(w.tmpPath, w.destPath); err != nil {
		w.fs.Remove(w.tmpPath)
		return kirinerr.NewBackendError("localfs.Write", true, err)
	}
	return nil
}

func (s *Store) OpenWrite(ctx context.Context, key string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	destPath := s.path(key)
	dir := filepath.Dir(destPath)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, kirinerr.NewBackendError("localfs.OpenWrite", false, err)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf(".tmp-%s", uuid.NewString()))
	tmp, err := s.fs.Create(tmpPath)
	if err != nil {
		return nil, kirinerr.NewBackendError("localfs.OpenWrite", true, err)
	}

	return &atomicWriter{fs: s.fs, tmp: tmp, tmpPath: tmpPath, destPath: destPath}, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := afero.Exists(s.fs, s.path(key))
	if err != nil {
		return false, kirinerr.NewBackendError("localfs.Exists", true, err)
	}
	return ok, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.fs.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return kirinerr.NewBackendError("localfs.Delete", true, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := s.path(prefix)

	var out []string
	// prefix may name a partial filename within a directory, or a directory
	// itself; walk from prefix when it is a directory, otherwise from its
	// parent directory.
	walkRoot := base
	if ok, _ := afero.DirExists(s.fs, base); !ok {
		walkRoot = filepath.Dir(base)
	}

	err := afero.Walk(s.fs, walkRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !hasPrefixPath(p, base) {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil {
			return relErr
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, kirinerr.NewBackendError("localfs.List", true, err)
	}
	return out, nil
}

func hasPrefixPath(p, prefix string) bool {
	pp := filepath.ToSlash(p)
	pr := filepath.ToSlash(prefix)
	return len(pp) >= len(pr) && pp[:len(pr)] == pr
}
