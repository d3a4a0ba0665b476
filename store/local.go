package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hupe1980/chamfer/internal/fs"
	"github.com/hupe1980/chamfer/internal/mmap"
)

const tmpSuffix = ".tmp"

// Local is a Store over a directory tree. Blobs open as read-only memory
// mappings, the cheapest way to hand large point payloads to the decoder.
// Writes land in a temporary file that renames into place on Close, so
// readers never observe a partial blob.
type Local struct {
	root string
	fsys fs.FileSystem
}

var _ Store = (*Local)(nil)

// NewLocal creates a store rooted at dir, creating the directory if needed.
func NewLocal(dir string) (*Local, error) {
	return NewLocalFS(dir, fs.Default)
}

// NewLocalFS is NewLocal with an explicit file system. Tests use it to
// inject faults; blob reads map files directly and bypass fsys.
func NewLocalFS(dir string, fsys fs.FileSystem) (*Local, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create root: %w", err)
	}
	return &Local{root: dir, fsys: fsys}, nil
}

// Open implements Store.
func (s *Local) Open(_ context.Context, name string) (Blob, error) {
	m, err := mmap.Open(filepath.Join(s.root, name))
	if err != nil {
		return nil, err
	}
	// Dataset decoding walks the file front to back.
	_ = m.Advise(mmap.AccessSequential)
	return &localBlob{m: m}, nil
}

// Create implements Store.
func (s *Local) Create(_ context.Context, name string) (WritableBlob, error) {
	full := filepath.Join(s.root, name)
	if dir := filepath.Dir(full); dir != s.root {
		if err := s.fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create parent: %w", err)
		}
	}

	tmp := full + tmpSuffix
	f, err := s.fsys.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: create temp: %w", err)
	}

	return &localWritableBlob{fsys: s.fsys, f: f, tmp: tmp, final: full}, nil
}

// Delete implements Store.
func (s *Local) Delete(_ context.Context, name string) error {
	return s.fsys.Remove(filepath.Join(s.root, name))
}

// List implements Store. Temporary files are skipped.
func (s *Local) List(_ context.Context, prefix string) ([]string, error) {
	var names []string

	var walk func(rel string) error
	walk = func(rel string) error {
		entries, err := s.fsys.ReadDir(filepath.Join(s.root, rel))
		if err != nil {
			return err
		}
		for _, e := range entries {
			name := e.Name()
			if rel != "" {
				name = rel + "/" + name
			}
			if e.IsDir() {
				if err := walk(name); err != nil {
					return err
				}
				continue
			}
			if strings.HasSuffix(name, tmpSuffix) {
				continue
			}
			if strings.HasPrefix(name, prefix) {
				names = append(names, name)
			}
		}
		return nil
	}

	if err := walk(""); err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}

type localBlob struct {
	m *mmap.Mapping
}

var _ Mappable = (*localBlob)(nil)

func (b *localBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	return b.m.ReadAt(p, off)
}

func (b *localBlob) Size() int64 {
	return int64(b.m.Size())
}

func (b *localBlob) Close() error {
	return b.m.Close()
}

func (b *localBlob) Bytes() ([]byte, error) {
	data := b.m.Bytes()
	if data == nil && b.m.Size() > 0 {
		return nil, mmap.ErrClosed
	}
	return data, nil
}

type localWritableBlob struct {
	fsys   fs.FileSystem
	f      fs.File
	tmp    string
	final  string
	werr   error
	closed bool
}

func (w *localWritableBlob) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil && w.werr == nil {
		w.werr = err
	}
	return n, err
}

func (w *localWritableBlob) Sync() error {
	err := w.f.Sync()
	if err != nil && w.werr == nil {
		w.werr = err
	}
	return err
}

// Close syncs the temp file and renames it into place. If any Write or Sync
// failed, Close removes the temp file instead of publishing it.
func (w *localWritableBlob) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.werr != nil {
		_ = w.f.Close()
		_ = w.fsys.Remove(w.tmp)
		return w.werr
	}

	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = w.fsys.Remove(w.tmp)
		return err
	}
	if err := w.f.Close(); err != nil {
		_ = w.fsys.Remove(w.tmp)
		return err
	}
	if err := w.fsys.Rename(w.tmp, w.final); err != nil {
		_ = w.fsys.Remove(w.tmp)
		return err
	}
	return nil
}
