// Package store abstracts where dataset files live. A Store hands out
// read-only Blobs and writable ones; the local implementation memory-maps
// for zero-copy reads, remote implementations (store/s3, store/minio)
// stream. Blobs are immutable once published: a writable blob becomes
// visible only when its Close succeeds.
package store

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return errors satisfying errors.Is(err, ErrNotFound).
// The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// Store reads and writes immutable dataset blobs.
type Store interface {
	// Open opens a blob for reading. A missing blob reports ErrNotFound.
	Open(ctx context.Context, name string) (Blob, error)

	// Create starts a new writable blob. The data becomes visible to Open
	// only after a successful Close; creating over an existing name
	// replaces it at that point.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Delete removes a blob. A missing blob reports ErrNotFound.
	Delete(ctx context.Context, name string) error

	// List returns the names of blobs with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle.
type Blob interface {
	// ReadAt reads len(p) bytes at offset off. Remote implementations
	// honor ctx for the duration of the read.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)

	// Size returns the blob size in bytes.
	Size() int64

	Close() error
}

// Mappable is an optional interface for Blobs whose contents are addressable
// without copying. The returned slice is valid until the Blob is closed.
type Mappable interface {
	Bytes() ([]byte, error)
}

// WritableBlob is a write handle created by Store.Create. Contents become
// durable and visible atomically on Close. A blob whose Write or Sync
// failed must not publish on Close.
type WritableBlob interface {
	io.Writer

	// Sync flushes written data to stable storage on backends that
	// distinguish that from Write.
	Sync() error

	Close() error
}

// ReadAll returns a blob's full contents. Mappable blobs return their
// backing slice without copying; aliased reports that, in which case the
// slice stays valid only until the blob closes.
func ReadAll(ctx context.Context, b Blob) (data []byte, aliased bool, err error) {
	if mb, ok := b.(Mappable); ok {
		raw, berr := mb.Bytes()
		if berr == nil {
			return raw, true, nil
		}
		// Fall back to copying reads.
	}

	buf := make([]byte, b.Size())
	if len(buf) == 0 {
		return buf, false, nil
	}
	if _, err := b.ReadAt(ctx, buf, 0); err != nil && err != io.EOF {
		return nil, false, err
	}
	return buf, false, nil
}

// ReadAllCopy returns a private copy of the blob's contents and closes the
// blob. For small control files whose bytes must outlive the blob.
func ReadAllCopy(ctx context.Context, b Blob) ([]byte, error) {
	defer b.Close()

	data, aliased, err := ReadAll(ctx, b)
	if err != nil {
		return nil, err
	}
	if aliased {
		data = append([]byte(nil), data...)
	}
	return data, nil
}

// WriteAll publishes data as one blob via s.Create.
func WriteAll(ctx context.Context, s Store, name string, data []byte) error {
	w, err := s.Create(ctx, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close() // failed writes make Close a cleanup
		return err
	}
	return w.Close()
}
