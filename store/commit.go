package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrConcurrentCommit is returned when another writer claimed the next
// version between a Latest call and the following Commit.
var ErrConcurrentCommit = errors.New("store: concurrent commit")

// CommitLog is an ordered registry of opaque version payloads. The dataset
// catalog layers its manifests on top of it; the log itself does not
// interpret payload bytes.
type CommitLog interface {
	// Latest returns the newest committed version and its payload.
	// Version 0 with a nil payload means nothing has been committed yet.
	Latest(ctx context.Context) (uint64, []byte, error)

	// Commit registers payload as the next version and returns the version
	// number it was assigned. Backends with conditional writes report
	// ErrConcurrentCommit when two writers race for the same version.
	Commit(ctx context.Context, payload []byte) (uint64, error)
}

const commitVersionDigits = 20

// BlobCommitLog keeps versions as blobs named v<number> under a prefix.
// Version numbers are zero-padded so lexicographic blob order matches
// numeric order.
//
// The log assumes a single writer. Racing writers are detected only on a
// best-effort basis: plain blob stores cannot write conditionally, so two
// commits that interleave after the existence probe both succeed and the
// last write wins. Multi-writer deployments should use a log with real
// conditional semantics, such as the DynamoDB-backed one.
type BlobCommitLog struct {
	store  Store
	prefix string
}

var _ CommitLog = (*BlobCommitLog)(nil)

// NewBlobCommitLog creates a commit log rooted at prefix, e.g. "commits/".
func NewBlobCommitLog(s Store, prefix string) *BlobCommitLog {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &BlobCommitLog{store: s, prefix: prefix}
}

func (l *BlobCommitLog) versionName(v uint64) string {
	return fmt.Sprintf("%sv%0*d", l.prefix, commitVersionDigits, v)
}

func (l *BlobCommitLog) parseVersion(name string) (uint64, error) {
	rest := strings.TrimPrefix(name, l.prefix)
	if !strings.HasPrefix(rest, "v") {
		return 0, fmt.Errorf("store: not a version blob: %q", name)
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(rest, "v"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("store: parse version %q: %w", name, err)
	}
	return v, nil
}

// Latest implements CommitLog.
func (l *BlobCommitLog) Latest(ctx context.Context) (uint64, []byte, error) {
	names, err := l.store.List(ctx, l.prefix)
	if err != nil {
		return 0, nil, fmt.Errorf("store: list commits: %w", err)
	}
	if len(names) == 0 {
		return 0, nil, nil
	}

	// List is sorted and the padding keeps numeric order, so the newest
	// version is the last name.
	last := names[len(names)-1]
	version, err := l.parseVersion(last)
	if err != nil {
		return 0, nil, err
	}

	blob, err := l.store.Open(ctx, last)
	if err != nil {
		return 0, nil, fmt.Errorf("store: open commit %s: %w", last, err)
	}
	payload, err := ReadAllCopy(ctx, blob)
	if err != nil {
		return 0, nil, fmt.Errorf("store: read commit %s: %w", last, err)
	}
	return version, payload, nil
}

// Commit implements CommitLog.
func (l *BlobCommitLog) Commit(ctx context.Context, payload []byte) (uint64, error) {
	current, _, err := l.Latest(ctx)
	if err != nil {
		return 0, err
	}
	next := current + 1
	name := l.versionName(next)

	// Best-effort conflict probe; see the type comment for its limits.
	if probe, err := l.store.Open(ctx, name); err == nil {
		_ = probe.Close()
		return 0, ErrConcurrentCommit
	} else if !errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("store: probe commit %s: %w", name, err)
	}

	if err := WriteAll(ctx, l.store, name, payload); err != nil {
		return 0, fmt.Errorf("store: write commit %s: %w", name, err)
	}
	return next, nil
}
