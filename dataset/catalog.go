package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/chamfer/store"
)

// ManifestVersion is the version of the manifest format.
const ManifestVersion = 1

// PairRef names the two files of a source/target pair.
type PairRef struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Manifest describes one committed dataset version: the set of
// source/target pairs that belong together.
type Manifest struct {
	Version   int       `json:"version"` // Manifest format version
	CreatedAt time.Time `json:"created_at"`
	Pairs     []PairRef `json:"pairs"`
}

// Catalog publishes and resolves versioned manifests on a commit log. The
// conflict semantics are the log's: blob-backed logs are single-writer,
// the DynamoDB-backed log detects racing writers.
type Catalog struct {
	log store.CommitLog
}

// NewCatalog creates a catalog over log.
func NewCatalog(log store.CommitLog) *Catalog {
	return &Catalog{log: log}
}

// Latest returns the newest committed manifest and its version. Version 0
// with a nil manifest means nothing has been committed yet.
func (c *Catalog) Latest(ctx context.Context) (uint64, *Manifest, error) {
	version, payload, err := c.log.Latest(ctx)
	if err != nil {
		return 0, nil, err
	}
	if version == 0 {
		return 0, nil, nil
	}

	var m Manifest
	if err := json.Unmarshal(payload, &m); err != nil {
		return 0, nil, fmt.Errorf("dataset: decode manifest v%d: %w", version, err)
	}
	if m.Version != ManifestVersion {
		return 0, nil, fmt.Errorf("dataset: unsupported manifest format %d", m.Version)
	}
	return version, &m, nil
}

// Commit publishes pairs as the next dataset version and returns the
// version number it was assigned.
func (c *Catalog) Commit(ctx context.Context, pairs []PairRef) (uint64, error) {
	m := Manifest{
		Version:   ManifestVersion,
		CreatedAt: time.Now().UTC(),
		Pairs:     pairs,
	}
	payload, err := json.Marshal(&m)
	if err != nil {
		return 0, fmt.Errorf("dataset: encode manifest: %w", err)
	}
	return c.log.Commit(ctx, payload)
}
