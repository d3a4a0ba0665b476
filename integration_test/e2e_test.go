package integration_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chamfer"
	"github.com/hupe1980/chamfer/compute"
	"github.com/hupe1980/chamfer/dataset"
	"github.com/hupe1980/chamfer/resource"
	"github.com/hupe1980/chamfer/store"
	"github.com/hupe1980/chamfer/testutil"
)

func newLocal(t *testing.T) store.Store {
	t.Helper()

	st, err := store.NewLocal(t.TempDir())
	require.NoError(t, err)

	return st
}

func testStores(t *testing.T) map[string]store.Store {
	t.Helper()

	return map[string]store.Store{
		"memory": store.NewMemory(),
		"local":  newLocal(t),
	}
}

// writeDataset publishes pair files plus a manifest and returns the committed
// pair refs. The second pair carries validity masks on both sides.
func writeDataset(t *testing.T, st store.Store) []dataset.PairRef {
	t.Helper()
	ctx := context.Background()

	rng := testutil.NewRNG(42)

	refs := []dataset.PairRef{
		{Source: "pairs/0/pred", Target: "pairs/0/ref"},
		{Source: "pairs/1/pred", Target: "pairs/1/ref"},
		{Source: "pairs/2/pred", Target: "pairs/2/ref"},
	}
	compressions := []dataset.Compression{
		dataset.CompressionNone,
		dataset.CompressionLZ4,
		dataset.CompressionZSTD,
	}

	for i, ref := range refs {
		src := rng.ClusteredSet(2, 64, 4, 0.1)
		tgt := rng.ClusteredSet(2, 48, 4, 0.1)

		opt := dataset.WithCompression(compressions[i])

		if i == 1 {
			ms := rng.RandomMask(2, 64, 0.8)
			mt := rng.RandomMask(2, 48, 0.8)
			require.NoError(t, dataset.Write(ctx, st, ref.Source, src, ms, opt))
			require.NoError(t, dataset.Write(ctx, st, ref.Target, tgt, mt, opt))
			continue
		}
		require.NoError(t, dataset.Write(ctx, st, ref.Source, src, nil, opt))
		require.NoError(t, dataset.Write(ctx, st, ref.Target, tgt, nil, opt))
	}

	catalog := dataset.NewCatalog(store.NewBlobCommitLog(st, "manifests"))
	version, err := catalog.Commit(ctx, refs)
	require.NoError(t, err)
	require.Equal(t, uint64(1), version)

	return refs
}

// trainPair runs one full forward/loss/backward over a loaded pair.
func trainPair(ctx context.Context, matcher *chamfer.Matcher, p *dataset.Pair) (float32, *chamfer.Gradients, error) {
	src, tgt := p.Source, p.Target

	if src.Mask() != nil || tgt.Mask() != nil {
		match, err := matcher.ForwardMasked(ctx, src.Points(), tgt.Points(), src.Mask(), tgt.Mask())
		if err != nil {
			return 0, nil, err
		}
		loss, err := matcher.Loss(ctx, match)
		if err != nil {
			return 0, nil, err
		}
		grads, err := matcher.LossBackwardMasked(ctx, src.Points(), tgt.Points(), src.Mask(), tgt.Mask(), match)
		return loss, grads, err
	}

	match, err := matcher.Forward(ctx, src.Points(), tgt.Points())
	if err != nil {
		return 0, nil, err
	}
	loss, err := matcher.Loss(ctx, match)
	if err != nil {
		return 0, nil, err
	}
	grads, err := matcher.LossBackward(ctx, src.Points(), tgt.Points(), match)
	return loss, grads, err
}

// TestE2E_TrainingRun drives the whole pipeline: write pair files, commit a
// manifest, resolve and load it back, then run forward, loss, and backward
// over every pair on every store/backend combination.
func TestE2E_TrainingRun(t *testing.T) {
	ctx := context.Background()

	backends := map[string]func() compute.Backend{
		"serial":   func() compute.Backend { return compute.NewSerial() },
		"parallel": func() compute.Backend { return compute.NewParallel() },
	}

	for storeName, st := range testStores(t) {
		writeDataset(t, st)

		for backendName, newBackend := range backends {
			t.Run(fmt.Sprintf("%s/%s", storeName, backendName), func(t *testing.T) {
				backend := newBackend()
				defer backend.Close()

				matcher, err := chamfer.New(chamfer.WithBackend(backend))
				require.NoError(t, err)
				defer matcher.Close()

				// 1. Resolve the committed manifest.
				catalog := dataset.NewCatalog(store.NewBlobCommitLog(st, "manifests"))
				version, manifest, err := catalog.Latest(ctx)
				require.NoError(t, err)
				require.Equal(t, uint64(1), version)
				require.Len(t, manifest.Pairs, 3)

				// 2. Load every pair and train on it.
				loader := dataset.NewLoader(st)

				visited := 0
				err = loader.ForEachPair(ctx, manifest, func(ctx context.Context, ref dataset.PairRef, p *dataset.Pair) error {
					loss, grads, err := trainPair(ctx, matcher, p)
					if err != nil {
						return err
					}

					// Clustered clouds never coincide, so the loss is
					// strictly positive and gradients flow.
					assert.Greater(t, loss, float32(0))
					assert.True(t, grads.GradA.SameShape(p.Source.Points()))
					assert.True(t, grads.GradB.SameShape(p.Target.Points()))

					visited++
					return nil
				})
				require.NoError(t, err)
				assert.Equal(t, 3, visited)
			})
		}
	}
}

// TestE2E_BackendsAgree verifies serial and parallel produce the same losses
// over a stored dataset.
func TestE2E_BackendsAgree(t *testing.T) {
	ctx := context.Background()

	st := store.NewMemory()
	writeDataset(t, st)

	catalog := dataset.NewCatalog(store.NewBlobCommitLog(st, "manifests"))
	_, manifest, err := catalog.Latest(ctx)
	require.NoError(t, err)

	serial, err := chamfer.New(chamfer.WithBackend(compute.NewSerial()))
	require.NoError(t, err)
	defer serial.Close()

	parallelBackend := compute.NewParallel()
	defer parallelBackend.Close()
	parallel, err := chamfer.New(chamfer.WithBackend(parallelBackend))
	require.NoError(t, err)
	defer parallel.Close()

	loader := dataset.NewLoader(st)
	err = loader.ForEachPair(ctx, manifest, func(ctx context.Context, ref dataset.PairRef, p *dataset.Pair) error {
		serialLoss, _, err := trainPair(ctx, serial, p)
		require.NoError(t, err)

		parallelLoss, _, err := trainPair(ctx, parallel, p)
		require.NoError(t, err)

		assert.Equal(t, serialLoss, parallelLoss, "pair %s", ref.Source)
		return nil
	})
	require.NoError(t, err)
}

// TestE2E_Restart verifies a committed dataset survives reopening the store
// from disk.
func TestE2E_Restart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// 1. Write and commit.
	st, err := store.NewLocal(dir)
	require.NoError(t, err)

	refs := writeDataset(t, st)

	// 2. Reopen from the same directory and verify the manifest resolves.
	st, err = store.NewLocal(dir)
	require.NoError(t, err)

	catalog := dataset.NewCatalog(store.NewBlobCommitLog(st, "manifests"))
	version, manifest, err := catalog.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
	assert.Equal(t, refs, manifest.Pairs)

	// 3. Load a pair and check its shape round-tripped.
	loader := dataset.NewLoader(st)
	p, err := loader.LoadPair(ctx, manifest.Pairs[0])
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 2, p.Source.Batch())
	assert.Equal(t, 64, p.Source.Count())
	assert.Equal(t, 2, p.Target.Batch())
	assert.Equal(t, 48, p.Target.Count())
}

// TestE2E_VersionedCommits verifies Latest always resolves the newest
// manifest.
func TestE2E_VersionedCommits(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	catalog := dataset.NewCatalog(store.NewBlobCommitLog(st, "manifests"))

	first := []dataset.PairRef{{Source: "v1/pred", Target: "v1/ref"}}
	version, err := catalog.Commit(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)

	second := []dataset.PairRef{
		{Source: "v2/pred", Target: "v2/ref"},
		{Source: "v2/extra-pred", Target: "v2/extra-ref"},
	}
	version, err = catalog.Commit(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)

	latest, manifest, err := catalog.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest)
	assert.Equal(t, second, manifest.Pairs)
}

// TestE2E_ResourceGovernedLoading verifies loading under a controller frees
// everything it reserved.
func TestE2E_ResourceGovernedLoading(t *testing.T) {
	ctx := context.Background()

	st := store.NewMemory()
	writeDataset(t, st)

	catalog := dataset.NewCatalog(store.NewBlobCommitLog(st, "manifests"))
	_, manifest, err := catalog.Latest(ctx)
	require.NoError(t, err)

	ctrl := resource.NewController(resource.Config{
		MemoryLimitBytes:   8 << 20,
		MaxConcurrentLoads: 2,
	})

	matcher, err := chamfer.New()
	require.NoError(t, err)
	defer matcher.Close()

	loader := dataset.NewLoader(st, dataset.WithController(ctrl))
	err = loader.ForEachPair(ctx, manifest, func(ctx context.Context, ref dataset.PairRef, p *dataset.Pair) error {
		_, _, err := trainPair(ctx, matcher, p)
		return err
	})
	require.NoError(t, err)

	// Every pair was closed, so nothing stays reserved.
	assert.Zero(t, ctrl.MemoryUsage())
}
