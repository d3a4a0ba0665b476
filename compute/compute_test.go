package compute

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chamfer/internal/kernel"
)

func randPoints(rng *rand.Rand, batch, count int) []float32 {
	data := make([]float32, batch*count*kernel.Width)
	for i := range data {
		data[i] = rng.Float32()*2 - 1
	}
	return data
}

func randGrad(rng *rand.Rand, batch, count int) []float32 {
	data := make([]float32, batch*count)
	for i := range data {
		data[i] = rng.Float32()*2 - 1
	}
	return data
}

// matchBoth runs both matching directions on one backend.
func matchBoth(t *testing.T, be Backend, batch, n, m int, a, b []float32) (dist1 []float32, idx1 []int32, dist2 []float32, idx2 []int32) {
	t.Helper()

	ctx := context.Background()
	dist1 = make([]float32, batch*n)
	idx1 = make([]int32, batch*n)
	dist2 = make([]float32, batch*m)
	idx2 = make([]int32, batch*m)

	require.NoError(t, be.Match(ctx, batch, n, m, a, b, dist1, idx1))
	require.NoError(t, be.Match(ctx, batch, m, n, b, a, dist2, idx2))
	return dist1, idx1, dist2, idx2
}

func TestSerialMatch(t *testing.T) {
	// A row at the origin, targets at distance 4 and 1.
	a := []float32{0, 0, 0, 0, 0, 0}
	b := []float32{2, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0}

	be := NewSerial()
	dist := make([]float32, 1)
	idx := make([]int32, 1)

	require.NoError(t, be.Match(context.Background(), 1, 1, 2, a, b, dist, idx))
	assert.Equal(t, []float32{1}, dist)
	assert.Equal(t, []int32{1}, idx)
}

func TestParallelMatchesSerial(t *testing.T) {
	tests := []struct {
		name  string
		batch int
		n     int
		m     int
	}{
		{name: "multi batch", batch: 3, n: 40, m: 33},
		{name: "single batch", batch: 1, n: 50, m: 37},
		{name: "single points", batch: 2, n: 1, m: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			a := randPoints(rng, tt.batch, tt.n)
			b := randPoints(rng, tt.batch, tt.m)

			serial := NewSerial()
			parallel := NewParallel(func(o *Options) {
				o.Workers = 4
				o.MinRowsPerTask = 1 // force many tasks
			})
			defer parallel.Close()

			sd1, si1, sd2, si2 := matchBoth(t, serial, tt.batch, tt.n, tt.m, a, b)
			pd1, pi1, pd2, pi2 := matchBoth(t, parallel, tt.batch, tt.n, tt.m, a, b)

			// Every row scans targets in the same order on both
			// backends, so match output is bit-identical.
			assert.Equal(t, sd1, pd1)
			assert.Equal(t, si1, pi1)
			assert.Equal(t, sd2, pd2)
			assert.Equal(t, si2, pi2)
		})
	}
}

func TestParallelScatterMultiBatchMatchesSerial(t *testing.T) {
	const (
		batch = 3
		n     = 40
		m     = 33
	)

	rng := rand.New(rand.NewSource(7))
	a := randPoints(rng, batch, n)
	b := randPoints(rng, batch, m)
	gd1 := randGrad(rng, batch, n)
	gd2 := randGrad(rng, batch, m)

	serial := NewSerial()
	parallel := NewParallel(func(o *Options) {
		o.Workers = 4
		o.MinRowsPerTask = 1
	})
	defer parallel.Close()

	_, idx1, _, idx2 := matchBoth(t, serial, batch, n, m, a, b)

	ctx := context.Background()

	sGradA := make([]float32, len(a))
	sGradB := make([]float32, len(b))
	require.NoError(t, serial.Scatter(ctx, batch, n, m, a, b, gd1, idx1, gd2, idx2, sGradA, sGradB))

	pGradA := make([]float32, len(a))
	pGradB := make([]float32, len(b))
	require.NoError(t, parallel.Scatter(ctx, batch, n, m, a, b, gd1, idx1, gd2, idx2, pGradA, pGradB))

	// Batch-partitioned tasks replay the serial per-batch order exactly.
	assert.Equal(t, sGradA, pGradA)
	assert.Equal(t, sGradB, pGradB)
}

func TestParallelScatterSingleBatchMatchesSerial(t *testing.T) {
	const (
		n = 50
		m = 37
	)

	rng := rand.New(rand.NewSource(11))
	a := randPoints(rng, 1, n)
	b := randPoints(rng, 1, m)
	gd1 := randGrad(rng, 1, n)
	gd2 := randGrad(rng, 1, m)

	serial := NewSerial()
	parallel := NewParallel(func(o *Options) {
		o.Workers = 4
		o.MinRowsPerTask = 1
	})
	defer parallel.Close()

	_, idx1, _, idx2 := matchBoth(t, serial, 1, n, m, a, b)

	ctx := context.Background()

	sGradA := make([]float32, len(a))
	sGradB := make([]float32, len(b))
	require.NoError(t, serial.Scatter(ctx, 1, n, m, a, b, gd1, idx1, gd2, idx2, sGradA, sGradB))

	pGradA := make([]float32, len(a))
	pGradB := make([]float32, len(b))
	require.NoError(t, parallel.Scatter(ctx, 1, n, m, a, b, gd1, idx1, gd2, idx2, pGradA, pGradB))

	// Partial-buffer merging regroups float32 sums, so allow rounding
	// differences against the serial order.
	assert.InDeltaSlice(t, sGradA, pGradA, 1e-4)
	assert.InDeltaSlice(t, sGradB, pGradB, 1e-4)

	// Re-running the parallel scatter must reproduce itself exactly:
	// partials merge in range order, not completion order.
	pGradA2 := make([]float32, len(a))
	pGradB2 := make([]float32, len(b))
	require.NoError(t, parallel.Scatter(ctx, 1, n, m, a, b, gd1, idx1, gd2, idx2, pGradA2, pGradB2))
	assert.Equal(t, pGradA, pGradA2)
	assert.Equal(t, pGradB, pGradB2)
}

func TestParallelSmallInputRunsInline(t *testing.T) {
	// Default MinRowsPerTask exceeds these row counts, so the work never
	// leaves the calling goroutine, but the results must be the same.
	parallel := NewParallel()
	defer parallel.Close()

	a := []float32{1, 0, 0, 0, 0, 0}
	b := []float32{3, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}

	ctx := context.Background()
	dist := make([]float32, 1)
	idx := make([]int32, 1)
	require.NoError(t, parallel.Match(ctx, 1, 1, 2, a, b, dist, idx))
	assert.Equal(t, []float32{1}, dist)
	assert.Equal(t, []int32{1}, idx)

	gd1 := []float32{0.5}
	idx2 := []int32{0, 0}
	gd2 := []float32{0, 0}
	gradA := make([]float32, len(a))
	gradB := make([]float32, len(b))
	require.NoError(t, parallel.Scatter(ctx, 1, 1, 2, a, b, gd1, idx, gd2, idx2, gradA, gradB))

	assert.Equal(t, []float32{1, 0, 0, 0, 0, 0}, gradA)
	assert.Equal(t, []float32{0, 0, 0, 0, 0, 0, -1, 0, 0, 0, 0, 0}, gradB)
}

func TestParallelClosed(t *testing.T) {
	parallel := NewParallel(func(o *Options) { o.Workers = 2 })
	require.NoError(t, parallel.Close())

	ctx := context.Background()
	err := parallel.Match(ctx, 1, 1, 1, make([]float32, 6), make([]float32, 6), make([]float32, 1), make([]int32, 1))
	assert.ErrorIs(t, err, ErrClosed)

	err = parallel.Scatter(ctx, 1, 1, 1,
		make([]float32, 6), make([]float32, 6),
		make([]float32, 1), make([]int32, 1),
		make([]float32, 1), make([]int32, 1),
		make([]float32, 6), make([]float32, 6))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBackendContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backends := []Backend{NewSerial(), NewParallel(func(o *Options) { o.Workers = 2 })}
	for _, be := range backends {
		t.Run(be.Name(), func(t *testing.T) {
			err := be.Match(ctx, 1, 1, 1, make([]float32, 6), make([]float32, 6), make([]float32, 1), make([]int32, 1))
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
	for _, be := range backends {
		require.NoError(t, be.Close())
	}
}

func TestAuto(t *testing.T) {
	be := Auto()
	require.NotNil(t, be)
	assert.Contains(t, []string{"serial", "parallel"}, be.Name())
	require.NoError(t, be.Close())
}

func TestRowSpans(t *testing.T) {
	tests := []struct {
		name    string
		batch   int
		rows    int
		parts   int
		minRows int
	}{
		{name: "even split", batch: 1, rows: 100, parts: 4, minRows: 1},
		{name: "uneven split", batch: 1, rows: 37, parts: 4, minRows: 1},
		{name: "multi batch", batch: 3, rows: 40, parts: 8, minRows: 1},
		{name: "min rows dominates", batch: 2, rows: 100, parts: 50, minRows: 64},
		{name: "tiny input", batch: 1, rows: 1, parts: 8, minRows: 256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := rowSpans(tt.batch, tt.rows, tt.parts, tt.minRows)
			require.NotEmpty(t, spans)

			// Ranges tile each batch exactly, in order, without
			// crossing batch boundaries.
			covered := make([][]bool, tt.batch)
			for i := range covered {
				covered[i] = make([]bool, tt.rows)
			}
			prevBatch, prevHi := 0, 0
			for _, s := range spans {
				require.GreaterOrEqual(t, s.batch, prevBatch)
				if s.batch == prevBatch {
					require.Equal(t, prevHi, s.lo)
				} else {
					require.Equal(t, 0, s.lo)
				}
				require.Less(t, s.lo, s.hi)
				require.LessOrEqual(t, s.hi, tt.rows)

				for r := s.lo; r < s.hi; r++ {
					require.False(t, covered[s.batch][r], "row covered twice")
					covered[s.batch][r] = true
				}
				prevBatch, prevHi = s.batch, s.hi
			}
			for i := range covered {
				for r, ok := range covered[i] {
					assert.True(t, ok, "batch %d row %d not covered", i, r)
				}
			}
		})
	}
}
