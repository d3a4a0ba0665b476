package chamfer_test

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chamfer"
	"github.com/hupe1980/chamfer/mask"
	"github.com/hupe1980/chamfer/testutil"
)

func fill(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestReductionString(t *testing.T) {
	tests := []struct {
		reduction chamfer.Reduction
		want      string
	}{
		{chamfer.ReductionSum, "sum"},
		{chamfer.ReductionMean, "mean"},
		{chamfer.Reduction(42), "reduction(42)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.reduction.String())
		})
	}
}

func TestReductionValid(t *testing.T) {
	assert.True(t, chamfer.ReductionSum.Valid())
	assert.True(t, chamfer.ReductionMean.Valid())
	assert.False(t, chamfer.Reduction(42).Valid())
	assert.False(t, chamfer.Reduction(-1).Valid())
}

func TestLoss(t *testing.T) {
	ctx := context.Background()

	newMatch := func(t *testing.T) *chamfer.Match {
		t.Helper()

		matcher, err := chamfer.New()
		require.NoError(t, err)
		defer matcher.Close()

		src := newSet(t, 1, 1, xrow(0))
		tgt := newSet(t, 1, 2, slices.Concat(xrow(1), xrow(0)))

		match, err := matcher.Forward(ctx, src, tgt)
		require.NoError(t, err)

		return match
	}

	t.Run("Sum", func(t *testing.T) {
		matcher, err := chamfer.New()
		require.NoError(t, err)
		defer matcher.Close()

		loss, err := matcher.Loss(ctx, newMatch(t))
		require.NoError(t, err)

		// 0 from a->b plus 1+0 from b->a.
		assert.Equal(t, float32(1), loss)
	})

	t.Run("Mean", func(t *testing.T) {
		matcher, err := chamfer.New(chamfer.WithReduction(chamfer.ReductionMean))
		require.NoError(t, err)
		defer matcher.Close()

		loss, err := matcher.Loss(ctx, newMatch(t))
		require.NoError(t, err)

		// 0/1 plus (1+0)/2.
		assert.Equal(t, float32(0.5), loss)
	})

	t.Run("NilMatch", func(t *testing.T) {
		matcher, err := chamfer.New()
		require.NoError(t, err)
		defer matcher.Close()

		_, err = matcher.Loss(ctx, nil)
		require.ErrorIs(t, err, chamfer.ErrInvalidShape)
	})

	t.Run("DistShapeMismatch", func(t *testing.T) {
		matcher, err := chamfer.New()
		require.NoError(t, err)
		defer matcher.Close()

		match := newMatch(t)
		match.Dist2 = match.Dist2[:1]

		_, err = matcher.Loss(ctx, match)
		require.ErrorIs(t, err, chamfer.ErrInvalidShape)

		var shapeErr *chamfer.ShapeError
		require.ErrorAs(t, err, &shapeErr)
		assert.Equal(t, "match.Dist2", shapeErr.Arg)
	})
}

func TestLossBackward(t *testing.T) {
	ctx := context.Background()

	rng := testutil.NewRNG(42)
	a := rng.RandomSet(2, 5, -1, 1)
	b := rng.RandomSet(2, 3, -1, 1)

	t.Run("SumSeedsAreOnes", func(t *testing.T) {
		matcher, err := chamfer.New()
		require.NoError(t, err)
		defer matcher.Close()

		match, err := matcher.Forward(ctx, a, b)
		require.NoError(t, err)

		got, err := matcher.LossBackward(ctx, a, b, match)
		require.NoError(t, err)

		want, err := matcher.Backward(ctx, a, b, match, fill(2*5, 1), fill(2*3, 1))
		require.NoError(t, err)

		assert.Equal(t, want.GradA.Data(), got.GradA.Data())
		assert.Equal(t, want.GradB.Data(), got.GradB.Data())
	})

	t.Run("MeanSeedsScaleByRows", func(t *testing.T) {
		matcher, err := chamfer.New(chamfer.WithReduction(chamfer.ReductionMean))
		require.NoError(t, err)
		defer matcher.Close()

		match, err := matcher.Forward(ctx, a, b)
		require.NoError(t, err)

		got, err := matcher.LossBackward(ctx, a, b, match)
		require.NoError(t, err)

		want, err := matcher.Backward(ctx, a, b, match, fill(2*5, 1.0/10), fill(2*3, 1.0/6))
		require.NoError(t, err)

		assert.Equal(t, want.GradA.Data(), got.GradA.Data())
		assert.Equal(t, want.GradB.Data(), got.GradB.Data())
	})

	t.Run("MaskedDispatch", func(t *testing.T) {
		matcher, err := chamfer.New()
		require.NoError(t, err)
		defer matcher.Close()

		ma, err := mask.NewAllValid(2, 5)
		require.NoError(t, err)
		mb, err := mask.NewAllValid(2, 3)
		require.NoError(t, err)

		match, err := matcher.ForwardMasked(ctx, a, b, ma, mb)
		require.NoError(t, err)

		got, err := matcher.LossBackwardMasked(ctx, a, b, ma, mb, match)
		require.NoError(t, err)

		assert.Equal(t, 2, got.GradA.Batch())
		assert.Equal(t, 5, got.GradA.Count())
		assert.Equal(t, 2, got.GradB.Batch())
		assert.Equal(t, 3, got.GradB.Count())
	})

	t.Run("NilMatch", func(t *testing.T) {
		matcher, err := chamfer.New()
		require.NoError(t, err)
		defer matcher.Close()

		_, err = matcher.LossBackward(ctx, a, b, nil)
		require.ErrorIs(t, err, chamfer.ErrInvalidShape)
	})
}
