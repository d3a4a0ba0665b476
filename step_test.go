package chamfer_test

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chamfer"
	"github.com/hupe1980/chamfer/testutil"
)

func TestStep(t *testing.T) {
	ctx := context.Background()

	matcher, err := chamfer.New()
	require.NoError(t, err)
	defer matcher.Close()

	a := newSet(t, 1, 1, xrow(0))
	b := newSet(t, 1, 2, slices.Concat(xrow(1), xrow(0)))

	t.Run("FullStep", func(t *testing.T) {
		result, err := matcher.Step(a, b).Execute(ctx)
		require.NoError(t, err)

		require.NotNil(t, result.Match)
		require.NotNil(t, result.Gradients)
		assert.Equal(t, float32(1), result.Loss)

		// The one-shot step must agree with the three separate calls.
		match, err := matcher.Forward(ctx, a, b)
		require.NoError(t, err)

		loss, err := matcher.Loss(ctx, match)
		require.NoError(t, err)
		assert.Equal(t, loss, result.Loss)

		grads, err := matcher.LossBackward(ctx, a, b, match)
		require.NoError(t, err)
		assert.Equal(t, grads.GradA.Data(), result.Gradients.GradA.Data())
		assert.Equal(t, grads.GradB.Data(), result.Gradients.GradB.Data())
	})

	t.Run("NoGradients", func(t *testing.T) {
		result, err := matcher.Step(a, b).NoGradients().Execute(ctx)
		require.NoError(t, err)

		assert.Nil(t, result.Gradients)
		assert.NotNil(t, result.Match)
		assert.Equal(t, float32(1), result.Loss)
	})

	t.Run("ReductionOverride", func(t *testing.T) {
		result, err := matcher.Step(a, b).Reduction(chamfer.ReductionMean).Execute(ctx)
		require.NoError(t, err)

		assert.Equal(t, float32(0.5), result.Loss)

		// The override is per step; the matcher keeps its own reduction.
		assert.Equal(t, chamfer.ReductionSum, matcher.Reduction())
	})

	t.Run("Masked", func(t *testing.T) {
		rng := testutil.NewRNG(42)
		pa := rng.RandomSet(1, 4, -1, 1)
		pb := rng.RandomSet(1, 3, -1, 1)

		ma := newMask(t, 1, 4, []int{0, 2})
		mb := newMask(t, 1, 3, []int{1})

		result, err := matcher.Step(pa, pb).Masks(ma, mb).Execute(ctx)
		require.NoError(t, err)

		want, err := matcher.ForwardMasked(ctx, pa, pb, ma, mb)
		require.NoError(t, err)
		assert.Equal(t, want.Dist1, result.Match.Dist1)
		assert.Equal(t, want.Idx1, result.Match.Idx1)

		// Padded slots receive no gradient.
		require.NotNil(t, result.Gradients)
		assert.Equal(t, xrow(0), result.Gradients.GradA.Point(0, 1))
		assert.Equal(t, xrow(0), result.Gradients.GradA.Point(0, 3))
		assert.Equal(t, xrow(0), result.Gradients.GradB.Point(0, 0))
		assert.Equal(t, xrow(0), result.Gradients.GradB.Point(0, 2))
	})

	t.Run("InvalidReduction", func(t *testing.T) {
		_, err := matcher.Step(a, b).Reduction(chamfer.Reduction(9)).Execute(ctx)
		require.ErrorIs(t, err, chamfer.ErrInvalidReduction)
	})

	t.Run("ShapeErrorPropagates", func(t *testing.T) {
		mismatched := newSet(t, 2, 1, slices.Concat(xrow(0), xrow(0)))

		_, err := matcher.Step(a, mismatched).Execute(ctx)
		require.ErrorIs(t, err, chamfer.ErrInvalidShape)
	})
}
