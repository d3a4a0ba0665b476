package chamfer

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/chamfer/internal/f32"
	"github.com/hupe1980/chamfer/internal/pool"
	"github.com/hupe1980/chamfer/mask"
	"github.com/hupe1980/chamfer/pointset"
)

// Reduction selects how the two directional distance fields collapse into a
// scalar loss.
type Reduction int

const (
	// ReductionSum sums every squared match distance of both directions.
	ReductionSum Reduction = iota

	// ReductionMean averages each direction over its own points before
	// adding the two directions.
	ReductionMean
)

// String implements fmt.Stringer.
func (r Reduction) String() string {
	switch r {
	case ReductionSum:
		return "sum"
	case ReductionMean:
		return "mean"
	default:
		return fmt.Sprintf("reduction(%d)", int(r))
	}
}

// Valid reports whether r is a known reduction.
func (r Reduction) Valid() bool {
	return r == ReductionSum || r == ReductionMean
}

// Loss collapses a forward match into a scalar under the Matcher's configured
// reduction.
//
// For matches from ForwardMasked, padded slots carry zero distance, so they
// never contribute to the sum; ReductionMean still divides by the full padded
// counts, keeping the divisor independent of occupancy.
func (m *Matcher) Loss(ctx context.Context, match *Match) (float32, error) {
	return m.lossWith(ctx, match, m.reduction)
}

func (m *Matcher) lossWith(ctx context.Context, match *Match, r Reduction) (float32, error) {
	start := time.Now()

	var loss float32
	err := m.checkOpen()
	if err == nil {
		loss, err = lossValue(match, r)
	}

	m.metrics.RecordLoss(time.Since(start), err)
	m.logger.LogLoss(ctx, r.String(), loss, err)
	if err != nil {
		return 0, err
	}
	return loss, nil
}

func lossValue(match *Match, r Reduction) (float32, error) {
	if match == nil {
		return 0, fmt.Errorf("%w: nil match", ErrInvalidShape)
	}
	if want := match.Batch * match.N; len(match.Dist1) != want {
		return 0, &ShapeError{Arg: "match.Dist1", Want: want, Got: len(match.Dist1)}
	}
	if want := match.Batch * match.M; len(match.Dist2) != want {
		return 0, &ShapeError{Arg: "match.Dist2", Want: want, Got: len(match.Dist2)}
	}

	sum1 := f32.Sum(match.Dist1)
	sum2 := f32.Sum(match.Dist2)

	switch r {
	case ReductionSum:
		return sum1 + sum2, nil
	case ReductionMean:
		return sum1/float32(match.Batch*match.N) + sum2/float32(match.Batch*match.M), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidReduction, int(r))
	}
}

// reductionSeeds returns the upstream gradient implied by reducing the match
// distances with r: d(loss)/d(dist) is 1 for a sum and 1/rows for a mean.
func reductionSeeds(match *Match, r Reduction) (seed1, seed2 float32) {
	if r == ReductionMean {
		return 1 / float32(match.Batch*match.N), 1 / float32(match.Batch*match.M)
	}
	return 1, 1
}

// LossBackward runs Backward with the upstream gradients implied by the
// configured reduction, so callers optimizing the plain scalar loss need not
// build gradient buffers by hand.
func (m *Matcher) LossBackward(ctx context.Context, a, b *pointset.Set, match *Match) (*Gradients, error) {
	return m.lossBackward(ctx, a, b, nil, nil, match, m.reduction)
}

// LossBackwardMasked is LossBackward for matches produced by ForwardMasked.
func (m *Matcher) LossBackwardMasked(ctx context.Context, a, b *pointset.Set, ma, mb *mask.Mask, match *Match) (*Gradients, error) {
	return m.lossBackward(ctx, a, b, ma, mb, match, m.reduction)
}

func (m *Matcher) lossBackward(ctx context.Context, a, b *pointset.Set, ma, mb *mask.Mask, match *Match, r Reduction) (*Gradients, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	// Validate enough to size the seed buffers; the backward call re-checks
	// the rest.
	if err := validatePair(a, b); err != nil {
		return nil, err
	}
	if err := validateMatchShape(a, b, match); err != nil {
		return nil, err
	}

	seed1, seed2 := reductionSeeds(match, r)

	gd1 := pool.GetFloat32(match.Batch * match.N)
	defer pool.PutFloat32(gd1)
	gd2 := pool.GetFloat32(match.Batch * match.M)
	defer pool.PutFloat32(gd2)
	f32.Fill(gd1, seed1)
	f32.Fill(gd2, seed2)

	if ma != nil || mb != nil {
		return m.BackwardMasked(ctx, a, b, ma, mb, match, gd1, gd2)
	}
	return m.Backward(ctx, a, b, match, gd1, gd2)
}
