package chamfer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/chamfer/compute"
	"github.com/hupe1980/chamfer/pointset"
)

// Match holds the outputs of one forward pass over a point-set pair (a, b).
//
// All buffers are flat and row-major: entry i*N+j belongs to point j of
// batch i. Dist1[i*N+j] is the squared distance from point j of a to its
// nearest neighbor in b, and Idx1[i*N+j] is that neighbor's row within its
// own batch. Dist2/Idx2 carry the b->a direction with shape Batch x M.
//
// A Match is produced fresh by every forward call and consumed unchanged by
// the paired backward call; the backward never recomputes it.
type Match struct {
	Batch int
	N     int // points per batch in a
	M     int // points per batch in b

	Dist1 []float32
	Idx1  []int32
	Dist2 []float32
	Idx2  []int32
}

// Gradients holds the backward outputs: one 6-component gradient per input
// point, shaped exactly like the point set it belongs to.
type Gradients struct {
	GradA *pointset.Set
	GradB *pointset.Set
}

// Matcher computes bidirectional nearest-neighbor matchings between batched
// point sets and back-propagates upstream gradients through them.
//
// A Matcher is safe for concurrent use. The zero value is not usable;
// construct with New.
type Matcher struct {
	backend     compute.Backend
	ownsBackend bool
	reduction   Reduction
	metrics     MetricsCollector
	logger      *Logger
	closed      atomic.Bool
}

// New creates a Matcher.
//
// Without options it picks an execution backend suited to the host
// (host-parallel when more than one CPU is available), reduces losses by
// summing, and stays silent. See the With* options.
func New(optFns ...Option) (*Matcher, error) {
	opts := applyOptions(optFns)

	if !opts.reduction.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidReduction, int(opts.reduction))
	}

	backend := opts.backend
	owns := false
	if backend == nil {
		backend = compute.Auto()
		owns = true
	}

	return &Matcher{
		backend:     backend,
		ownsBackend: owns,
		reduction:   opts.reduction,
		metrics:     opts.metricsCollector,
		logger:      opts.logger,
	}, nil
}

// Backend returns the name of the execution backend in use.
func (m *Matcher) Backend() string {
	return m.backend.Name()
}

// Reduction returns the configured loss reduction.
func (m *Matcher) Reduction() Reduction {
	return m.reduction
}

// Forward matches every point of a against b and every point of b against a.
//
// The two directions are independent and run concurrently. For each point the
// nearest neighbor by squared Euclidean distance over all 6 coordinates is
// retained; equal distances resolve to the lowest row. Both point sets must
// share their batch dimension.
func (m *Matcher) Forward(ctx context.Context, a, b *pointset.Set) (*Match, error) {
	start := time.Now()

	if err := m.checkOpen(); err != nil {
		m.metrics.RecordForward(0, time.Since(start), err)
		m.logger.LogForward(ctx, 0, 0, 0, time.Since(start), err)
		return nil, err
	}
	if err := validatePair(a, b); err != nil {
		m.metrics.RecordForward(0, time.Since(start), err)
		m.logger.LogForward(ctx, 0, 0, 0, time.Since(start), err)
		return nil, err
	}

	batch, na, nb := a.Batch(), a.Count(), b.Count()
	dist1 := make([]float32, batch*na)
	idx1 := make([]int32, batch*na)
	dist2 := make([]float32, batch*nb)
	idx2 := make([]int32, batch*nb)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.backend.Match(gctx, batch, na, nb, a.Data(), b.Data(), dist1, idx1)
	})
	g.Go(func() error {
		return m.backend.Match(gctx, batch, nb, na, b.Data(), a.Data(), dist2, idx2)
	})
	err := translateError(g.Wait())

	duration := time.Since(start)
	m.metrics.RecordForward(batch*(na+nb), duration, err)
	m.logger.LogForward(ctx, batch, na, nb, duration, err)
	if err != nil {
		return nil, err
	}

	return &Match{
		Batch: batch,
		N:     na,
		M:     nb,
		Dist1: dist1,
		Idx1:  idx1,
		Dist2: dist2,
		Idx2:  idx2,
	}, nil
}

// Backward back-propagates upstream gradients through a forward match.
//
// gradDist1 and gradDist2 hold the loss derivative for each matched distance
// of the a->b and b->a directions, shaped Batch x N and Batch x M. The
// returned gradient sets start zeroed and receive only additive updates:
// every matched pair contributes +2*g*diff to its source point and the exact
// negation to its target, so contributions from multiple sources hitting the
// same target stack up.
func (m *Matcher) Backward(ctx context.Context, a, b *pointset.Set, match *Match, gradDist1, gradDist2 []float32) (*Gradients, error) {
	start := time.Now()

	if err := m.checkOpen(); err != nil {
		m.metrics.RecordBackward(0, time.Since(start), err)
		m.logger.LogBackward(ctx, 0, 0, 0, time.Since(start), err)
		return nil, err
	}
	if err := validateBackward(a, b, match, gradDist1, gradDist2); err != nil {
		m.metrics.RecordBackward(0, time.Since(start), err)
		m.logger.LogBackward(ctx, 0, 0, 0, time.Since(start), err)
		return nil, err
	}

	batch, na, nb := a.Batch(), a.Count(), b.Count()
	gradA := a.Zeroed()
	gradB := b.Zeroed()

	err := translateError(m.backend.Scatter(ctx, batch, na, nb,
		a.Data(), b.Data(),
		gradDist1, match.Idx1,
		gradDist2, match.Idx2,
		gradA.Data(), gradB.Data()))

	duration := time.Since(start)
	m.metrics.RecordBackward(batch*(na+nb), duration, err)
	m.logger.LogBackward(ctx, batch, na, nb, duration, err)
	if err != nil {
		return nil, err
	}

	return &Gradients{GradA: gradA, GradB: gradB}, nil
}

func (m *Matcher) checkOpen() error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

func validatePair(a, b *pointset.Set) error {
	if a == nil || b == nil {
		return ErrNilPointSet
	}
	if a.Batch() != b.Batch() {
		return &BatchMismatchError{NA: a.Batch(), NB: b.Batch()}
	}
	return nil
}

func validateMatchShape(a, b *pointset.Set, match *Match) error {
	if match == nil {
		return fmt.Errorf("%w: nil match", ErrInvalidShape)
	}
	if match.Batch != a.Batch() || match.N != a.Count() || match.M != b.Count() {
		return fmt.Errorf("%w: match shape (%d,%d,%d) does not fit point sets (%d,%d,%d)",
			ErrInvalidShape, match.Batch, match.N, match.M, a.Batch(), a.Count(), b.Count())
	}
	return nil
}

func validateBackward(a, b *pointset.Set, match *Match, gradDist1, gradDist2 []float32) error {
	if err := validatePair(a, b); err != nil {
		return err
	}
	if err := validateMatchShape(a, b, match); err != nil {
		return err
	}
	if want := match.Batch * match.N; len(match.Idx1) != want {
		return &ShapeError{Arg: "match.Idx1", Want: want, Got: len(match.Idx1)}
	}
	if want := match.Batch * match.M; len(match.Idx2) != want {
		return &ShapeError{Arg: "match.Idx2", Want: want, Got: len(match.Idx2)}
	}
	if want := match.Batch * match.N; len(gradDist1) != want {
		return &ShapeError{Arg: "gradDist1", Want: want, Got: len(gradDist1)}
	}
	if want := match.Batch * match.M; len(gradDist2) != want {
		return &ShapeError{Arg: "gradDist2", Want: want, Got: len(gradDist2)}
	}

	// The scatter indexes gradient rows straight off these values; a stray
	// index would corrupt a neighboring row, so reject before running.
	for _, k := range match.Idx1 {
		if k < 0 || int(k) >= match.M {
			return fmt.Errorf("%w: match index %d outside target range [0,%d)", ErrInvalidShape, k, match.M)
		}
	}
	for _, j := range match.Idx2 {
		if j < 0 || int(j) >= match.N {
			return fmt.Errorf("%w: match index %d outside target range [0,%d)", ErrInvalidShape, j, match.N)
		}
	}
	return nil
}
