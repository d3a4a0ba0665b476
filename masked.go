package chamfer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/chamfer/internal/pool"
	"github.com/hupe1980/chamfer/mask"
	"github.com/hupe1980/chamfer/pointset"
)

// ForwardMasked matches only the valid slots of two padded point sets.
//
// Real workloads pad variable-sized point clouds to a common per-batch count;
// the masks name the occupied slots. Per batch, valid rows are compacted,
// matched with the exact kernel, and the results mapped back: Idx values
// refer to original slots, padded slots come back with distance 0 and index 0
// and contribute nothing downstream.
//
// Every batch must keep at least one valid slot on each side, since both
// sides serve as the match target of one direction; a fully padded batch
// fails with ErrEmptyPointSet.
func (m *Matcher) ForwardMasked(ctx context.Context, a, b *pointset.Set, ma, mb *mask.Mask) (*Match, error) {
	start := time.Now()

	if err := m.checkOpen(); err != nil {
		m.metrics.RecordForward(0, time.Since(start), err)
		m.logger.LogForward(ctx, 0, 0, 0, time.Since(start), err)
		return nil, err
	}
	if err := validateMaskedPair(a, b, ma, mb); err != nil {
		m.metrics.RecordForward(0, time.Since(start), err)
		m.logger.LogForward(ctx, 0, 0, 0, time.Since(start), err)
		return nil, err
	}

	batch, na, nb := a.Batch(), a.Count(), b.Count()
	out := &Match{
		Batch: batch,
		N:     na,
		M:     nb,
		Dist1: make([]float32, batch*na),
		Idx1:  make([]int32, batch*na),
		Dist2: make([]float32, batch*nb),
		Idx2:  make([]int32, batch*nb),
	}

	var err error
	for i := 0; i < batch; i++ {
		if err = m.forwardMaskedBatch(ctx, i, a, b, ma, mb, out); err != nil {
			break
		}
	}
	err = translateError(err)

	duration := time.Since(start)
	m.metrics.RecordForward(batch*(na+nb), duration, err)
	m.logger.LogForward(ctx, batch, na, nb, duration, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Matcher) forwardMaskedBatch(ctx context.Context, i int, a, b *pointset.Set, ma, mb *mask.Mask, out *Match) error {
	const w = pointset.FeatureWidth

	va := ma.ValidSlots(i)
	vb := mb.ValidSlots(i)

	ca := pool.GetFloat32(len(va) * w)
	defer pool.PutFloat32(ca)
	cb := pool.GetFloat32(len(vb) * w)
	defer pool.PutFloat32(cb)
	gatherRows(ca, a, i, va)
	gatherRows(cb, b, i, vb)

	cd1 := pool.GetFloat32(len(va))
	defer pool.PutFloat32(cd1)
	ci1 := pool.GetInt32(len(va))
	defer pool.PutInt32(ci1)
	cd2 := pool.GetFloat32(len(vb))
	defer pool.PutFloat32(cd2)
	ci2 := pool.GetInt32(len(vb))
	defer pool.PutInt32(ci2)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.backend.Match(gctx, 1, len(va), len(vb), ca, cb, cd1, ci1)
	})
	g.Go(func() error {
		return m.backend.Match(gctx, 1, len(vb), len(va), cb, ca, cd2, ci2)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// Map compact rows back to their original slots.
	for j, s := range va {
		out.Dist1[i*out.N+int(s)] = cd1[j]
		out.Idx1[i*out.N+int(s)] = int32(vb[ci1[j]])
	}
	for j, s := range vb {
		out.Dist2[i*out.M+int(s)] = cd2[j]
		out.Idx2[i*out.M+int(s)] = int32(va[ci2[j]])
	}
	return nil
}

// BackwardMasked back-propagates upstream gradients through a masked match.
//
// The match must come from ForwardMasked with the same masks. Gradients land
// only on valid slots; padded slots of the returned sets stay zero, and their
// gradDist entries are never read.
func (m *Matcher) BackwardMasked(ctx context.Context, a, b *pointset.Set, ma, mb *mask.Mask, match *Match, gradDist1, gradDist2 []float32) (*Gradients, error) {
	start := time.Now()

	err := m.checkOpen()
	if err == nil {
		err = validateMaskedPair(a, b, ma, mb)
	}
	if err == nil {
		err = validateBackward(a, b, match, gradDist1, gradDist2)
	}
	if err != nil {
		m.metrics.RecordBackward(0, time.Since(start), err)
		m.logger.LogBackward(ctx, 0, 0, 0, time.Since(start), err)
		return nil, err
	}

	batch, na, nb := a.Batch(), a.Count(), b.Count()
	gradA := a.Zeroed()
	gradB := b.Zeroed()

	for i := 0; i < batch; i++ {
		if err = m.backwardMaskedBatch(ctx, i, a, b, ma, mb, match, gradDist1, gradDist2, gradA, gradB); err != nil {
			break
		}
	}
	err = translateError(err)

	duration := time.Since(start)
	m.metrics.RecordBackward(batch*(na+nb), duration, err)
	m.logger.LogBackward(ctx, batch, na, nb, duration, err)
	if err != nil {
		return nil, err
	}
	return &Gradients{GradA: gradA, GradB: gradB}, nil
}

func (m *Matcher) backwardMaskedBatch(ctx context.Context, i int, a, b *pointset.Set, ma, mb *mask.Mask, match *Match, gradDist1, gradDist2 []float32, gradA, gradB *pointset.Set) error {
	const w = pointset.FeatureWidth

	va := ma.ValidSlots(i)
	vb := mb.ValidSlots(i)

	ca := pool.GetFloat32(len(va) * w)
	defer pool.PutFloat32(ca)
	cb := pool.GetFloat32(len(vb) * w)
	defer pool.PutFloat32(cb)
	gatherRows(ca, a, i, va)
	gatherRows(cb, b, i, vb)

	invA := slotPositions(a.Count(), va)
	defer pool.PutInt32(invA)
	invB := slotPositions(b.Count(), vb)
	defer pool.PutInt32(invB)

	cgd1 := pool.GetFloat32(len(va))
	defer pool.PutFloat32(cgd1)
	cidx1 := pool.GetInt32(len(va))
	defer pool.PutInt32(cidx1)
	for j, s := range va {
		off := i*match.N + int(s)
		cgd1[j] = gradDist1[off]
		ci := invB[match.Idx1[off]]
		if ci < 0 {
			return fmt.Errorf("%w: match index %d of batch %d targets a masked slot of b", ErrInvalidShape, match.Idx1[off], i)
		}
		cidx1[j] = ci
	}

	cgd2 := pool.GetFloat32(len(vb))
	defer pool.PutFloat32(cgd2)
	cidx2 := pool.GetInt32(len(vb))
	defer pool.PutInt32(cidx2)
	for j, s := range vb {
		off := i*match.M + int(s)
		cgd2[j] = gradDist2[off]
		ci := invA[match.Idx2[off]]
		if ci < 0 {
			return fmt.Errorf("%w: match index %d of batch %d targets a masked slot of a", ErrInvalidShape, match.Idx2[off], i)
		}
		cidx2[j] = ci
	}

	cga := pool.GetFloat32(len(va) * w)
	defer pool.PutFloat32(cga)
	cgb := pool.GetFloat32(len(vb) * w)
	defer pool.PutFloat32(cgb)

	if err := m.backend.Scatter(ctx, 1, len(va), len(vb), ca, cb, cgd1, cidx1, cgd2, cidx2, cga, cgb); err != nil {
		return err
	}

	scatterRows(gradA, i, va, cga)
	scatterRows(gradB, i, vb, cgb)
	return nil
}

func validateMaskedPair(a, b *pointset.Set, ma, mb *mask.Mask) error {
	if err := validatePair(a, b); err != nil {
		return err
	}
	if ma == nil || mb == nil {
		return fmt.Errorf("%w: nil mask", ErrInvalidShape)
	}
	if ma.Batch() != a.Batch() || ma.Count() != a.Count() {
		return fmt.Errorf("%w: mask for a is (%d,%d), point set is (%d,%d)",
			ErrInvalidShape, ma.Batch(), ma.Count(), a.Batch(), a.Count())
	}
	if mb.Batch() != b.Batch() || mb.Count() != b.Count() {
		return fmt.Errorf("%w: mask for b is (%d,%d), point set is (%d,%d)",
			ErrInvalidShape, mb.Batch(), mb.Count(), b.Batch(), b.Count())
	}
	for i := 0; i < a.Batch(); i++ {
		if ma.ValidCount(i) == 0 {
			return fmt.Errorf("%w: batch %d of a", ErrEmptyPointSet, i)
		}
		if mb.ValidCount(i) == 0 {
			return fmt.Errorf("%w: batch %d of b", ErrEmptyPointSet, i)
		}
	}
	return nil
}

// gatherRows copies the listed slots of batch i into a compact buffer.
func gatherRows(dst []float32, s *pointset.Set, i int, slots []uint32) {
	const w = pointset.FeatureWidth
	for j, slot := range slots {
		copy(dst[j*w:(j+1)*w], s.Point(i, int(slot)))
	}
}

// scatterRows copies compact rows back onto their original slots.
func scatterRows(dst *pointset.Set, i int, slots []uint32, src []float32) {
	const w = pointset.FeatureWidth
	for j, slot := range slots {
		copy(dst.Point(i, int(slot)), src[j*w:(j+1)*w])
	}
}

// slotPositions returns, per original slot, its row in the compacted buffer,
// or -1 for padded slots. The caller returns the buffer via pool.PutInt32.
func slotPositions(count int, slots []uint32) []int32 {
	inv := pool.GetInt32(count)
	for k := range inv {
		inv[k] = -1
	}
	for j, s := range slots {
		inv[s] = int32(j)
	}
	return inv
}
