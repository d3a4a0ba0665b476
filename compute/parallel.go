package compute

import (
	"context"
	"runtime"
	"sync"

	"github.com/hupe1980/chamfer/internal/f32"
	"github.com/hupe1980/chamfer/internal/kernel"
	"github.com/hupe1980/chamfer/internal/pool"
)

// taskFanout oversubscribes row ranges relative to workers so uneven spans
// keep the pool busy.
const taskFanout = 4

// Options configures the Parallel backend.
type Options struct {
	// Workers is the number of pool goroutines. Zero means GOMAXPROCS.
	Workers int

	// MinRowsPerTask is the smallest row range worth dispatching to the
	// pool. Work below it runs fused on the calling goroutine, keeping
	// task overhead away from small point sets.
	MinRowsPerTask int
}

// DefaultOptions are the options applied by NewParallel before any overrides.
var DefaultOptions = Options{
	Workers:        0,
	MinRowsPerTask: 256,
}

// Parallel runs kernels on a fixed worker pool. Match output is bit-identical
// to Serial's. Gradient scatter partitions by batch when possible; a single
// batch is partitioned by row instead, with the scattered side of each
// direction accumulated into per-range partial buffers that merge in range
// order, so results are deterministic across runs but can differ from Serial
// in final bits.
type Parallel struct {
	pool    *WorkerPool
	workers int
	minRows int
}

var _ Backend = (*Parallel)(nil)

// NewParallel creates the pool-backed backend.
func NewParallel(optFns ...func(o *Options)) *Parallel {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	minRows := opts.MinRowsPerTask
	if minRows <= 0 {
		minRows = DefaultOptions.MinRowsPerTask
	}

	return &Parallel{
		pool:    NewWorkerPool(workers),
		workers: workers,
		minRows: minRows,
	}
}

// Name implements Backend.
func (p *Parallel) Name() string { return "parallel" }

// Close shuts down the worker pool. Calls in flight finish first.
func (p *Parallel) Close() error {
	p.pool.Close()
	return nil
}

// Match implements Backend. Source rows are independent, so ranges of them
// fan out to the pool; each range writes only its own output slots.
func (p *Parallel) Match(ctx context.Context, batch, sourceCount, targetCount int, src, tgt []float32, dist []float32, idx []int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.pool.Closed() {
		return ErrClosed
	}

	spans := rowSpans(batch, sourceCount, p.workers*taskFanout, p.minRows)
	if len(spans) == 1 {
		kernel.Match(batch, sourceCount, targetCount, src, tgt, dist, idx)
		return nil
	}

	var (
		wg        sync.WaitGroup
		submitErr error
	)

	for _, s := range spans {
		srcB := src[s.batch*sourceCount*kernel.Width : (s.batch+1)*sourceCount*kernel.Width]
		tgtB := tgt[s.batch*targetCount*kernel.Width : (s.batch+1)*targetCount*kernel.Width]
		distB := dist[s.batch*sourceCount : (s.batch+1)*sourceCount]
		idxB := idx[s.batch*sourceCount : (s.batch+1)*sourceCount]
		lo, hi := s.lo, s.hi

		wg.Add(1)
		if err := p.pool.Submit(ctx, func() {
			defer wg.Done()
			kernel.MatchSpan(srcB, tgtB, lo, hi, distB, idxB)
		}); err != nil {
			wg.Done()
			submitErr = err
			break
		}
	}

	// Tasks already enqueued keep writing into the caller's buffers, so a
	// failed submit still waits for them before returning.
	wg.Wait()

	return submitErr
}

// Scatter implements Backend. With two or more batches each task runs both
// directional passes of one batch; batches own disjoint output slots, so no
// synchronization is needed and the within-batch order matches Serial.
func (p *Parallel) Scatter(ctx context.Context, batch, n, m int, a, b []float32, gradDist1 []float32, idx1 []int32, gradDist2 []float32, idx2 []int32, gradA, gradB []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.pool.Closed() {
		return ErrClosed
	}

	if batch == 1 {
		return p.scatterSingle(ctx, n, m, a, b, gradDist1, idx1, gradDist2, idx2, gradA, gradB)
	}

	var (
		wg        sync.WaitGroup
		submitErr error
	)

	for i := 0; i < batch; i++ {
		aB := a[i*n*kernel.Width : (i+1)*n*kernel.Width]
		bB := b[i*m*kernel.Width : (i+1)*m*kernel.Width]
		gd1B := gradDist1[i*n : (i+1)*n]
		idx1B := idx1[i*n : (i+1)*n]
		gd2B := gradDist2[i*m : (i+1)*m]
		idx2B := idx2[i*m : (i+1)*m]
		gradAB := gradA[i*n*kernel.Width : (i+1)*n*kernel.Width]
		gradBB := gradB[i*m*kernel.Width : (i+1)*m*kernel.Width]

		wg.Add(1)
		if err := p.pool.Submit(ctx, func() {
			defer wg.Done()
			kernel.ScatterBatch(aB, bB, gd1B, idx1B, gd2B, idx2B, gradAB, gradBB)
		}); err != nil {
			wg.Done()
			submitErr = err
			break
		}
	}

	wg.Wait()

	return submitErr
}

// scatterSingle partitions one batch by row. Each direction writes its
// row-owned gradient in place (ranges are disjoint) while its scattered
// other-side contributions go to a private partial buffer, since any range
// can hit any target row. Partials merge in range order after every task
// finished, which keeps the result independent of scheduling.
func (p *Parallel) scatterSingle(ctx context.Context, n, m int, a, b []float32, gradDist1 []float32, idx1 []int32, gradDist2 []float32, idx2 []int32, gradA, gradB []float32) error {
	// One range per worker bounds partial-buffer memory at
	// workers*(len(gradA)+len(gradB)) floats.
	srcSpans := rowSpans(1, n, p.workers, p.minRows)
	tgtSpans := rowSpans(1, m, p.workers, p.minRows)

	if len(srcSpans) == 1 && len(tgtSpans) == 1 {
		kernel.ScatterBatch(a, b, gradDist1, idx1, gradDist2, idx2, gradA, gradB)
		return nil
	}

	var (
		wg        sync.WaitGroup
		submitErr error
	)

	partB := make([][]float32, len(srcSpans))
	partA := make([][]float32, len(tgtSpans))

	for k, s := range srcSpans {
		buf := pool.GetFloat32(len(gradB))
		partB[k] = buf
		lo, hi := s.lo, s.hi

		wg.Add(1)
		if err := p.pool.Submit(ctx, func() {
			defer wg.Done()
			kernel.ScatterSpan(a, b, gradDist1, idx1, lo, hi, gradA, buf)
		}); err != nil {
			wg.Done()
			submitErr = err
			break
		}
	}

	if submitErr == nil {
		for k, s := range tgtSpans {
			buf := pool.GetFloat32(len(gradA))
			partA[k] = buf
			lo, hi := s.lo, s.hi

			wg.Add(1)
			if err := p.pool.Submit(ctx, func() {
				defer wg.Done()
				kernel.ScatterSpan(b, a, gradDist2, idx2, lo, hi, gradB, buf)
			}); err != nil {
				wg.Done()
				submitErr = err
				break
			}
		}
	}

	wg.Wait()

	for _, buf := range partB {
		if buf == nil {
			continue
		}
		if submitErr == nil {
			f32.AddInPlace(gradB, buf)
		}
		pool.PutFloat32(buf)
	}
	for _, buf := range partA {
		if buf == nil {
			continue
		}
		if submitErr == nil {
			f32.AddInPlace(gradA, buf)
		}
		pool.PutFloat32(buf)
	}

	return submitErr
}

// span is a half-open row range within one batch.
type span struct {
	batch int
	lo    int
	hi    int
}

// rowSpans splits batch*rows of work into contiguous per-batch row ranges of
// at least minRows rows, aiming for parts ranges overall. Ranges never cross
// a batch boundary and come out in ascending (batch, row) order.
func rowSpans(batch, rows, parts, minRows int) []span {
	total := batch * rows

	per := (total + parts - 1) / parts
	if per < minRows {
		per = minRows
	}
	if per > rows {
		per = rows
	}

	spans := make([]span, 0, batch*((rows+per-1)/per))
	for i := 0; i < batch; i++ {
		for lo := 0; lo < rows; lo += per {
			hi := lo + per
			if hi > rows {
				hi = rows
			}
			spans = append(spans, span{batch: i, lo: lo, hi: hi})
		}
	}

	return spans
}
