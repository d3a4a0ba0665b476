// Package compute runs the matching kernels. Two interchangeable backends
// exist side by side: Serial stays on the calling goroutine, Parallel spreads
// row ranges over a fixed worker pool. Both produce identical match indices
// and distances; gradients agree up to floating-point summation order.
package compute

import (
	"context"
	"errors"
	"runtime"
)

// ErrClosed is returned when work reaches a closed backend.
var ErrClosed = errors.New("compute: backend closed")

// Backend executes nearest-neighbor matching and gradient scatter over flat
// row-major float32 buffers. Implementations are safe for concurrent use; the
// two matching directions of one step are routinely issued in parallel.
//
// Shape checking happens at the API boundary, backends trust their inputs.
// When a call returns an error, its output buffers may be partially written
// and must be discarded.
type Backend interface {
	// Match fills dist[i*sourceCount+j] and idx[i*sourceCount+j] with the
	// squared distance to, and row of, the nearest target for source row j
	// of batch i. src holds batch*sourceCount rows, tgt batch*targetCount.
	Match(ctx context.Context, batch, sourceCount, targetCount int, src, tgt []float32, dist []float32, idx []int32) error

	// Scatter accumulates both directional gradient passes into gradA and
	// gradB. The gradient buffers must arrive zeroed; every update is
	// additive.
	Scatter(ctx context.Context, batch, n, m int, a, b []float32, gradDist1 []float32, idx1 []int32, gradDist2 []float32, idx2 []int32, gradA, gradB []float32) error

	// Name identifies the backend in logs and metrics.
	Name() string

	// Close releases backend resources. A closed backend rejects further
	// work with ErrClosed.
	Close() error
}

// Auto picks the backend suited to the host: Parallel when more than one CPU
// is available, Serial otherwise.
func Auto() Backend {
	if runtime.GOMAXPROCS(0) > 1 {
		return NewParallel()
	}
	return NewSerial()
}
