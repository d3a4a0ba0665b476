package compute

import (
	"context"

	"github.com/hupe1980/chamfer/internal/kernel"
)

// Serial runs every kernel on the calling goroutine, one batch at a time. It
// is the reference backend: Parallel must agree with it bit for bit on match
// output.
type Serial struct{}

var _ Backend = (*Serial)(nil)

// NewSerial creates the serial backend.
func NewSerial() *Serial { return &Serial{} }

// Name implements Backend.
func (s *Serial) Name() string { return "serial" }

// Close is a no-op; Serial holds no resources.
func (s *Serial) Close() error { return nil }

// Match implements Backend. Cancellation is observed between batches.
func (s *Serial) Match(ctx context.Context, batch, sourceCount, targetCount int, src, tgt []float32, dist []float32, idx []int32) error {
	for i := 0; i < batch; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		kernel.MatchSpan(
			src[i*sourceCount*kernel.Width:(i+1)*sourceCount*kernel.Width],
			tgt[i*targetCount*kernel.Width:(i+1)*targetCount*kernel.Width],
			0, sourceCount,
			dist[i*sourceCount:(i+1)*sourceCount],
			idx[i*sourceCount:(i+1)*sourceCount],
		)
	}
	return nil
}

// Scatter implements Backend. Cancellation is observed between batches.
func (s *Serial) Scatter(ctx context.Context, batch, n, m int, a, b []float32, gradDist1 []float32, idx1 []int32, gradDist2 []float32, idx2 []int32, gradA, gradB []float32) error {
	for i := 0; i < batch; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		kernel.ScatterBatch(
			a[i*n*kernel.Width:(i+1)*n*kernel.Width],
			b[i*m*kernel.Width:(i+1)*m*kernel.Width],
			gradDist1[i*n:(i+1)*n], idx1[i*n:(i+1)*n],
			gradDist2[i*m:(i+1)*m], idx2[i*m:(i+1)*m],
			gradA[i*n*kernel.Width:(i+1)*n*kernel.Width],
			gradB[i*m*kernel.Width:(i+1)*m*kernel.Width],
		)
	}
	return nil
}
