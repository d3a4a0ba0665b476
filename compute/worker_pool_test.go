package compute

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsTasks(t *testing.T) {
	wp := NewWorkerPool(4)
	defer wp.Close()

	const tasks = 100

	var (
		counter atomic.Int64
		wg      sync.WaitGroup
	)

	ctx := context.Background()
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		require.NoError(t, wp.Submit(ctx, func() {
			defer wg.Done()
			counter.Add(1)
		}))
	}

	wg.Wait()
	assert.Equal(t, int64(tasks), counter.Load())
}

func TestWorkerPoolDefaultSize(t *testing.T) {
	wp := NewWorkerPool(0)
	defer wp.Close()

	assert.Greater(t, wp.numWorkers, 0)
}

func TestWorkerPoolSubmitAfterClose(t *testing.T) {
	wp := NewWorkerPool(2)
	wp.Close()

	err := wp.Submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, wp.Closed())
}

func TestWorkerPoolCloseIdempotent(t *testing.T) {
	wp := NewWorkerPool(2)
	wp.Close()
	wp.Close() // must not panic
}

func TestWorkerPoolCloseDrains(t *testing.T) {
	wp := NewWorkerPool(1)

	var counter atomic.Int64

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, wp.Submit(ctx, func() {
			counter.Add(1)
		}))
	}

	// Close waits for the queue to drain before workers exit.
	wp.Close()
	assert.Equal(t, int64(10), counter.Load())
}

func TestWorkerPoolSubmitCancelled(t *testing.T) {
	wp := NewWorkerPool(1)
	defer wp.Close()

	// Occupy the worker, then fill the queue so the next Submit blocks.
	started := make(chan struct{})
	block := make(chan struct{})
	ctx := context.Background()
	require.NoError(t, wp.Submit(ctx, func() {
		close(started)
		<-block
	}))
	<-started
	for i := 0; i < cap(wp.workCh); i++ {
		require.NoError(t, wp.Submit(ctx, func() {}))
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	err := wp.Submit(cancelCtx, func() {})
	assert.ErrorIs(t, err, context.Canceled)

	close(block)
}
