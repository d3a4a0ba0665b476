package chamfer

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    forwardCounter   prometheus.Counter
//	    forwardHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordForward(points int, duration time.Duration, err error) {
//	    p.forwardCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordForward is called after each forward matching pass.
	// points is the total number of rows matched (both directions),
	// duration is the time taken, err is nil if successful.
	RecordForward(points int, duration time.Duration, err error)

	// RecordBackward is called after each backward gradient pass.
	// points is the total number of rows scattered (both directions).
	RecordBackward(points int, duration time.Duration, err error)

	// RecordLoss is called after each loss reduction.
	RecordLoss(duration time.Duration, err error)

	// RecordDatasetLoad is called after each dataset load.
	// bytes is the on-store size of the loaded blob.
	RecordDatasetLoad(bytes int64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordForward(int, time.Duration, error)       {}
func (NoopMetricsCollector) RecordBackward(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordLoss(time.Duration, error)               {}
func (NoopMetricsCollector) RecordDatasetLoad(int64, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ForwardCount      atomic.Int64
	ForwardErrors     atomic.Int64
	ForwardPoints     atomic.Int64
	ForwardTotalNanos atomic.Int64

	BackwardCount      atomic.Int64
	BackwardErrors     atomic.Int64
	BackwardPoints     atomic.Int64
	BackwardTotalNanos atomic.Int64

	LossCount  atomic.Int64
	LossErrors atomic.Int64

	DatasetLoadCount  atomic.Int64
	DatasetLoadErrors atomic.Int64
	DatasetLoadBytes  atomic.Int64
}

// RecordForward implements MetricsCollector.
func (b *BasicMetricsCollector) RecordForward(points int, duration time.Duration, err error) {
	b.ForwardCount.Add(1)
	b.ForwardPoints.Add(int64(points))
	b.ForwardTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ForwardErrors.Add(1)
	}
}

// RecordBackward implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBackward(points int, duration time.Duration, err error) {
	b.BackwardCount.Add(1)
	b.BackwardPoints.Add(int64(points))
	b.BackwardTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.BackwardErrors.Add(1)
	}
}

// RecordLoss implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoss(duration time.Duration, err error) {
	b.LossCount.Add(1)
	if err != nil {
		b.LossErrors.Add(1)
	}
}

// RecordDatasetLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDatasetLoad(bytes int64, duration time.Duration, err error) {
	b.DatasetLoadCount.Add(1)
	b.DatasetLoadBytes.Add(bytes)
	if err != nil {
		b.DatasetLoadErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ForwardCount:      b.ForwardCount.Load(),
		ForwardErrors:     b.ForwardErrors.Load(),
		ForwardPoints:     b.ForwardPoints.Load(),
		ForwardAvgNanos:   avgNanos(b.ForwardTotalNanos.Load(), b.ForwardCount.Load()),
		BackwardCount:     b.BackwardCount.Load(),
		BackwardErrors:    b.BackwardErrors.Load(),
		BackwardPoints:    b.BackwardPoints.Load(),
		BackwardAvgNanos:  avgNanos(b.BackwardTotalNanos.Load(), b.BackwardCount.Load()),
		LossCount:         b.LossCount.Load(),
		LossErrors:        b.LossErrors.Load(),
		DatasetLoadCount:  b.DatasetLoadCount.Load(),
		DatasetLoadErrors: b.DatasetLoadErrors.Load(),
		DatasetLoadBytes:  b.DatasetLoadBytes.Load(),
	}
}

func avgNanos(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ForwardCount    int64
	ForwardErrors   int64
	ForwardPoints   int64
	ForwardAvgNanos int64

	BackwardCount    int64
	BackwardErrors   int64
	BackwardPoints   int64
	BackwardAvgNanos int64

	LossCount  int64
	LossErrors int64

	DatasetLoadCount  int64
	DatasetLoadErrors int64
	DatasetLoadBytes  int64
}
