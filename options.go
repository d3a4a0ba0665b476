package chamfer

import (
	"log/slog"

	"github.com/hupe1980/chamfer/compute"
)

type options struct {
	backend          compute.Backend
	reduction        Reduction
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Matcher constructor behavior.
type Option func(*options)

// WithBackend configures the execution backend.
//
// A backend passed here is owned by the caller and is not closed by
// Matcher.Close, so it can be shared between matchers. If no backend is
// configured, the Matcher creates (and owns) one suited to the host.
func WithBackend(b compute.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithReduction configures how Loss and LossBackward collapse the two
// directional distance fields into a scalar. Default: ReductionSum.
func WithReduction(r Reduction) Option {
	return func(o *options) {
		o.reduction = r
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &chamfer.BasicMetricsCollector{}
//	m, _ := chamfer.New(chamfer.WithMetricsCollector(metrics))
//	// ... use m ...
//	stats := metrics.GetStats()
//	fmt.Printf("Forwards: %d, Avg latency: %dns\n", stats.ForwardCount, stats.ForwardAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := chamfer.NewJSONLogger(slog.LevelInfo)
//	m, _ := chamfer.New(chamfer.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		reduction:        ReductionSum,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
