package chamfer

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with chamfer-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithBackend adds a backend name field to the logger.
func (l *Logger) WithBackend(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("backend", name),
	}
}

// WithShape adds the batch and per-set point counts to the logger.
func (l *Logger) WithShape(batch, n, m int) *Logger {
	return &Logger{
		Logger: l.Logger.With("batch", batch, "n", n, "m", m),
	}
}

// LogForward logs a forward matching pass.
func (l *Logger) LogForward(ctx context.Context, batch, n, m int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "forward failed",
			"batch", batch,
			"n", n,
			"m", m,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "forward completed",
			"batch", batch,
			"n", n,
			"m", m,
			"duration", duration,
		)
	}
}

// LogBackward logs a backward gradient pass.
func (l *Logger) LogBackward(ctx context.Context, batch, n, m int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "backward failed",
			"batch", batch,
			"n", n,
			"m", m,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "backward completed",
			"batch", batch,
			"n", n,
			"m", m,
			"duration", duration,
		)
	}
}

// LogLoss logs a loss reduction.
func (l *Logger) LogLoss(ctx context.Context, reduction string, loss float32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "loss failed",
			"reduction", reduction,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "loss computed",
			"reduction", reduction,
			"loss", loss,
		)
	}
}

// LogDatasetLoad logs a dataset load.
func (l *Logger) LogDatasetLoad(ctx context.Context, name string, bytes int64, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "dataset load failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "dataset loaded",
			"name", name,
			"bytes", bytes,
			"duration", duration,
		)
	}
}
