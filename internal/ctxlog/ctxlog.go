// Package ctxlog carries a *slog.Logger through a context.Context so deep
// call chains (scheduler -> action kernel -> execution mode) don't need a
// logger threaded as an explicit parameter.
package ctxlog

import (
	"context"
	"log/slog"
)

type key struct{}

var loggerKey = key{}

// WithLogger returns a new context carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger embedded by WithLogger. Falls back to
// slog.Default() if none was attached; callers in tests and one-off tools
// need not thread a logger through a context they built by hand.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
