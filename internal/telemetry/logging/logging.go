// Package logging carries a zerolog.Logger through a context.Context, the
// way every other layer in this module expects to find one.
package logging

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

type loggerContextKey struct {
	name string
}

var loggerCtxKey = &loggerContextKey{"logger"}

// NewLogger creates a base logger for the given component and stores it in
// the returned context.
func NewLogger(ctx context.Context, component string) (context.Context, zerolog.Logger) {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", component).Logger()
	ctx = NewContextWithLogger(ctx, logger)
	return ctx, logger
}

// NewContextWithLogger stores logger in a child of ctx.
func NewContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, logger)
}

// GetLoggerFromContext returns the logger stored in ctx, or the global
// zerolog logger if none was stored.
func GetLoggerFromContext(ctx context.Context) zerolog.Logger {
	logger, ok := ctx.Value(loggerCtxKey).(zerolog.Logger)
	if !ok {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return logger
}
