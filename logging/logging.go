// Package logging provides slog-based structured logging helpers.
//
// Components attach themselves to a context with WithComponent; log calls
// then carry the component attribute automatically. The host application
// configures the default handler once at startup via Setup.
package logging

import (
	"context"
	"io"
	"log/slog"
	"time"
)

type contextKey struct{}

// Setup installs the default slog handler. Level "debug" enables debug
// output; anything else logs at info.
func Setup(w io.Writer, level string) {
	lvl := slog.LevelInfo
	if level == "debug" {
		lvl = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

// WithComponent returns a context whose logger carries a component attribute.
func WithComponent(ctx context.Context, component string) context.Context {
	logger := fromContext(ctx).With(slog.String("component", component))
	return context.WithValue(ctx, contextKey{}, logger)
}

func fromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// Debug logs at debug level using the context's logger.
func Debug(ctx context.Context, msg string, attrs ...any) {
	fromContext(ctx).DebugContext(ctx, msg, attrs...)
}

// Info logs at info level using the context's logger.
func Info(ctx context.Context, msg string, attrs ...any) {
	fromContext(ctx).InfoContext(ctx, msg, attrs...)
}

// Warn logs at warn level using the context's logger.
func Warn(ctx context.Context, msg string, attrs ...any) {
	fromContext(ctx).WarnContext(ctx, msg, attrs...)
}

// Error logs at error level using the context's logger.
func Error(ctx context.Context, msg string, attrs ...any) {
	fromContext(ctx).ErrorContext(ctx, msg, attrs...)
}

// LogDuration logs a message with a duration_ms attribute measured from start.
func LogDuration(ctx context.Context, level slog.Level, msg string, start time.Time, attrs ...any) {
	attrs = append(attrs, slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	fromContext(ctx).Log(ctx, level, msg, attrs...)
}
