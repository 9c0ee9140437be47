// Package logger provides structured logging setup using slog.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// invocationIDKey is the context key for per-invocation correlation IDs.
// Every CLI run gets one so a detached child's log lines can be tied back to
// the invocation that spawned it.
type invocationIDKey struct{}

// New creates a structured JSON logger on stderr. Stdout belongs to command
// output.
func New(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// WithInvocationID returns a new context carrying the given invocation ID.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationIDKey{}, id)
}

// InvocationIDFromContext extracts the invocation ID from the context.
func InvocationIDFromContext(ctx context.Context) string {
	if v := ctx.Value(invocationIDKey{}); v != nil {
		return v.(string)
	}
	return ""
}

// FromContext returns a logger with context fields (invocation ID) attached.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if id := InvocationIDFromContext(ctx); id != "" {
		return base.With("invocation_id", id)
	}
	return base
}
