// Package logger sets up the structured slog logger used by every binary and
// carries a per-bar trace id through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Init creates the JSON logger for service on stdout and makes it the
// slog default.
func Init(service string, level slog.Level) *slog.Logger {
	logger := New(os.Stdout, service, level)
	slog.SetDefault(logger)
	return logger
}

// New creates a JSON logger writing to w with the service name attached.
func New(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler).With(slog.String("service", service))
}

// ParseLevel maps a LOG_LEVEL string onto a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID builds a trace ID for one bar: "{symbol}-{granularity}-{unix}".
func GenerateTraceID(symbol, granularity string, ts time.Time) string {
	return fmt.Sprintf("%s-%s-%d", symbol, granularity, ts.Unix())
}

// LogWithTrace returns slog attributes including the trace ID from context.
// Usage: log.Info("msg", logger.LogWithTrace(ctx)...)
func LogWithTrace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
