// Package logging provides a configured slog logger with:
// - TTY detection for human-readable vs JSON output
// - LOG_FORMAT env var override (text/json)
// - LOG_LEVEL env var (debug/info/warn/error)
// - context helpers that stamp log lines with the marketplace being crawled
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/deltaguita/market-tracker/internal/models"
)

// ContextKey is a distinct type for context values to avoid collisions.
type ContextKey string

// SourceKey carries the marketplace identifier of the current run.
const SourceKey ContextKey = "log_source"

// New creates a new configured logger.
// Format is determined by:
// 1. LOG_FORMAT env var (text/json)
// 2. TTY detection (text for TTY, JSON otherwise)
// Level is determined by LOG_LEVEL env var (debug/info/warn/error, default: info)
func New() *slog.Logger {
	var handler slog.Handler
	logFormat := os.Getenv("LOG_FORMAT")
	useText := logFormat == "text" || (logFormat == "" && isatty(os.Stdout))

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(os.Getenv("LOG_LEVEL")),
	}

	if useText {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// SetDefault creates a new logger and sets it as the default slog logger.
// Returns the created logger for additional use.
func SetDefault() *slog.Logger {
	logger := New()
	slog.SetDefault(logger)
	return logger
}

// WithSource returns a context carrying the marketplace identifier.
func WithSource(ctx context.Context, source models.Source) context.Context {
	return context.WithValue(ctx, SourceKey, source)
}

// GetSource returns the marketplace identifier from the context, or "" when
// none is set.
func GetSource(ctx context.Context) models.Source {
	if ctx == nil {
		return ""
	}
	if source, ok := ctx.Value(SourceKey).(models.Source); ok {
		return source
	}
	return ""
}

// FromContext returns logger with the context's source attached as an
// attribute, or logger unchanged when the context carries none.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if source := GetSource(ctx); source != "" {
		return logger.With("source", string(source))
	}
	return logger
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// isatty returns true if the file is a terminal.
func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
