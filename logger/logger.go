// Package logger provides structured logging for the call runtime.
//
// It wraps Go's standard log/slog with a process-wide default logger,
// environment-driven level and format selection, and a helper for
// deriving per-component loggers carrying a fixed "component" attribute.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// DefaultLogger is the global structured logger instance.
// It is safe for concurrent use and initialized at info level by default.
var DefaultLogger *slog.Logger

func init() {
	DefaultLogger = slog.New(newHandler(levelFromEnv(), os.Getenv("LOG_FORMAT")))
}

// levelFromEnv reads LOG_LEVEL and maps it to a slog.Level.
func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
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

func newHandler(level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

// SetLevel changes the logging level for all subsequent log operations.
// Safe for concurrent use as it replaces the entire logger instance.
func SetLevel(level slog.Level) {
	DefaultLogger = slog.New(newHandler(level, os.Getenv("LOG_FORMAT")))
}

// For returns a logger scoped to the given component name.
// Component names use dot notation (e.g. "pipeline", "server.twilio").
func For(component string) *slog.Logger {
	return DefaultLogger.With("component", component)
}

// Info logs an informational message with structured key-value attributes.
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// Debug logs a debug-level message with structured attributes.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// Warn logs a warning message with structured attributes.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// Error logs an error message with structured attributes.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}
