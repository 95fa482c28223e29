// Package logger provides structured logging utilities.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with run context helpers.
type Logger struct {
	*slog.Logger
}

// New creates a logger writing to stderr with the specified level and format.
func New(level, format string) *Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, level, format string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithRun returns a logger tagged with the run identifier.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{
		Logger: l.With("run_id", runID),
	}
}

// WithEpoch returns a logger tagged with the epoch number.
func (l *Logger) WithEpoch(epoch int) *Logger {
	return &Logger{
		Logger: l.With("epoch", epoch),
	}
}

// WithError returns a logger with error context.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.With("error", err.Error()),
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return NewWithWriter(io.Discard, "error", "text")
}

// Default returns the default logger.
func Default() *Logger {
	return New("info", "text")
}
