// Package logging builds the slog loggers used across logwhisperer.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Service is attached to every record
const Service = "logwhisperer"

// Options selects the handler of a logger
type Options struct {
	Level  string
	Format string
	// Output defaults to stderr; stdout carries the report
	Output io.Writer
}

// New creates a structured logger with the service attribute set
func New(opts Options) *slog.Logger {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{
		Level: parseLogLevel(opts.Level),
	}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(output, handlerOpts)
	}

	return slog.New(handler).With("service", Service)
}

// WithComponent creates a logger with component context
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// parseLogLevel parses log level string
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
