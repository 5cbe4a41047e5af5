// Package logging configures the process-wide structured logger.
//
// Every binary entrypoint calls Setup exactly once before any other
// package logs. Components derive scoped loggers with the With*
// helpers so that job and plugin identifiers are queryable fields
// rather than free text.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger. The level defaults to INFO
// when the supplied name is unknown. Format "text" selects the
// human-oriented handler; anything else emits JSON lines.
func Setup(level, format string) {
	once.Do(func() {
		logger = build(os.Stdout, level, format)
		slog.SetDefault(logger)
	})
}

func build(w io.Writer, level, format string) *slog.Logger {
	var l slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		l = slog.LevelDebug
	case "WARN":
		l = slog.LevelWarn
	case "ERROR":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: l}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Get returns the configured logger, initializing a default one if
// Setup has not been called yet.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO", "json")
	}
	return logger
}

// WithComponent returns a logger tagged with the component field.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithJob returns a logger tagged with the job_id field.
func WithJob(id string) *slog.Logger {
	return Get().With(slog.String("job_id", id))
}

// WithPlugin returns a logger tagged with the plugin field.
func WithPlugin(id string) *slog.Logger {
	return Get().With(slog.String("plugin", id))
}
