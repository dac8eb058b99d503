// Package logging provides structured logging for typserve.
//
// All output goes to stderr because stdout carries the LSP protocol
// stream. Loggers are slog-based; each component (router, compile
// actor, render actor, watcher) gets a scoped logger carrying a
// "component" attribute.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the structured logger used throughout typserve.
type Logger = slog.Logger

// Config controls logger construction.
type Config struct {
	// Level is the minimum severity: "debug", "info", "warn", "error".
	Level string

	// JSON selects JSON output instead of logfmt-style text.
	JSON bool

	// Output overrides the destination. Defaults to stderr.
	Output io.Writer
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{Level: "info"}
}

// New creates a root logger from the configuration.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h)
}

// Component returns a child logger scoped to a named component.
func Component(l *Logger, name string) *Logger {
	if l == nil {
		return Discard()
	}
	return l.With("component", name)
}

// Discard returns a logger that drops all records. Used in tests and
// as a nil-safe fallback.
func Discard() *Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
