// Package logging provides structured logging for the cfgsync application.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports both text and JSON
// output formats, configurable log levels, and component-based loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format for machines
//
//	// Get a component logger
//	log := logging.Component("sync")
//	log.Info("change list ready", "collection", c, "ignored", n)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// Init initializes the global logger with the specified level and format.
// Logs go to stderr so command output on stdout stays machine readable.
func Init(level slog.Level, jsonFormat bool) {
	InitWriter(os.Stderr, level, jsonFormat)
}

// InitWriter initializes the global logger writing to w.
func InitWriter(w io.Writer, level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel maps a level name to a slog.Level. Unknown names yield info.
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

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Component loggers are usually created at package init time, before Init
// runs, so they delegate to whatever handler is current when they log.
func Component(name string) *slog.Logger {
	return slog.New(&deferredHandler{attrs: []slog.Attr{slog.String("component", name)}})
}

// WithContext returns a logger that includes run-scoped context values.
func WithContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = current()
	}

	logger := base
	if runID, ok := ctx.Value(contextKeyRunID).(string); ok {
		logger = logger.With("run_id", runID)
	}
	if collection, ok := ctx.Value(contextKeyCollection).(string); ok {
		logger = logger.With("collection", collection)
	}

	return logger
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyRunID contextKey = iota
	contextKeyCollection
)

// ContextWithRunID adds a synchronization run ID to the context for logging.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, contextKeyRunID, runID)
}

// ContextWithCollection adds a storage collection to the context for logging.
func ContextWithCollection(ctx context.Context, collection string) context.Context {
	return context.WithValue(ctx, contextKeyCollection, collection)
}

// RunID extracts the run ID from ctx, or "" when absent.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRunID).(string)
	return id
}

func current() *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger
}

// =============================================================================
// Deferred Handler
// =============================================================================

// deferredHandler resolves the global handler on every call so loggers
// created before Init still honour the configured level and format.
type deferredHandler struct {
	attrs  []slog.Attr
	groups []string
}

func (h *deferredHandler) resolve() slog.Handler {
	handler := current().Handler()
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	for _, g := range h.groups {
		handler = handler.WithGroup(g)
	}
	return handler
}

func (h *deferredHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return current().Handler().Enabled(ctx, level)
}

func (h *deferredHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h *deferredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &deferredHandler{attrs: merged, groups: h.groups}
}

func (h *deferredHandler) WithGroup(name string) slog.Handler {
	groups := append(append([]string(nil), h.groups...), name)
	return &deferredHandler{attrs: h.attrs, groups: groups}
}

// =============================================================================
// Convenience Functions
// =============================================================================

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	current().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	current().Info(msg, args...)
}

// Warn logs at warning level.
func Warn(msg string, args ...any) {
	current().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	current().Error(msg, args...)
}
