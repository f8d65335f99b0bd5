package common

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Fields represents structured logging fields.
type Fields map[string]any

// NewLogger builds a slog logger writing to w in the given format ("json" or "text").
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	return slog.New(newFormatHandler(w, level, format))
}

func newFormatHandler(w io.Writer, level slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// ReloadableHandler is a slog.Handler whose level and format can change after
// loggers have been derived from it. Loggers built with With or WithGroup
// keep following later reloads.
type ReloadableHandler struct {
	state *reloadState
	ops   []func(slog.Handler) slog.Handler
}

type reloadState struct {
	w     io.Writer
	inner atomic.Pointer[slog.Handler]
	level slog.LevelVar
}

// NewReloadableHandler creates a handler writing to w.
func NewReloadableHandler(w io.Writer, level slog.Level, format string) *ReloadableHandler {
	h := &ReloadableHandler{state: &reloadState{w: w}}
	h.Reload(level, format)
	return h
}

// Reload switches the level and format for every logger sharing this handler.
func (h *ReloadableHandler) Reload(level slog.Level, format string) {
	h.state.level.Set(level)
	inner := newFormatHandler(h.state.w, &h.state.level, format)
	h.state.inner.Store(&inner)
}

// Enabled reports whether level passes the current threshold.
func (h *ReloadableHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.state.level.Level()
}

// Handle replays the attributes and groups of this handler onto the current format.
func (h *ReloadableHandler) Handle(ctx context.Context, r slog.Record) error {
	inner := *h.state.inner.Load()
	for _, op := range h.ops {
		inner = op(inner)
	}
	return inner.Handle(ctx, r)
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *ReloadableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(inner slog.Handler) slog.Handler { return inner.WithAttrs(attrs) })
}

// WithGroup returns a handler that nests later attributes under name.
func (h *ReloadableHandler) WithGroup(name string) slog.Handler {
	return h.with(func(inner slog.Handler) slog.Handler { return inner.WithGroup(name) })
}

func (h *ReloadableHandler) with(op func(slog.Handler) slog.Handler) *ReloadableHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return &ReloadableHandler{state: h.state, ops: append(ops, op)}
}

var (
	defaultHandler   *ReloadableHandler
	defaultHandlerMu sync.Mutex
)

// SetupLogger configures the global logger. The first call installs a
// reloadable stderr handler as slog's default; later calls reload it, so
// loggers already handed to components pick up the new level and format.
func SetupLogger(level slog.Level, format string) *slog.Logger {
	defaultHandlerMu.Lock()
	defer defaultHandlerMu.Unlock()

	if defaultHandler == nil {
		defaultHandler = NewReloadableHandler(os.Stderr, level, format)
	} else {
		defaultHandler.Reload(level, format)
	}
	if slog.Default().Handler() != slog.Handler(defaultHandler) {
		slog.SetDefault(slog.New(defaultHandler))
	}
	return slog.Default()
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, name)
	}
}

// MaskMSISDN hides the subscriber part of a phone number for logs.
func MaskMSISDN(msisdn string) string {
	const visible = 6
	if len(msisdn) <= visible {
		return strings.Repeat("*", len(msisdn))
	}
	return msisdn[:visible] + strings.Repeat("*", len(msisdn)-visible)
}

// LogError logs an error with additional context. A nil logger uses slog's default.
func LogError(logger *slog.Logger, err error, msg string, fields Fields) {
	attrs := make([]slog.Attr, 0, len(fields)+1)
	attrs = append(attrs, slog.String("error", err.Error()))
	logFields(logger, slog.LevelError, msg, fields, attrs)
}

// LogInfo logs an info message with fields. A nil logger uses slog's default.
func LogInfo(logger *slog.Logger, msg string, fields Fields) {
	logFields(logger, slog.LevelInfo, msg, fields, make([]slog.Attr, 0, len(fields)))
}

func logFields(logger *slog.Logger, level slog.Level, msg string, fields Fields, attrs []slog.Attr) {
	if logger == nil {
		logger = slog.Default()
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}
