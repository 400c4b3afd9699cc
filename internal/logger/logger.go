package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

var (
	defaultLogger  *slog.Logger
	defaultHandler *Handler
	once           sync.Once
)

// Init initializes the global logger with timestamp precision to milliseconds.
// The minimum level can be raised via SetLevel.
func Init() {
	once.Do(func() {
		defaultHandler = NewHandler(os.Stdout)
		defaultLogger = slog.New(defaultHandler)
		slog.SetDefault(defaultLogger)
	})
}

// SetLevel sets the minimum level of the global logger.
func SetLevel(l slog.Level) {
	if defaultHandler != nil {
		defaultHandler.SetLevel(l)
	}
}

// Handler is a custom slog handler with precise timestamps and a
// configurable minimum level.
type Handler struct {
	out   io.Writer
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

// NewHandler creates a new handler writing to the given writer.
func NewHandler(out io.Writer) *Handler {
	return &Handler{out: out, level: slog.LevelDebug}
}

// SetLevel sets the minimum level the handler emits.
func (h *Handler) SetLevel(l slog.Level) {
	h.mu.Lock()
	h.level = l
	h.mu.Unlock()
}

// Enabled reports whether the given level is emitted.
func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return l >= h.level
}

// Handle formats and writes a log record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	// Format: 2024-01-15 14:30:45.123 [INF] message key=value
	ts := r.Time.Format("2006-01-02 15:04:05.000")
	level := levelString(r.Level)

	h.mu.Lock()
	defer h.mu.Unlock()

	fmt.Fprintf(h.out, "%s [%s] %s", ts, level, r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(h.out, " %s=%v", a.Key, a.Value)
	}

	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.out, " %s=%v", a.Key, a.Value)
		return true
	})

	fmt.Fprintln(h.out)

	return nil
}

// WithAttrs returns a new handler that prepends the given attributes.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()

	combined := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	combined = append(combined, h.attrs...)
	combined = append(combined, attrs...)

	return &Handler{out: h.out, level: h.level, attrs: combined}
}

// WithGroup returns the handler unchanged; groups are not used here.
func (h *Handler) WithGroup(name string) slog.Handler {
	return h
}

// levelString returns a short string for the log level.
func levelString(l slog.Level) string {
	switch l {
	case slog.LevelDebug:
		return "DBG"
	case slog.LevelInfo:
		return "INF"
	case slog.LevelWarn:
		return "WRN"
	case slog.LevelError:
		return "ERR"
	default:
		return "???"
	}
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return slog.Default().With(args...)
}

// Timed returns elapsed time since start for logging duration.
func Timed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}
