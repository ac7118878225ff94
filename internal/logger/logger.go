package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	defaultLogger  *slog.Logger
	defaultHandler *Handler
	once           sync.Once
)

// Init initializes the global logger with timestamp precision to
// milliseconds. The default minimum level is INFO; SetLevel adjusts
// it after configuration is loaded.
func Init() {
	once.Do(func() {
		defaultHandler = NewHandler(os.Stdout)
		defaultLogger = slog.New(defaultHandler)
		slog.SetDefault(defaultLogger)
	})
}

// SetLevel changes the minimum level of the global logger.
// Accepts "debug", "info", "warn" or "error"; unknown names keep the
// current level and return an error.
func SetLevel(name string) error {
	level, err := parseLevel(name)
	if err != nil {
		return err
	}

	if defaultHandler != nil {
		defaultHandler.level.Set(level)
	}

	return nil
}

// parseLevel resolves a level name to a slog.Level.
func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", name)
	}
}

// Handler is a custom slog handler with precise timestamps and a
// mutable minimum level.
type Handler struct {
	out   io.Writer
	attrs []slog.Attr
	level slog.LevelVar
	mu    sync.Mutex
}

// NewHandler creates a new handler writing to the given writer.
func NewHandler(out io.Writer) *Handler {
	h := &Handler{out: out}
	h.level.Set(slog.LevelInfo)

	return h
}

// Enabled reports whether the level passes the minimum-level filter.
func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
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

// WithAttrs returns a new handler that prepends the given attributes
// to every record. The writer and level filter are shared.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	child := &Handler{out: h.out, attrs: append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...)}
	child.level.Set(h.level.Level())

	return child
}

// WithGroup returns the handler unchanged; groups are not used.
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
