// Package nslog wraps log/slog with the structured-logging conventions
// the rest of nserver shares: one Logger per server/config, a global
// default for package-level convenience calls, and With* helpers for
// attaching request-scoped fields.
package nslog

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Config controls how a Logger is built.
type Config struct {
	Level     string // "debug", "info", "warn", "error"
	Format    string // "json" or "text"
	Output    string // "stdout", "stderr", or "file"
	FilePath  string // used when Output == "file"
	AddSource bool
}

// DefaultConfig returns the same defaults NewDefault uses.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", Output: "stdout"}
}

// Logger wraps slog.Logger with nserver-specific construction.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from cfg.
func New(cfg Config) (*Logger, error) {
	var output io.Writer
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "file":
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, err
		}
		output = f
	default:
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{Logger: slog.New(handler)}, nil
}

// NewDefault builds a Logger with sensible defaults (info level, text
// format, stdout) for use before configuration has been loaded.
func NewDefault() *Logger {
	l, _ := New(DefaultConfig())
	return l
}

// WithField returns a Logger with an additional structured field
// attached to every subsequent record.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{Logger: l.Logger.With(key, value)}
}

// WithFields returns a Logger with additional structured fields
// attached to every subsequent record.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.Logger.With(args...)}
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

var global = NewDefault()

// SetGlobal replaces the package-level default Logger used by Info,
// Warn, Error, Debug, and their *Context variants.
func SetGlobal(l *Logger) {
	global = l
	slog.SetDefault(l.Logger)
}

// Global returns the current package-level default Logger.
func Global() *Logger { return global }

func Debug(msg string, args ...any) { global.Debug(msg, args...) }
func Info(msg string, args ...any)  { global.Info(msg, args...) }
func Warn(msg string, args ...any)  { global.Warn(msg, args...) }
func Error(msg string, args ...any) { global.Error(msg, args...) }

func DebugContext(ctx context.Context, msg string, args ...any) { global.DebugContext(ctx, msg, args...) }
func InfoContext(ctx context.Context, msg string, args ...any)  { global.InfoContext(ctx, msg, args...) }
func WarnContext(ctx context.Context, msg string, args ...any)  { global.WarnContext(ctx, msg, args...) }
func ErrorContext(ctx context.Context, msg string, args ...any) { global.ErrorContext(ctx, msg, args...) }
