// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the daemon's structured key/value logger.
// Components obtain a scoped logger via WithComponent; the level can be
// raised or lowered at runtime after the configuration is loaded.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Level names accepted by Config and SetLevel.
const (
	LevelTrace = "trace"
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// slog has no trace level; trace sits one step below debug.
const slogLevelTrace = slog.LevelDebug - 4

// Config holds logger configuration.
type Config struct {
	Level  string
	Output io.Writer
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Logger is a leveled key/value logger.
type Logger struct {
	s   *slog.Logger
	lvl *slog.LevelVar
}

// New creates a new Logger from the given configuration.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	lvl := new(slog.LevelVar)
	lvl.Set(parseLevel(cfg.Level))

	h := slog.NewTextHandler(cfg.Output, &slog.HandlerOptions{Level: lvl})
	return &Logger{
		s:   slog.New(h),
		lvl: lvl,
	}
}

var (
	defaultOnce   sync.Once
	defaultLogger *Logger
)

// Default returns the process-wide logger, creating it on first use.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLogger = New(DefaultConfig())
	})
	return defaultLogger
}

// WithComponent returns a logger that tags every record with the component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		s:   l.s.With("component", name),
		lvl: l.lvl,
	}
}

// With returns a logger that carries the given key/value pairs on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		s:   l.s.With(args...),
		lvl: l.lvl,
	}
}

// SetLevel adjusts the minimum level at runtime. Unknown names fall back to info.
func (l *Logger) SetLevel(level string) {
	l.lvl.Set(parseLevel(level))
}

// Trace logs at trace level.
func (l *Logger) Trace(msg string, args ...any) {
	l.s.Log(context.Background(), slogLevelTrace, msg, args...)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) {
	l.s.Debug(msg, args...)
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) {
	l.s.Info(msg, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.s.Warn(msg, args...)
}

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) {
	l.s.Error(msg, args...)
}

// Writer returns an io.Writer that logs each write as a single record at the
// given level, prefixed with the supplied key/value pairs. Hook process output
// is redirected through this.
func (l *Logger) Writer(level string, args ...any) io.Writer {
	return &levelWriter{l: l.With(args...), level: parseLevel(level)}
}

type levelWriter struct {
	l     *Logger
	level slog.Level
}

func (w *levelWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg != "" {
		w.l.s.Log(context.Background(), w.level, msg)
	}
	return len(p), nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case LevelTrace:
		return slogLevelTrace
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether s names a known log level.
func ValidLevel(s string) bool {
	switch strings.ToLower(s) {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}
