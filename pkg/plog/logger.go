package plog

import (
	"context"
	"io"
	"log/slog"
)

// Logger is a levelled logger handed to components so that tests can capture
// their output without touching global state. A nil *Logger, or one returned
// by Default, writes through the package-level logger.
type Logger struct {
	l     *slog.Logger
	attrs []any
}

// New returns a Logger writing text records at or above level to w.
func New(w io.Writer, level slog.Leveler) *Logger {
	return &Logger{l: slog.New(newTextHandler(w, level))}
}

// Default returns a Logger backed by the package-level logger, so SetOutput,
// SetLevel and OpenLogFile all apply to it.
func Default() *Logger {
	return &Logger{}
}

// With returns a Logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	if l == nil {
		return &Logger{attrs: args}
	}
	next := &Logger{l: l.l}
	next.attrs = append(append([]any{}, l.attrs...), args...)
	return next
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	var base *slog.Logger
	if l != nil && l.l != nil {
		base = l.l
	} else {
		if quietMode.Load() && (level == LevelInfo || level == LevelNotice) {
			return
		}
		base = current()
	}
	if l != nil && len(l.attrs) > 0 {
		args = append(append([]any{}, l.attrs...), args...)
	}
	base.Log(context.Background(), level, msg, args...)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }

// Notice logs a notice message.
func (l *Logger) Notice(msg string, args ...any) { l.log(LevelNotice, msg, args...) }

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) { l.log(LevelInfo, msg, args...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) { l.log(LevelWarn, msg, args...) }

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }
