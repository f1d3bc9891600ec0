package slog

import (
	"io"
	"log/slog"
	"os"

	"github.com/JulianoL13/doc-queue/internal/common/logs"
)

type Logger struct {
	logger *slog.Logger
}

func New(level slog.Level) *Logger {
	return NewWithWriter(os.Stdout, level)
}

func NewJSON(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		logger: slog.New(handler),
	}
}

// NewWithWriter builds a text logger on w; used when stdout belongs to the
// caller (tests, SSE tails).
func NewWithWriter(w io.Writer, level slog.Level) *Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		logger: slog.New(handler),
	}
}

func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

func (l *Logger) With(args ...any) logs.Logger {
	return &Logger{
		logger: l.logger.With(args...),
	}
}

var _ logs.Logger = (*Logger)(nil)
