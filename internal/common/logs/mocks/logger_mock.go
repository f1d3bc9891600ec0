package mocks

import (
	"fmt"
	"sync"

	"github.com/JulianoL13/doc-queue/internal/common/logs"
)

type LoggerMock struct{}

func (LoggerMock) Debug(msg string, args ...any) {}
func (LoggerMock) Info(msg string, args ...any)  {}
func (LoggerMock) Warn(msg string, args ...any)  {}
func (LoggerMock) Error(msg string, args ...any) {}
func (LoggerMock) With(args ...any) logs.Logger  { return LoggerMock{} }

// RecordingLogger keeps every Warn/Error line so tests can assert that an
// unobserved failure still surfaced somewhere.
type RecordingLogger struct {
	mu     sync.Mutex
	Errors []string
	Warns  []string
}

func (r *RecordingLogger) Debug(msg string, args ...any) {}
func (r *RecordingLogger) Info(msg string, args ...any)  {}

func (r *RecordingLogger) Warn(msg string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warns = append(r.Warns, fmt.Sprint(append([]any{msg}, args...)...))
}

func (r *RecordingLogger) Error(msg string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, fmt.Sprint(append([]any{msg}, args...)...))
}

func (r *RecordingLogger) With(args ...any) logs.Logger { return r }

func (r *RecordingLogger) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Errors)
}

var (
	_ logs.Logger = LoggerMock{}
	_ logs.Logger = (*RecordingLogger)(nil)
)
