// Package logging provides the file-backed debug log shared by tierci
// components.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	global   *DebugLogger
	globalMu sync.RWMutex
)

// SetGlobal installs the logger used by Debugf. Passing nil disables it.
func SetGlobal(l *DebugLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = l
}

// Debugf writes a message using the global logger.
// This is used by components that don't carry their own logger.
func Debugf(format string, args ...interface{}) {
	globalMu.RLock()
	l := global
	globalMu.RUnlock()

	if l != nil {
		l.Log(format, args...)
	}
}

// DebugLogger provides debug logging with thread-safe access.
type DebugLogger struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// NewDebugLogger creates a logger writing to the specified path.
// If the path is empty, returns a no-op logger.
// Creates parent directories if they don't exist.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return &DebugLogger{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := &DebugLogger{w: f, c: f}
	logger.Log("=== tierci debug log started at %s ===", time.Now().Format(time.RFC3339))
	return logger, nil
}

// NewWriterLogger creates a logger on an arbitrary writer.
func NewWriterLogger(w io.Writer) *DebugLogger {
	return &DebugLogger{w: w}
}

// NopLogger returns a no-op logger for testing or when logging is disabled.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes a timestamped message to the debug log.
// If the logger is nil or has no output, this is a no-op.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	if l == nil || l.w == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.w, "[%s] %s\n", time.Now().Format("15:04:05.000"), msg)
	if f, ok := l.w.(*os.File); ok {
		f.Sync()
	}
}

// Close closes the log file.
// Safe to call on nil logger or logger without file.
func (l *DebugLogger) Close() error {
	if l == nil || l.c == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.c.Close()
}
