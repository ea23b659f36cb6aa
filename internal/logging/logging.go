package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Logger writes to stdout and, when configured, a log file. Debug output is
// gated behind the debug flag so routine traffic stays quiet in production.
type Logger struct {
	mu      sync.Mutex
	debug   bool
	logFile *os.File
}

// New sets up logging to stdout plus an optional log file. An empty path
// disables the file sink. Must be called before any component starts.
func New(path string, debug bool) (*Logger, error) {
	l := &Logger{debug: debug}

	if path == "" {
		log.SetOutput(os.Stdout)
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	l.logFile = f
	log.SetOutput(io.MultiWriter(os.Stdout, f))

	return l, nil
}

// Printf logs unconditionally.
func (l *Logger) Printf(format string, args ...interface{}) {
	log.Printf(format, args...)
}

// Debugf logs only when debug mode is enabled.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l == nil || !l.debug {
		return
	}
	log.Printf("DEBUG: "+format, args...)
}

// Debug reports whether debug mode is enabled.
func (l *Logger) Debug() bool {
	return l != nil && l.debug
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}

// Mask redacts a secret for log output, keeping only the last 4 characters.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
