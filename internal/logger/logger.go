// Package logger provides leveled logging for casewatch.
// Warnings and errors are always written to stderr; debug and info messages
// only appear when verbose mode is enabled via the --verbose flag.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
	base              = newLogger(output)
)

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Timestamps make CLI output and tests noisy.
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer for logs.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	base = newLogger(w)
}

// Debug logs a formatted message if verbose mode is enabled.
func Debug(format string, args ...any) {
	log(slog.LevelDebug, true, format, args...)
}

// Info logs a formatted message if verbose mode is enabled.
func Info(format string, args ...any) {
	log(slog.LevelInfo, true, format, args...)
}

// Warn logs a formatted warning.
func Warn(format string, args ...any) {
	log(slog.LevelWarn, false, format, args...)
}

// Error logs a formatted error.
func Error(format string, args ...any) {
	log(slog.LevelError, false, format, args...)
}

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		fmt.Fprintf(output, "\n=== %s ===\n", name)
	}
}

func log(level slog.Level, verboseOnly bool, format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if verboseOnly && !verbose {
		return
	}
	base.Log(context.Background(), level, fmt.Sprintf(format, args...))
}
