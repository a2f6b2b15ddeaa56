package util

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

var (
	logger      atomic.Pointer[slog.Logger]
	defaultOnce sync.Once
	verbose     atomic.Bool
)

// InitLogger initializes the global slog logger with appropriate level
func InitLogger(v bool) {
	verbose.Store(v)

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo, // Default level
	}

	if v {
		opts.Level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	l := slog.New(handler)
	logger.Store(l)
	slog.SetDefault(l)
}

// GetLogger returns the configured logger instance. It is safe to call
// from any goroutine, before or after InitLogger.
func GetLogger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	defaultOnce.Do(func() {
		// Fallback initialization, unless InitLogger won the race
		if logger.Load() == nil {
			InitLogger(IsVerbose())
		}
	})
	return logger.Load()
}

// ComponentLogger returns the global logger tagged with a component name.
func ComponentLogger(component string) *slog.Logger {
	return GetLogger().With("component", component)
}

// IsVerbose reports whether verbose mode was requested, either through
// InitLogger or a --verbose flag on the command line.
func IsVerbose() bool {
	if verbose.Load() {
		return true
	}
	for _, arg := range os.Args {
		if arg == "--verbose" {
			return true
		}
	}
	return false
}
