// Package log provides the engine's package-level structured logger: a thin
// wrapper around *zap.SugaredLogger, mirroring the teacher's pkg/common/log
// usage (printf-style Warn/Info/Error/Debug calls) in pkg/wal/wal.go.
package log

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger = defaultLogger()
)

func defaultLogger() *zap.SugaredLogger {
	z, err := zap.NewProduction()
	if err != nil {
		z = zap.NewExample()
	}
	return z.Sugar()
}

// SetLogger swaps the package-level logger, letting tests install a no-op
// or observed logger without touching call sites.
func SetLogger(l *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debug logs at debug level with printf-style formatting.
func Debug(format string, args ...interface{}) { current().Debugf(format, args...) }

// Info logs at info level with printf-style formatting.
func Info(format string, args ...interface{}) { current().Infof(format, args...) }

// Warn logs at warn level with printf-style formatting.
func Warn(format string, args ...interface{}) { current().Warnf(format, args...) }

// Error logs at error level with printf-style formatting.
func Error(format string, args ...interface{}) { current().Errorf(format, args...) }

// Sync flushes the current logger's buffered entries.
func Sync() error { return current().Sync() }
