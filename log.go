package nativebridge

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logMu  sync.RWMutex
	logger = zap.NewNop()
)

// Logger returns the bridge-wide logger. It is a no-op logger until the
// embedding application installs one with SetLogger.
func Logger() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

// SetLogger installs the logger used by every bridge package. Passing nil
// restores the no-op logger.
func SetLogger(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}
