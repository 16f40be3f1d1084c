package msipc

import (
	"sync"

	"go.uber.org/zap"
)

// DefaultDLL is the library loaded when Config.DLLPath is empty.
const DefaultDLL = "msipc.dll"

// Config holds configuration for Open.
type Config struct {
	// DLLPath is the path or name of the RMS client library.
	DLLPath string
}

func (c *Config) dllPath() string {
	if c == nil || c.DLLPath == "" {
		return DefaultDLL
	}
	return c.DLLPath
}

var (
	logger   *zap.Logger
	loggerMu sync.RWMutex
)

// Logger returns the package logger. It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// SetLogger sets the logger used by engines opened afterwards.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l == nil {
		logger = nil
		return
	}
	logger = l.Named("msipc")
}
