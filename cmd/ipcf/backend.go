package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/config"
	"github.com/wippyai/irm-fileapi/engine"
	"github.com/wippyai/irm-fileapi/msipc"
)

func openEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ipcf.Engine, error) {
	if err := cfg.Ready(); err != nil {
		return nil, err
	}
	switch cfg.Engine.Backend {
	case config.BackendMSIPC:
		return msipc.Open(&msipc.Config{DLLPath: cfg.Engine.DLLPath})

	case config.BackendWasm:
		wasm, err := os.ReadFile(cfg.Engine.WasmPath)
		if err != nil {
			return nil, fmt.Errorf("read engine module: %w", err)
		}
		mount := cfg.Engine.MountDir
		if mount != "" {
			if mount, err = filepath.Abs(mount); err != nil {
				return nil, err
			}
		}
		start := time.Now()
		e, err := engine.Load(ctx, wasm, &engine.Config{
			Env:              cfg.Engine.Env,
			MountDir:         mount,
			CacheDir:         cfg.Engine.CacheDir,
			MemoryLimitPages: cfg.Engine.MemoryLimitPages,
		})
		if err != nil {
			return nil, err
		}
		logger.Debug("engine ready",
			zap.String("module", cfg.Engine.WasmPath),
			zap.Duration("elapsed", time.Since(start)))
		return e, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Engine.Backend)
	}
}

// newLogger builds the process logger. Output goes to stderr; a terminal gets
// colored console output, anything else gets the configured encoding.
func newLogger(lc config.LogConfig, verbose bool) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}

	zc := zap.NewProductionConfig()
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.Sampling = nil

	if term.IsTerminal(int(os.Stderr.Fd())) {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
	}
	return zc.Build()
}
