package engine

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/errors"
	"github.com/wippyai/irm-fileapi/handle"
)

// Config holds configuration for engine creation
type Config struct {
	// Env is passed to the guest as its environment.
	Env map[string]string

	// MountDir is exposed to the guest as its root directory. Empty means the
	// guest has no filesystem access and path-based calls will fail.
	MountDir string

	// CacheDir enables wazero's on-disk compilation cache.
	CacheDir string

	// MemoryLimitPages sets the maximum guest memory in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32
}

var _ ipcf.Engine = (*Engine)(nil)

// Engine runs an IRM engine compiled to WebAssembly. A single guest
// instance serves all calls; calls are serialized so that pointers returned
// by one call stay valid for the next.
type Engine struct {
	runtime wazero.Runtime
	guest   guest
	host    *lockBytesHost
	streams *handle.Table
	prompts map[ipcf.PromptContext]promptAlloc
	logger  *zap.Logger
	mu      sync.Mutex
	closed  bool
}

// Load compiles and instantiates the guest module in wasm.
func Load(ctx context.Context, wasm []byte, cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, errors.Load("open compilation cache", err)
		}
		runtimeCfg = runtimeCfg.WithCompilationCache(cache)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	e := newEngine(r, Logger())

	mod, err := e.instantiate(ctx, r, wasm, cfg)
	if err != nil {
		_ = r.Close(ctx)
		return nil, err
	}
	g := newModuleGuest(mod)
	if missing := missingExports(g); len(missing) > 0 {
		_ = r.Close(ctx)
		return nil, errors.NotFound(errors.PhaseLoad, "export", strings.Join(missing, ", "))
	}
	e.guest = g

	e.logger.Info("engine loaded",
		zap.Int("exports", len(g.fns)),
		zap.String("mount", cfg.MountDir),
		zap.Bool("streams", g.Has(exportEncryptFileStream)))
	return e, nil
}

func newEngine(r wazero.Runtime, logger *zap.Logger) *Engine {
	streams := handle.NewTable()
	streams.Subscribe(streamLogger{logger: logger})
	return &Engine{
		runtime: r,
		streams: streams,
		host:    newLockBytesHost(streams, logger),
		prompts: make(map[ipcf.PromptContext]promptAlloc),
		logger:  logger,
	}
}

func (e *Engine) instantiate(ctx context.Context, r wazero.Runtime, wasm []byte, cfg *Config) (api.Module, error) {
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		return nil, errors.Load("instantiate WASI", err)
	}
	if err := e.host.instantiate(ctx, r); err != nil {
		return nil, err
	}

	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Load("compile guest", err)
	}

	modCfg := wazero.NewModuleConfig().
		WithName(guestModuleName).
		WithStartFunctions().
		WithStdout(&zapio.Writer{Log: e.logger.Named("guest"), Level: zap.DebugLevel}).
		WithStderr(&zapio.Writer{Log: e.logger.Named("guest"), Level: zap.WarnLevel})
	if cfg.MountDir != "" {
		modCfg = modCfg.WithFSConfig(wazero.NewFSConfig().WithDirMount(cfg.MountDir, "/"))
	}
	for k, v := range cfg.Env {
		modCfg = modCfg.WithEnv(k, v)
	}

	mod, err := r.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, errors.Load("instantiate guest", err)
	}
	if initFn := mod.ExportedFunction(exportInitialize); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, errors.Load("initialize guest", err)
		}
	}
	return mod, nil
}

// Close releases the guest and the wazero runtime. Outstanding pointers
// become invalid.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if n := len(e.prompts); n > 0 {
		e.logger.Warn("closing engine with live prompt contexts", zap.Int("count", n))
	}
	e.prompts = nil
	_ = e.streams.Close()

	if e.runtime != nil {
		return e.runtime.Close(ctx)
	}
	return e.guest.Close(ctx)
}

// NewPromptContext builds a prompt context in guest memory.
func (e *Engine) NewPromptContext(ctx context.Context, p ipcf.PromptParams) (ipcf.PromptContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked(); err != nil {
		return 0, err
	}
	pa, err := e.newPromptCtxLocked(ctx, p)
	if err != nil {
		return 0, err
	}
	pc := ipcf.PromptContext(pa.ctx)
	e.prompts[pc] = pa
	return pc, nil
}

// ReleasePromptContext frees pc and the strings it refers to.
func (e *Engine) ReleasePromptContext(ctx context.Context, pc ipcf.PromptContext) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	pa, ok := e.prompts[pc]
	if !ok {
		e.logger.Warn("release of unknown prompt context", zap.Uint64("ctx", uint64(pc)))
		return
	}
	delete(e.prompts, pc)
	e.freePromptLocked(ctx, pa)
}

// AllocString copies s into guest memory as a NUL-terminated string.
func (e *Engine) AllocString(ctx context.Context, s string) (ipcf.Ptr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked(); err != nil {
		return ipcf.Null, err
	}
	p, err := e.cstringLocked(ctx, s)
	if err != nil {
		return ipcf.Null, err
	}
	return ipcf.Ptr(p), nil
}

// FreeString releases a string from AllocString.
func (e *Engine) FreeString(ctx context.Context, p ipcf.Ptr) {
	e.FreeMemory(ctx, p)
}

// FreeMemory releases guest memory. Null is a no-op.
func (e *Engine) FreeMemory(ctx context.Context, p ipcf.Ptr) {
	if p == ipcf.Null {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	ptr, err := guestPtr(p)
	if err != nil {
		e.logger.Warn("free of invalid pointer", zap.Uint64("ptr", uint64(p)))
		return
	}
	e.freeLocked(ctx, ptr)
}

// String reads the NUL-terminated string at p. Null reads as "".
func (e *Engine) String(_ context.Context, p ipcf.Ptr) (string, error) {
	if p == ipcf.Null {
		return "", nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked(); err != nil {
		return "", err
	}
	ptr, err := guestPtr(p)
	if err != nil {
		return "", err
	}
	return e.unmarshal().cstring(ptr)
}

// Buffer copies the contents of the ipc_buffer at p. Null reads as nil.
func (e *Engine) Buffer(_ context.Context, p ipcf.Ptr) ([]byte, error) {
	if p == ipcf.Null {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked(); err != nil {
		return nil, err
	}
	ptr, err := guestPtr(p)
	if err != nil {
		return nil, err
	}
	m := e.unmarshal()
	data, err := m.readU32(ptr)
	if err != nil {
		return nil, err
	}
	size, err := m.readU32(ptr + 4)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}
	return m.read(data, size)
}

func (e *Engine) checkLocked() error {
	if e.closed {
		return errors.Closed(errors.PhaseEngine, "engine")
	}
	if e.guest == nil {
		return errors.NotInitialized(errors.PhaseEngine, "guest")
	}
	return nil
}

func (e *Engine) mem() *memory {
	return wrapMemory(e.guest.Memory(), errors.PhaseMarshal)
}

func (e *Engine) unmarshal() *memory {
	return wrapMemory(e.guest.Memory(), errors.PhaseUnmarshal)
}

func (e *Engine) allocLocked(ctx context.Context, size uint32) (uint32, error) {
	res, err := e.guest.Call(ctx, exportAlloc, uint64(size))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseMarshal, errors.KindTrap, err, exportAlloc)
	}
	if len(res) == 0 || uint32(res[0]) == 0 {
		return 0, errors.AllocationFailed(errors.PhaseMarshal, size)
	}
	return uint32(res[0]), nil
}

func (e *Engine) freeLocked(ctx context.Context, ptr uint32) {
	if _, err := e.guest.Call(ctx, exportFree, uint64(ptr)); err != nil {
		e.logger.Warn("guest free failed", zap.Uint32("ptr", ptr), zap.Error(err))
	}
}

// cstringLocked allocates s plus a terminating NUL.
func (e *Engine) cstringLocked(ctx context.Context, s string) (uint32, error) {
	if len(s) >= math.MaxUint32 {
		return 0, errors.InvalidInput(errors.PhaseMarshal, "string too long")
	}
	ptr, err := e.allocLocked(ctx, uint32(len(s))+1)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	if err := e.mem().write(ptr, buf); err != nil {
		e.freeLocked(ctx, ptr)
		return 0, err
	}
	return ptr, nil
}

func guestPtr(p ipcf.Ptr) (uint32, error) {
	if uint64(p) > math.MaxUint32 {
		return 0, errors.InvalidInput(errors.PhaseMarshal, "pointer outside 32-bit guest address space")
	}
	return uint32(p), nil
}
