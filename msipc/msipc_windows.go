//go:build windows && (amd64 || arm64)

package msipc

import (
	"context"
	"sync"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/errors"
)

const (
	procEncryptFile       = "IpcfEncryptFile"
	procEncryptFileStream = "IpcfEncryptFileStream"
	procDecryptFile       = "IpcfDecryptFile"
	procDecryptFileStream = "IpcfDecryptFileStream"
	procLicenseFromFile   = "IpcfGetSerializedLicenseFromFile"
	procLicenseFromStream = "IpcfGetSerializedLicenseFromFileStream"
	procIsFileEncrypted   = "IpcfIsFileEncrypted"
	procIsStreamEncrypted = "IpcfIsFileStreamEncrypted"
	procFreeMemory        = "IpcFreeMemory"
)

var requiredProcs = []string{
	procEncryptFile,
	procDecryptFile,
	procLicenseFromFile,
	procIsFileEncrypted,
	procFreeMemory,
}

var optionalProcs = []string{
	procEncryptFileStream,
	procDecryptFileStream,
	procLicenseFromStream,
	procIsStreamEncrypted,
}

var _ ipcf.Engine = (*Engine)(nil)

// Engine calls msipc.dll directly. The library is thread-safe, so calls are
// not serialized; the mutex only guards allocation bookkeeping.
type Engine struct {
	dll     *windows.LazyDLL
	procs   map[string]*windows.LazyProc
	prompts map[ipcf.PromptContext][]uintptr
	strs    map[ipcf.Ptr]struct{}
	logger  *zap.Logger
	mu      sync.Mutex
	closed  bool
}

// Open loads the library and resolves its entry points.
func Open(cfg *Config) (ipcf.Engine, error) {
	path := cfg.dllPath()
	dll := windows.NewLazyDLL(path)
	if err := dll.Load(); err != nil {
		return nil, errors.Load("load "+path, err)
	}

	e := &Engine{
		dll:     dll,
		procs:   make(map[string]*windows.LazyProc),
		prompts: make(map[ipcf.PromptContext][]uintptr),
		strs:    make(map[ipcf.Ptr]struct{}),
		logger:  Logger(),
	}
	for _, name := range requiredProcs {
		p := dll.NewProc(name)
		if err := p.Find(); err != nil {
			return nil, errors.NotFound(errors.PhaseLoad, "procedure", name)
		}
		e.procs[name] = p
	}
	for _, name := range optionalProcs {
		p := dll.NewProc(name)
		if p.Find() == nil {
			e.procs[name] = p
		}
	}

	e.logger.Info("library loaded", zap.String("path", path), zap.Int("procs", len(e.procs)))
	return e, nil
}

func (e *Engine) proc(name string) (*windows.LazyProc, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.Closed(errors.PhaseEngine, "engine")
	}
	p, ok := e.procs[name]
	if !ok {
		return nil, errors.Unsupported(errors.PhaseEngine, name)
	}
	return p, nil
}

func hresult(hr uintptr) ipcf.Status {
	return ipcf.Status(int32(uint32(hr)))
}

// Close marks the engine closed. Prompt contexts still outstanding are
// freed. The library itself stays loaded for the life of the process.
func (e *Engine) Close(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for pc, allocs := range e.prompts {
		localFree(allocs...)
		delete(e.prompts, pc)
	}
	for p := range e.strs {
		localFree(uintptr(p))
		delete(e.strs, p)
	}
	return nil
}

// NewPromptContext builds an IPC_PROMPT_CTX and, for a symmetric key, its
// IPC_CREDENTIAL chain.
func (e *Engine) NewPromptContext(_ context.Context, p ipcf.PromptParams) (pc ipcf.PromptContext, err error) {
	var allocs []uintptr
	defer func() {
		if err != nil {
			localFree(allocs...)
		}
	}()
	alloc := func(data []byte) (uintptr, error) {
		ptr, err := localAlloc(data)
		if err == nil {
			allocs = append(allocs, ptr)
		}
		return ptr, err
	}

	var cred uintptr
	if k := p.SymmetricKey; k != nil {
		var fields [3]uintptr
		for i, s := range []string{k.Base64Key, k.AppPrincipalID, k.TenantID} {
			if fields[i], err = alloc(utf16z(s)); err != nil {
				return 0, err
			}
		}
		key, err := alloc(encodeSymmetricKey(fields[0], fields[1], fields[2]))
		if err != nil {
			return 0, err
		}
		if cred, err = alloc(encodeCredential(key)); err != nil {
			return 0, err
		}
	}
	ctx, err := alloc(encodePromptCtx(p.Flags(), p.ParentWindow, cred))
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, errors.Closed(errors.PhaseEngine, "engine")
	}
	pc = ipcf.PromptContext(ctx)
	e.prompts[pc] = allocs
	return pc, nil
}

// ReleasePromptContext frees pc and its credential.
func (e *Engine) ReleasePromptContext(_ context.Context, pc ipcf.PromptContext) {
	e.mu.Lock()
	allocs, ok := e.prompts[pc]
	delete(e.prompts, pc)
	e.mu.Unlock()

	if !ok {
		e.logger.Warn("release of unknown prompt context", zap.Uint64("ctx", uint64(pc)))
		return
	}
	localFree(allocs...)
}

// AllocString copies s into LocalAlloc memory as a wide string.
func (e *Engine) AllocString(_ context.Context, s string) (ipcf.Ptr, error) {
	ptr, err := localAlloc(utf16z(s))
	if err != nil {
		return ipcf.Null, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		localFree(ptr)
		return ipcf.Null, errors.Closed(errors.PhaseEngine, "engine")
	}
	e.strs[ipcf.Ptr(ptr)] = struct{}{}
	return ipcf.Ptr(ptr), nil
}

// FreeString releases a string from AllocString.
func (e *Engine) FreeString(_ context.Context, p ipcf.Ptr) {
	e.mu.Lock()
	_, ok := e.strs[p]
	delete(e.strs, p)
	e.mu.Unlock()

	if !ok {
		e.logger.Warn("free of unknown string", zap.Uint64("ptr", uint64(p)))
		return
	}
	localFree(uintptr(p))
}

// FreeMemory releases memory returned by the library. Null is a no-op.
// The library stays loaded after Close, so results still held by callers
// are freed rather than leaked.
func (e *Engine) FreeMemory(_ context.Context, p ipcf.Ptr) {
	if p == ipcf.Null {
		return
	}
	e.mu.Lock()
	proc := e.procs[procFreeMemory]
	e.mu.Unlock()
	_, _, _ = proc.Call(uintptr(p))
}

func (e *Engine) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.Closed(errors.PhaseUnmarshal, "engine")
	}
	return nil
}

// String reads the wide string at p. Null reads as "".
func (e *Engine) String(_ context.Context, p ipcf.Ptr) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	if p == ipcf.Null {
		return "", nil
	}
	return windows.UTF16PtrToString((*uint16)(unsafe.Pointer(uintptr(p)))), nil
}

// Buffer copies the IPC_BUFFER at p. Null reads as nil.
func (e *Engine) Buffer(_ context.Context, p ipcf.Ptr) ([]byte, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if p == ipcf.Null {
		return nil, nil
	}
	hdr := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(p))), bufferSizeOffset+4)
	data := *(*uintptr)(unsafe.Pointer(&hdr[0]))
	size := *(*uint32)(unsafe.Pointer(&hdr[bufferSizeOffset]))
	if size == 0 || data == 0 {
		return []byte{}, nil
	}
	return append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(data)), size)...), nil
}

// wide converts s for the library. The empty string is passed as NULL.
func wide(s string) (*uint16, error) {
	if s == "" {
		return nil, nil
	}
	p, err := windows.UTF16PtrFromString(s)
	if err != nil {
		return nil, errors.InvalidInput(errors.PhaseMarshal, "string contains NUL")
	}
	return p, nil
}

// EncryptFile calls IpcfEncryptFile.
func (e *Engine) EncryptFile(_ context.Context, inputPath string, license ipcf.Ptr, kind ipcf.LicenseInfoType, flags uint32, pc ipcf.PromptContext, outputDir string) (ipcf.Ptr, ipcf.Status, error) {
	proc, err := e.proc(procEncryptFile)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	in, err := wide(inputPath)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	dir, err := wide(outputDir)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}

	var out uintptr
	hr, _, _ := proc.Call(uintptr(unsafe.Pointer(in)), uintptr(license), uintptr(kind), uintptr(flags),
		uintptr(pc), uintptr(unsafe.Pointer(dir)), uintptr(unsafe.Pointer(&out)))
	return ipcf.Ptr(out), hresult(hr), nil
}

// EncryptFileStream calls IpcfEncryptFileStream.
func (e *Engine) EncryptFileStream(_ context.Context, in ipcf.LockBytes, inputPath string, license ipcf.Ptr, kind ipcf.LicenseInfoType, flags uint32, pc ipcf.PromptContext, out ipcf.LockBytes) (ipcf.Ptr, ipcf.Status, error) {
	proc, err := e.proc(procEncryptFileStream)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	path, err := wide(inputPath)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	inObj, err := newLockBytes(in)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	defer inObj.release()
	outObj, err := newLockBytes(out)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	defer outObj.release()

	var name uintptr
	hr, _, _ := proc.Call(inObj.ptr(), uintptr(unsafe.Pointer(path)), uintptr(license), uintptr(kind),
		uintptr(flags), uintptr(pc), outObj.ptr(), uintptr(unsafe.Pointer(&name)))
	return ipcf.Ptr(name), hresult(hr), nil
}

// DecryptFile calls IpcfDecryptFile.
func (e *Engine) DecryptFile(_ context.Context, inputPath string, flags uint32, pc ipcf.PromptContext, outputDir string) (ipcf.Ptr, ipcf.Status, error) {
	proc, err := e.proc(procDecryptFile)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	in, err := wide(inputPath)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	dir, err := wide(outputDir)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}

	var out uintptr
	hr, _, _ := proc.Call(uintptr(unsafe.Pointer(in)), uintptr(flags), uintptr(pc),
		uintptr(unsafe.Pointer(dir)), uintptr(unsafe.Pointer(&out)))
	return ipcf.Ptr(out), hresult(hr), nil
}

// DecryptFileStream calls IpcfDecryptFileStream.
func (e *Engine) DecryptFileStream(_ context.Context, in ipcf.LockBytes, inputPath string, flags uint32, pc ipcf.PromptContext, out ipcf.LockBytes) (ipcf.Ptr, ipcf.Status, error) {
	proc, err := e.proc(procDecryptFileStream)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	path, err := wide(inputPath)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	inObj, err := newLockBytes(in)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	defer inObj.release()
	outObj, err := newLockBytes(out)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	defer outObj.release()

	var name uintptr
	hr, _, _ := proc.Call(inObj.ptr(), uintptr(unsafe.Pointer(path)), uintptr(flags), uintptr(pc),
		outObj.ptr(), uintptr(unsafe.Pointer(&name)))
	return ipcf.Ptr(name), hresult(hr), nil
}

// SerializedLicenseFromFile calls IpcfGetSerializedLicenseFromFile.
func (e *Engine) SerializedLicenseFromFile(_ context.Context, inputPath string) (ipcf.Ptr, ipcf.Status, error) {
	proc, err := e.proc(procLicenseFromFile)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	in, err := wide(inputPath)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}

	var lic uintptr
	hr, _, _ := proc.Call(uintptr(unsafe.Pointer(in)), uintptr(unsafe.Pointer(&lic)))
	return ipcf.Ptr(lic), hresult(hr), nil
}

// SerializedLicenseFromFileStream calls
// IpcfGetSerializedLicenseFromFileStream.
func (e *Engine) SerializedLicenseFromFileStream(_ context.Context, in ipcf.LockBytes, inputPath string) (ipcf.Ptr, ipcf.Status, error) {
	proc, err := e.proc(procLicenseFromStream)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	path, err := wide(inputPath)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	obj, err := newLockBytes(in)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	defer obj.release()

	var lic uintptr
	hr, _, _ := proc.Call(obj.ptr(), uintptr(unsafe.Pointer(path)), uintptr(unsafe.Pointer(&lic)))
	return ipcf.Ptr(lic), hresult(hr), nil
}

// IsFileEncrypted calls IpcfIsFileEncrypted.
func (e *Engine) IsFileEncrypted(_ context.Context, inputPath string) (uint32, ipcf.Status, error) {
	proc, err := e.proc(procIsFileEncrypted)
	if err != nil {
		return 0, ipcf.StatusOK, err
	}
	in, err := wide(inputPath)
	if err != nil {
		return 0, ipcf.StatusOK, err
	}

	var status uint32
	hr, _, _ := proc.Call(uintptr(unsafe.Pointer(in)), uintptr(unsafe.Pointer(&status)))
	return status, hresult(hr), nil
}

// IsFileStreamEncrypted calls IpcfIsFileStreamEncrypted.
func (e *Engine) IsFileStreamEncrypted(_ context.Context, in ipcf.LockBytes, inputPath string) (uint32, ipcf.Status, error) {
	proc, err := e.proc(procIsStreamEncrypted)
	if err != nil {
		return 0, ipcf.StatusOK, err
	}
	path, err := wide(inputPath)
	if err != nil {
		return 0, ipcf.StatusOK, err
	}
	obj, err := newLockBytes(in)
	if err != nil {
		return 0, ipcf.StatusOK, err
	}
	defer obj.release()

	var status uint32
	hr, _, _ := proc.Call(obj.ptr(), uintptr(unsafe.Pointer(path)), uintptr(unsafe.Pointer(&status)))
	return status, hresult(hr), nil
}

func localAlloc(data []byte) (uintptr, error) {
	ptr, err := windows.LocalAlloc(windows.LPTR, uint32(len(data)))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseMarshal, errors.KindAllocation, err, "LocalAlloc")
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), len(data)), data)
	return ptr, nil
}

func localFree(ptrs ...uintptr) {
	for i := len(ptrs) - 1; i >= 0; i-- {
		if ptrs[i] != 0 {
			_, _ = windows.LocalFree(windows.Handle(ptrs[i]))
		}
	}
}
