package enginetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ipcf "github.com/wippyai/irm-fileapi"
)

// Marker starts every payload the fake engine "protects".
const Marker = "IPCF-FAKE\n"

// ProtectedSuffix is appended to file names when OutputRename is in effect.
const ProtectedSuffix = ".pfile"

// Operation names used in Call records and for per-op status overrides.
const (
	OpEncryptFile       = "encrypt-file"
	OpEncryptFileStream = "encrypt-file-stream"
	OpDecryptFile       = "decrypt-file"
	OpDecryptFileStream = "decrypt-file-stream"
	OpLicenseFromFile   = "serialized-license-from-file"
	OpLicenseFromStream = "serialized-license-from-file-stream"
	OpIsFileEncrypted   = "is-file-encrypted"
	OpIsStreamEncrypted = "is-file-stream-encrypted"
	OpNewPromptContext  = "new-prompt-context"
	OpAllocString       = "alloc-string"
	anyOp               = ""
)

// OutputMode selects the output name returned by encrypt and decrypt.
type OutputMode int

const (
	// OutputRename writes a new file and returns its name.
	OutputRename OutputMode = iota
	// OutputEmpty rewrites in place and returns a non-null empty string.
	OutputEmpty
	// OutputNull rewrites in place and returns a null pointer.
	OutputNull
)

type allocKind uint8

const (
	allocString allocKind = iota + 1
	allocBuffer
)

type alloc struct {
	data []byte
	kind allocKind
}

// Call records one engine entry point invocation.
type Call struct {
	Op          string
	Path        string
	License     string
	OutputDir   string
	Prompt      ipcf.PromptParams
	LicensePtr  ipcf.Ptr
	LicenseType ipcf.LicenseInfoType
	Flags       uint32
}

// Stats counts allocations handed out and released.
type Stats struct {
	PromptContexts int
	PromptReleases int
	Strings        int
	StringFrees    int
	Buffers        int
	BufferFrees    int
	BadReleases    int
}

var _ ipcf.Engine = (*Engine)(nil)

// Engine is a fake ipcf.Engine. The zero value is not usable; call New.
type Engine struct {
	allocs   map[ipcf.Ptr]alloc
	prompts  map[ipcf.PromptContext]ipcf.PromptParams
	statuses map[string]ipcf.Status
	faults   map[string]error
	calls    []Call
	stats    Stats
	next     uint64
	mode     OutputMode
	failOut  bool
	closed   bool
	mu       sync.Mutex
}

// New creates a fake engine in OutputRename mode.
func New() *Engine {
	return &Engine{
		allocs:   make(map[ipcf.Ptr]alloc),
		prompts:  make(map[ipcf.PromptContext]ipcf.PromptParams),
		statuses: make(map[string]ipcf.Status),
		faults:   make(map[string]error),
		next:     0x1000,
	}
}

// SetOutputMode selects how encrypt and decrypt report their output name.
func (e *Engine) SetOutputMode(m OutputMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = m
}

// SetStatus makes op return st. An empty op applies to every entry point.
func (e *Engine) SetStatus(op string, st ipcf.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses[op] = st
}

// SetFault makes op fail at the boundary with err. An empty op applies to
// every entry point.
func (e *Engine) SetFault(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[op] = err
}

// SetOutputOnFailure makes failing entry points still hand back an output
// allocation, the way some engines report partial results.
func (e *Engine) SetOutputOnFailure(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failOut = v
}

// Calls returns a copy of the recorded entry point calls.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// LastCall returns the most recent entry point call.
func (e *Engine) LastCall() (Call, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.calls) == 0 {
		return Call{}, false
	}
	return e.calls[len(e.calls)-1], true
}

// Stats returns the allocation counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Live returns the number of outstanding allocations and prompt contexts.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.allocs) + len(e.prompts)
}

// CheckReleased reports outstanding or wrongly released allocations.
func (e *Engine) CheckReleased() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var problems []string
	if n := len(e.prompts); n > 0 {
		problems = append(problems, fmt.Sprintf("%d prompt context(s) not released", n))
	}
	for p, a := range e.allocs {
		problems = append(problems, fmt.Sprintf("%s at 0x%x not freed", a.kind, uint64(p)))
	}
	if e.stats.BadReleases > 0 {
		problems = append(problems, fmt.Sprintf("%d release(s) of unknown or already released values", e.stats.BadReleases))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("enginetest: %s", strings.Join(problems, "; "))
}

func (k allocKind) String() string {
	switch k {
	case allocString:
		return "string"
	case allocBuffer:
		return "buffer"
	default:
		return "allocation"
	}
}

// NewPromptContext records p and returns a fresh context handle.
func (e *Engine) NewPromptContext(_ context.Context, p ipcf.PromptParams) (ipcf.PromptContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.faultLocked(OpNewPromptContext); err != nil {
		return 0, err
	}
	e.next++
	pc := ipcf.PromptContext(e.next)
	e.prompts[pc] = p
	e.stats.PromptContexts++
	return pc, nil
}

// ReleasePromptContext releases pc.
func (e *Engine) ReleasePromptContext(_ context.Context, pc ipcf.PromptContext) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.prompts[pc]; !ok {
		e.stats.BadReleases++
		return
	}
	delete(e.prompts, pc)
	e.stats.PromptReleases++
}

// AllocString copies s into fake engine memory.
func (e *Engine) AllocString(_ context.Context, s string) (ipcf.Ptr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.faultLocked(OpAllocString); err != nil {
		return ipcf.Null, err
	}
	e.stats.Strings++
	return e.allocLocked(allocString, []byte(s)), nil
}

// FreeString releases a string from AllocString.
func (e *Engine) FreeString(_ context.Context, p ipcf.Ptr) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.allocs[p]
	if !ok || a.kind != allocString {
		e.stats.BadReleases++
		return
	}
	delete(e.allocs, p)
	e.stats.StringFrees++
}

// FreeMemory releases an engine-owned output buffer. Null is a no-op.
func (e *Engine) FreeMemory(_ context.Context, p ipcf.Ptr) {
	if p == ipcf.Null {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.allocs[p]
	if !ok || a.kind != allocBuffer {
		e.stats.BadReleases++
		return
	}
	delete(e.allocs, p)
	e.stats.BufferFrees++
}

// String reads the output string at p.
func (e *Engine) String(_ context.Context, p ipcf.Ptr) (string, error) {
	if p == ipcf.Null {
		return "", nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.allocs[p]
	if !ok {
		return "", fmt.Errorf("enginetest: read of unknown pointer 0x%x", uint64(p))
	}
	return string(a.data), nil
}

// Buffer copies the output buffer at p.
func (e *Engine) Buffer(_ context.Context, p ipcf.Ptr) ([]byte, error) {
	if p == ipcf.Null {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.allocs[p]
	if !ok {
		return nil, fmt.Errorf("enginetest: read of unknown pointer 0x%x", uint64(p))
	}
	return append([]byte(nil), a.data...), nil
}

// Close marks the engine closed.
func (e *Engine) Close(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) allocLocked(kind allocKind, data []byte) ipcf.Ptr {
	e.next++
	p := ipcf.Ptr(e.next)
	e.allocs[p] = alloc{kind: kind, data: data}
	return p
}

func (e *Engine) bufferLocked(data []byte) ipcf.Ptr {
	e.stats.Buffers++
	return e.allocLocked(allocBuffer, data)
}

func (e *Engine) faultLocked(op string) error {
	if err, ok := e.faults[op]; ok && err != nil {
		return err
	}
	if err, ok := e.faults[anyOp]; ok && err != nil {
		return err
	}
	return nil
}

func (e *Engine) statusLocked(op string) ipcf.Status {
	if st, ok := e.statuses[op]; ok {
		return st
	}
	return e.statuses[anyOp]
}

// begin records the call and applies configured faults and statuses.
// A non-nil error or failed status means the entry point must stop.
func (e *Engine) begin(c Call, pc ipcf.PromptContext, usesPrompt bool) (ipcf.Status, error) {
	if c.LicensePtr != ipcf.Null && c.LicenseType == ipcf.LicenseInfoTemplateID {
		if a, ok := e.allocs[c.LicensePtr]; ok && a.kind == allocString {
			c.License = string(a.data)
		} else {
			c.License = "<dangling>"
		}
	}
	if c.LicenseType == ipcf.LicenseInfoHandle {
		c.License = fmt.Sprintf("handle:%d", uint64(c.LicensePtr))
	}
	if usesPrompt {
		p, ok := e.prompts[pc]
		if !ok {
			e.calls = append(e.calls, c)
			return ipcf.StatusInvalidArg, nil
		}
		c.Prompt = p
	}
	e.calls = append(e.calls, c)

	if err := e.faultLocked(c.Op); err != nil {
		return ipcf.StatusOK, err
	}
	return e.statusLocked(c.Op), nil
}

func (e *Engine) failureOutputLocked() ipcf.Ptr {
	if e.failOut {
		return e.bufferLocked([]byte("partial"))
	}
	return ipcf.Null
}

func (e *Engine) outputNameLocked(name string) ipcf.Ptr {
	switch e.mode {
	case OutputEmpty:
		return e.bufferLocked(nil)
	case OutputNull:
		return ipcf.Null
	default:
		return e.bufferLocked([]byte(name))
	}
}

// EncryptFile wraps the file content in the marker header.
func (e *Engine) EncryptFile(_ context.Context, inputPath string, license ipcf.Ptr, kind ipcf.LicenseInfoType, flags uint32, pc ipcf.PromptContext, outputDir string) (ipcf.Ptr, ipcf.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := Call{Op: OpEncryptFile, Path: inputPath, LicensePtr: license, LicenseType: kind, Flags: flags, OutputDir: outputDir}
	st, err := e.begin(c, pc, true)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	if st.Failed() {
		return e.failureOutputLocked(), st, nil
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return ipcf.Null, ipcf.StatusFileNotFound, nil
	}
	if isProtected(data) {
		return ipcf.Null, ipcf.StatusInvalidArg, nil
	}

	out := inputPath
	if e.mode == OutputRename {
		out = targetPath(inputPath, outputDir, filepath.Base(inputPath)+ProtectedSuffix)
	}
	if err := os.WriteFile(out, protect(e.calls[len(e.calls)-1].License, data), 0o600); err != nil {
		return ipcf.Null, ipcf.StatusAccessDenied, nil
	}
	return e.outputNameLocked(out), ipcf.StatusOK, nil
}

// DecryptFile strips the marker header.
func (e *Engine) DecryptFile(_ context.Context, inputPath string, flags uint32, pc ipcf.PromptContext, outputDir string) (ipcf.Ptr, ipcf.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := Call{Op: OpDecryptFile, Path: inputPath, Flags: flags, OutputDir: outputDir}
	st, err := e.begin(c, pc, true)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	if st.Failed() {
		return e.failureOutputLocked(), st, nil
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return ipcf.Null, ipcf.StatusFileNotFound, nil
	}
	_, plain, ok := unprotect(data)
	if !ok {
		return ipcf.Null, ipcf.StatusInvalidArg, nil
	}

	out := inputPath
	if e.mode == OutputRename {
		base := filepath.Base(inputPath)
		if trimmed, found := strings.CutSuffix(base, ProtectedSuffix); found {
			base = trimmed
		} else {
			base += ".plain"
		}
		out = targetPath(inputPath, outputDir, base)
	}
	if err := os.WriteFile(out, plain, 0o600); err != nil {
		return ipcf.Null, ipcf.StatusAccessDenied, nil
	}
	return e.outputNameLocked(out), ipcf.StatusOK, nil
}

// EncryptFileStream reads all of in and writes the marked payload to out.
func (e *Engine) EncryptFileStream(_ context.Context, in ipcf.LockBytes, inputPath string, license ipcf.Ptr, kind ipcf.LicenseInfoType, flags uint32, pc ipcf.PromptContext, out ipcf.LockBytes) (ipcf.Ptr, ipcf.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := Call{Op: OpEncryptFileStream, Path: inputPath, LicensePtr: license, LicenseType: kind, Flags: flags}
	st, err := e.begin(c, pc, true)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	if st.Failed() {
		return e.failureOutputLocked(), st, nil
	}

	data, err := readAll(in)
	if err != nil {
		return ipcf.Null, ipcf.StatusFail, nil
	}
	if isProtected(data) {
		return ipcf.Null, ipcf.StatusInvalidArg, nil
	}
	if err := replace(out, protect(e.calls[len(e.calls)-1].License, data)); err != nil {
		return ipcf.Null, ipcf.StatusFail, nil
	}

	name := inputPath
	if e.mode == OutputRename {
		name = inputPath + ProtectedSuffix
	}
	return e.outputNameLocked(name), ipcf.StatusOK, nil
}

// DecryptFileStream reads all of in and writes the unmarked payload to out.
func (e *Engine) DecryptFileStream(_ context.Context, in ipcf.LockBytes, inputPath string, flags uint32, pc ipcf.PromptContext, out ipcf.LockBytes) (ipcf.Ptr, ipcf.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := Call{Op: OpDecryptFileStream, Path: inputPath, Flags: flags}
	st, err := e.begin(c, pc, true)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	if st.Failed() {
		return e.failureOutputLocked(), st, nil
	}

	data, err := readAll(in)
	if err != nil {
		return ipcf.Null, ipcf.StatusFail, nil
	}
	_, plain, ok := unprotect(data)
	if !ok {
		return ipcf.Null, ipcf.StatusInvalidArg, nil
	}
	if err := replace(out, plain); err != nil {
		return ipcf.Null, ipcf.StatusFail, nil
	}

	name := inputPath
	if e.mode == OutputRename {
		name = strings.TrimSuffix(inputPath, ProtectedSuffix)
	}
	return e.outputNameLocked(name), ipcf.StatusOK, nil
}

// SerializedLicenseFromFile returns the license line of a marked file.
func (e *Engine) SerializedLicenseFromFile(_ context.Context, inputPath string) (ipcf.Ptr, ipcf.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.begin(Call{Op: OpLicenseFromFile, Path: inputPath}, 0, false)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	if st.Failed() {
		return e.failureOutputLocked(), st, nil
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return ipcf.Null, ipcf.StatusFileNotFound, nil
	}
	return e.licenseLocked(data)
}

// SerializedLicenseFromFileStream returns the license line of a marked stream.
func (e *Engine) SerializedLicenseFromFileStream(_ context.Context, in ipcf.LockBytes, inputPath string) (ipcf.Ptr, ipcf.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.begin(Call{Op: OpLicenseFromStream, Path: inputPath}, 0, false)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	if st.Failed() {
		return e.failureOutputLocked(), st, nil
	}

	data, err := readAll(in)
	if err != nil {
		return ipcf.Null, ipcf.StatusFail, nil
	}
	return e.licenseLocked(data)
}

func (e *Engine) licenseLocked(data []byte) (ipcf.Ptr, ipcf.Status, error) {
	lic, _, ok := unprotect(data)
	if !ok {
		return ipcf.Null, ipcf.StatusInvalidArg, nil
	}
	return e.bufferLocked([]byte(lic)), ipcf.StatusOK, nil
}

// IsFileEncrypted reports whether the file carries the marker.
func (e *Engine) IsFileEncrypted(_ context.Context, inputPath string) (uint32, ipcf.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.begin(Call{Op: OpIsFileEncrypted, Path: inputPath}, 0, false)
	if err != nil || st.Failed() {
		return 0, st, err
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return 0, ipcf.StatusFileNotFound, nil
	}
	return fileStatus(data), ipcf.StatusOK, nil
}

// IsFileStreamEncrypted reports whether the stream carries the marker.
func (e *Engine) IsFileStreamEncrypted(_ context.Context, in ipcf.LockBytes, inputPath string) (uint32, ipcf.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.begin(Call{Op: OpIsStreamEncrypted, Path: inputPath}, 0, false)
	if err != nil || st.Failed() {
		return 0, st, err
	}

	data, err := readAll(in)
	if err != nil {
		return 0, ipcf.StatusFail, nil
	}
	return fileStatus(data), ipcf.StatusOK, nil
}

// Protect returns data as the fake engine would encrypt it under license.
func Protect(license string, data []byte) []byte {
	return protect(license, data)
}

func protect(license string, data []byte) []byte {
	var b bytes.Buffer
	b.WriteString(Marker)
	b.WriteString(license)
	b.WriteByte('\n')
	b.Write(data)
	return b.Bytes()
}

func unprotect(data []byte) (license string, plain []byte, ok bool) {
	rest, found := bytes.CutPrefix(data, []byte(Marker))
	if !found {
		return "", nil, false
	}
	lic, body, found := bytes.Cut(rest, []byte{'\n'})
	if !found {
		return "", nil, false
	}
	return string(lic), body, true
}

func isProtected(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Marker))
}

func fileStatus(data []byte) uint32 {
	if isProtected(data) {
		return uint32(ipcf.FileStatusEncrypted)
	}
	return uint32(ipcf.FileStatusDecrypted)
}

func targetPath(inputPath, outputDir, base string) string {
	dir := outputDir
	if dir == "" {
		dir = filepath.Dir(inputPath)
	}
	return filepath.Join(dir, base)
}

func readAll(lb ipcf.LockBytes) ([]byte, error) {
	size, err := lb.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := lb.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

func replace(lb ipcf.LockBytes, data []byte) error {
	if err := lb.SetSize(0); err != nil {
		return err
	}
	if _, err := lb.WriteAt(data, 0); err != nil {
		return err
	}
	return lb.Flush()
}
