//go:build windows && (amd64 || arm64)

package msipc

import (
	"context"
	stderrors "errors"
	"testing"
	"unsafe"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sys/windows"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/errors"
	"github.com/wippyai/irm-fileapi/lockbytes"
)

func TestOpen_MissingLibrary(t *testing.T) {
	_, err := Open(&Config{DLLPath: `C:\does-not-exist\msipc.dll`})
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindInvalidData}) {
		t.Fatalf("error = %v, want load error", err)
	}
}

func TestLockBytesShim(t *testing.T) {
	buf := lockbytes.NewBuffer([]byte("hello world"))
	lb, err := newLockBytes(buf)
	if err != nil {
		t.Fatalf("newLockBytes error: %v", err)
	}
	this := lb.ptr()

	var ppv uintptr
	iid := iidILockBytes
	if hr := comQueryInterface(this, uintptr(unsafe.Pointer(&iid)), uintptr(unsafe.Pointer(&ppv))); hr != hrOK || ppv != this {
		t.Fatalf("QueryInterface = %#x, %#x", hr, ppv)
	}
	comRelease(this)

	other := windows.GUID{Data1: 0x12345678}
	if hr := comQueryInterface(this, uintptr(unsafe.Pointer(&other)), uintptr(unsafe.Pointer(&ppv))); hr != hrNoInterface {
		t.Errorf("QueryInterface(other) = %#x", hr)
	}

	out := make([]byte, 16)
	var n uint32
	if hr := comReadAt(this, 6, uintptr(unsafe.Pointer(&out[0])), uintptr(len(out)), uintptr(unsafe.Pointer(&n))); hr != hrOK {
		t.Fatalf("ReadAt = %#x", hr)
	}
	if string(out[:n]) != "world" {
		t.Errorf("ReadAt read %q", out[:n])
	}

	in := []byte("HELLO")
	if hr := comWriteAt(this, 0, uintptr(unsafe.Pointer(&in[0])), uintptr(len(in)), uintptr(unsafe.Pointer(&n))); hr != hrOK || n != 5 {
		t.Fatalf("WriteAt = %#x, %d", hr, n)
	}
	if hr := comSetSize(this, 5); hr != hrOK {
		t.Fatalf("SetSize = %#x", hr)
	}
	if string(buf.Bytes()) != "HELLO" {
		t.Errorf("stream = %q", buf.Bytes())
	}

	stat := make([]byte, statstgSize)
	if hr := comStat(this, uintptr(unsafe.Pointer(&stat[0])), 1); hr != hrOK {
		t.Fatalf("Stat = %#x", hr)
	}
	if got := *(*uint64)(unsafe.Pointer(&stat[statstgSizeOffset])); got != 5 {
		t.Errorf("Stat size = %d", got)
	}

	before := streams.Len()
	lb.release()
	if streams.Len() != before-1 {
		t.Error("stream handle not removed on final release")
	}
}

func TestNewLockBytes_Nil(t *testing.T) {
	if _, err := newLockBytes(nil); err == nil {
		t.Fatal("expected error for nil stream")
	}
}

// closedEngine returns an Engine whose free procedure is LocalFree, after Close.
func closedEngine(t *testing.T) (*Engine, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	e := &Engine{
		procs: map[string]*windows.LazyProc{
			procFreeMemory: windows.NewLazySystemDLL("kernel32.dll").NewProc("LocalFree"),
		},
		prompts: make(map[ipcf.PromptContext][]uintptr),
		strs:    make(map[ipcf.Ptr]struct{}),
		logger:  zap.New(core),
	}
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return e, logs
}

func TestClosedEngine_ReadsFail(t *testing.T) {
	ctx := context.Background()
	e, _ := closedEngine(t)

	buf, err := localAlloc(utf16z("result.pfile"))
	if err != nil {
		t.Fatal(err)
	}
	defer localFree(buf)

	want := &errors.Error{Phase: errors.PhaseUnmarshal, Kind: errors.KindClosed}
	if s, err := e.String(ctx, ipcf.Ptr(buf)); !stderrors.Is(err, want) {
		t.Errorf("String after Close = %q, %v, want closed error", s, err)
	}
	if b, err := e.Buffer(ctx, ipcf.Ptr(buf)); !stderrors.Is(err, want) {
		t.Errorf("Buffer after Close = %v, %v, want closed error", b, err)
	}
}

func TestClosedEngine_FreeMemoryReleases(t *testing.T) {
	e, logs := closedEngine(t)

	p, err := localAlloc([]byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	e.FreeMemory(context.Background(), ipcf.Ptr(p))

	if n := logs.FilterLevelExact(zapcore.WarnLevel).Len(); n != 0 {
		t.Errorf("FreeMemory after Close logged %d warnings", n)
	}
}
