//go:build windows && (amd64 || arm64)

package msipc

import (
	stderrors "errors"
	"io"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/errors"
	"github.com/wippyai/irm-fileapi/handle"
)

var (
	iidIUnknown   = windows.GUID{Data1: 0x00000000, Data4: [8]byte{0xC0, 0, 0, 0, 0, 0, 0, 0x46}}
	iidILockBytes = windows.GUID{Data1: 0x0000000A, Data4: [8]byte{0xC0, 0, 0, 0, 0, 0, 0, 0x46}}
)

// comObject is the native layout of an ILockBytes instance. It lives in
// LocalAlloc memory; the Go stream is reached through the handle table.
type comObject struct {
	vtbl   uintptr
	stream uint32
	refs   int32
}

// lockBytesVtbl lists ILockBytes methods in declaration order.
type lockBytesVtbl struct {
	QueryInterface uintptr
	AddRef         uintptr
	Release        uintptr
	ReadAt         uintptr
	WriteAt        uintptr
	Flush          uintptr
	SetSize        uintptr
	LockRegion     uintptr
	UnlockRegion   uintptr
	Stat           uintptr
}

var (
	streams  = handle.NewTable()
	vtbl     uintptr
	vtblErr  error
	vtblOnce sync.Once
)

func lockBytesVtable() (uintptr, error) {
	vtblOnce.Do(func() {
		v := lockBytesVtbl{
			QueryInterface: windows.NewCallback(comQueryInterface),
			AddRef:         windows.NewCallback(comAddRef),
			Release:        windows.NewCallback(comRelease),
			ReadAt:         windows.NewCallback(comReadAt),
			WriteAt:        windows.NewCallback(comWriteAt),
			Flush:          windows.NewCallback(comFlush),
			SetSize:        windows.NewCallback(comSetSize),
			LockRegion:     windows.NewCallback(comRegion),
			UnlockRegion:   windows.NewCallback(comRegion),
			Stat:           windows.NewCallback(comStat),
		}
		raw := unsafe.Slice((*byte)(unsafe.Pointer(&v)), unsafe.Sizeof(v))
		vtbl, vtblErr = localAlloc(raw)
	})
	return vtbl, vtblErr
}

// lockBytes is the Go side's reference to a COM object it created.
type lockBytes struct {
	obj uintptr
}

func newLockBytes(lb ipcf.LockBytes) (*lockBytes, error) {
	if lb == nil {
		return nil, errors.InvalidInput(errors.PhaseStream, "nil stream")
	}
	vt, err := lockBytesVtable()
	if err != nil {
		return nil, err
	}
	h, err := streams.Insert(handle.KindStream, lb)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseStream, errors.KindClosed, err, "register stream")
	}

	obj := comObject{vtbl: vt, stream: uint32(h), refs: 1}
	ptr, err := localAlloc(unsafe.Slice((*byte)(unsafe.Pointer(&obj)), unsafe.Sizeof(obj)))
	if err != nil {
		streams.Remove(h)
		return nil, err
	}
	return &lockBytes{obj: ptr}, nil
}

func (l *lockBytes) ptr() uintptr { return l.obj }

// release drops the Go side's reference.
func (l *lockBytes) release() {
	if l.obj != 0 {
		comRelease(l.obj)
		l.obj = 0
	}
}

func object(this uintptr) *comObject {
	return (*comObject)(unsafe.Pointer(this))
}

func lookup(this uintptr) (ipcf.LockBytes, bool) {
	v, ok := streams.Get(handle.Handle(object(this).stream), handle.KindStream)
	if !ok {
		return nil, false
	}
	lb, ok := v.(ipcf.LockBytes)
	return lb, ok
}

func comQueryInterface(this, riid, ppv uintptr) uintptr {
	if ppv == 0 {
		return hrFail
	}
	out := (*uintptr)(unsafe.Pointer(ppv))
	iid := *(*windows.GUID)(unsafe.Pointer(riid))
	if iid != iidIUnknown && iid != iidILockBytes {
		*out = 0
		return hrNoInterface
	}
	comAddRef(this)
	*out = this
	return hrOK
}

func comAddRef(this uintptr) uintptr {
	return uintptr(atomic.AddInt32(&object(this).refs, 1))
}

func comRelease(this uintptr) uintptr {
	obj := object(this)
	n := atomic.AddInt32(&obj.refs, -1)
	if n == 0 {
		streams.Remove(handle.Handle(obj.stream))
		localFree(this)
	}
	return uintptr(n)
}

func comReadAt(this, offset, pv, cb, pcbRead uintptr) uintptr {
	lb, ok := lookup(this)
	if !ok {
		return hrFail
	}
	var n int
	var err error
	if cb > 0 {
		n, err = lb.ReadAt(unsafe.Slice((*byte)(unsafe.Pointer(pv)), cb), int64(offset))
	}
	if pcbRead != 0 {
		*(*uint32)(unsafe.Pointer(pcbRead)) = uint32(n)
	}
	if err != nil && !stderrors.Is(err, io.EOF) {
		Logger().Debug("ILockBytes::ReadAt failed")
		return hrReadFault
	}
	return hrOK
}

func comWriteAt(this, offset, pv, cb, pcbWritten uintptr) uintptr {
	lb, ok := lookup(this)
	if !ok {
		return hrFail
	}
	var n int
	var err error
	if cb > 0 {
		n, err = lb.WriteAt(unsafe.Slice((*byte)(unsafe.Pointer(pv)), cb), int64(offset))
	}
	if pcbWritten != 0 {
		*(*uint32)(unsafe.Pointer(pcbWritten)) = uint32(n)
	}
	if err != nil {
		Logger().Debug("ILockBytes::WriteAt failed")
		return hrWriteFault
	}
	return hrOK
}

func comFlush(this uintptr) uintptr {
	lb, ok := lookup(this)
	if !ok || lb.Flush() != nil {
		return hrFail
	}
	return hrOK
}

func comSetSize(this, size uintptr) uintptr {
	lb, ok := lookup(this)
	if !ok || lb.SetSize(int64(size)) != nil {
		return hrFail
	}
	return hrOK
}

func comRegion(this, offset, cb, lockType uintptr) uintptr {
	return hrInvalidFunction
}

func comStat(this, pstatstg, flag uintptr) uintptr {
	lb, ok := lookup(this)
	if !ok || pstatstg == 0 {
		return hrFail
	}
	size, err := lb.Stat()
	if err != nil {
		return hrFail
	}
	stat := encodeStatStg(size)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(pstatstg)), len(stat)), stat)
	return hrOK
}
