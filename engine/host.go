package engine

import (
	"context"
	stderrors "errors"
	"io"
	"math"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/errors"
	"github.com/wippyai/irm-fileapi/handle"
)

// Results reported to the guest by the lockbytes imports.
const (
	hostOK      int32 = 0
	hostFailure int32 = -1
	maxTransfer       = math.MaxInt32
)

// lockBytesHost serves the ipcf_lockbytes imports. The guest names streams
// by handle; the handles live only for the duration of one engine call.
type lockBytesHost struct {
	streams *handle.Table
	logger  *zap.Logger
}

func newLockBytesHost(streams *handle.Table, logger *zap.Logger) *lockBytesHost {
	return &lockBytesHost{streams: streams, logger: logger}
}

// instantiate registers the imports with r.
func (h *lockBytesHost) instantiate(ctx context.Context, r wazero.Runtime) error {
	_, err := r.NewHostModuleBuilder(lockBytesModule).
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, stream uint32, off int64, ptr, n uint32) int32 {
			return h.readAt(m.Memory(), stream, off, ptr, n)
		}).
		Export("read_at").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, stream uint32, off int64, ptr, n uint32) int32 {
			return h.writeAt(m.Memory(), stream, off, ptr, n)
		}).
		Export("write_at").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, stream uint32) int32 {
			return h.flush(stream)
		}).
		Export("flush").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, stream uint32, size int64) int32 {
			return h.setSize(stream, size)
		}).
		Export("set_size").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, stream uint32) int64 {
			return h.stat(stream)
		}).
		Export("stat").
		Instantiate(ctx)
	if err != nil {
		return errors.Load("instantiate "+lockBytesModule, err)
	}
	return nil
}

func (h *lockBytesHost) lookup(stream uint32) (ipcf.LockBytes, bool) {
	v, ok := h.streams.Get(handle.Handle(stream), handle.KindStream)
	if !ok {
		h.logger.Warn("unknown stream handle", zap.Uint32("handle", stream))
		return nil, false
	}
	lb, ok := v.(ipcf.LockBytes)
	return lb, ok
}

func (h *lockBytesHost) readAt(mem api.Memory, stream uint32, off int64, ptr, n uint32) int32 {
	lb, ok := h.lookup(stream)
	if !ok || off < 0 {
		return hostFailure
	}
	n = min(n, maxTransfer)
	dst, err := wrapMemory(mem, errors.PhaseStream).view(ptr, n)
	if err != nil {
		h.fail("read_at", stream, err)
		return hostFailure
	}
	read, err := lb.ReadAt(dst, off)
	if err != nil && !stderrors.Is(err, io.EOF) {
		h.fail("read_at", stream, err)
		return hostFailure
	}
	return int32(read)
}

func (h *lockBytesHost) writeAt(mem api.Memory, stream uint32, off int64, ptr, n uint32) int32 {
	lb, ok := h.lookup(stream)
	if !ok || off < 0 {
		return hostFailure
	}
	n = min(n, maxTransfer)
	src, err := wrapMemory(mem, errors.PhaseStream).view(ptr, n)
	if err != nil {
		h.fail("write_at", stream, err)
		return hostFailure
	}
	written, err := lb.WriteAt(src, off)
	if err != nil {
		h.fail("write_at", stream, err)
		return hostFailure
	}
	return int32(written)
}

func (h *lockBytesHost) flush(stream uint32) int32 {
	lb, ok := h.lookup(stream)
	if !ok {
		return hostFailure
	}
	if err := lb.Flush(); err != nil {
		h.fail("flush", stream, err)
		return hostFailure
	}
	return hostOK
}

func (h *lockBytesHost) setSize(stream uint32, size int64) int32 {
	lb, ok := h.lookup(stream)
	if !ok {
		return hostFailure
	}
	if err := lb.SetSize(size); err != nil {
		h.fail("set_size", stream, err)
		return hostFailure
	}
	return hostOK
}

func (h *lockBytesHost) stat(stream uint32) int64 {
	lb, ok := h.lookup(stream)
	if !ok {
		return int64(hostFailure)
	}
	size, err := lb.Stat()
	if err != nil {
		h.fail("stat", stream, err)
		return int64(hostFailure)
	}
	return size
}

func (h *lockBytesHost) fail(op string, stream uint32, err error) {
	h.logger.Debug("stream callback failed",
		zap.String("op", op),
		zap.Uint32("handle", stream),
		zap.Error(err))
}

// streamLogger logs stream handle lifecycle at debug level.
type streamLogger struct {
	logger *zap.Logger
}

func (s streamLogger) OnHandleEvent(ev handle.Event) {
	if ce := s.logger.Check(zap.DebugLevel, "stream handle"); ce != nil {
		kind := "created"
		if ev.Type == handle.EventDropped {
			kind = "dropped"
		}
		ce.Write(zap.Uint32("handle", uint32(ev.Handle)), zap.String("event", kind))
	}
}
