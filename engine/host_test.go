package engine

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/wippyai/irm-fileapi/handle"
	"github.com/wippyai/irm-fileapi/lockbytes"
)

type failingLockBytes struct{}

var errDisk = errors.New("disk failure")

func (failingLockBytes) ReadAt([]byte, int64) (int, error)  { return 0, errDisk }
func (failingLockBytes) WriteAt([]byte, int64) (int, error) { return 0, errDisk }
func (failingLockBytes) Flush() error                       { return errDisk }
func (failingLockBytes) SetSize(int64) error                { return errDisk }
func (failingLockBytes) Stat() (int64, error)               { return 0, errDisk }

func TestLockBytesHost(t *testing.T) {
	streams := handle.NewTable()
	h := newLockBytesHost(streams, zap.NewNop())
	mem := newFakeMemory(256)

	buf := lockbytes.NewBuffer([]byte("hello world"))
	id, _ := streams.Insert(handle.KindStream, buf)
	s := uint32(id)

	if got := h.stat(s); got != 11 {
		t.Errorf("stat = %d, want 11", got)
	}

	// Short read at the end is not a failure.
	if got := h.readAt(mem, s, 6, 16, 10); got != 5 {
		t.Errorf("readAt = %d, want 5", got)
	}
	if string(mem.buf[16:21]) != "world" {
		t.Errorf("memory = %q", mem.buf[16:21])
	}

	copy(mem.buf[32:], "HELLO")
	if got := h.writeAt(mem, s, 0, 32, 5); got != 5 {
		t.Errorf("writeAt = %d, want 5", got)
	}
	if string(buf.Bytes()) != "HELLO world" {
		t.Errorf("stream = %q", buf.Bytes())
	}

	if h.setSize(s, 5) != hostOK || h.flush(s) != hostOK {
		t.Error("setSize/flush failed")
	}
	if string(buf.Bytes()) != "HELLO" {
		t.Errorf("stream after setSize = %q", buf.Bytes())
	}
}

func TestLockBytesHost_Failures(t *testing.T) {
	streams := handle.NewTable()
	h := newLockBytesHost(streams, zap.NewNop())
	mem := newFakeMemory(64)

	good, _ := streams.Insert(handle.KindStream, lockbytes.NewBuffer([]byte("x")))
	bad, _ := streams.Insert(handle.KindStream, failingLockBytes{})
	other, _ := streams.Insert(handle.Kind(99), lockbytes.NewBuffer(nil))

	tests := []struct {
		name string
		got  int64
	}{
		{"unknown handle read", int64(h.readAt(mem, 99, 0, 0, 1))},
		{"wrong kind", h.stat(uint32(other))},
		{"negative offset", int64(h.readAt(mem, uint32(good), -1, 0, 1))},
		{"read out of bounds", int64(h.readAt(mem, uint32(good), 0, 60, 10))},
		{"write out of bounds", int64(h.writeAt(mem, uint32(good), 0, 100, 1))},
		{"read error", int64(h.readAt(mem, uint32(bad), 0, 0, 1))},
		{"write error", int64(h.writeAt(mem, uint32(bad), 0, 0, 1))},
		{"flush error", int64(h.flush(uint32(bad)))},
		{"set_size error", int64(h.setSize(uint32(bad), 0))},
		{"stat error", h.stat(uint32(bad))},
	}
	for _, tt := range tests {
		if tt.got != int64(hostFailure) {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, hostFailure)
		}
	}
}
