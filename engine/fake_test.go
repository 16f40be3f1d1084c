package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// fakeMemory is a flat byte slice standing in for guest linear memory.
// Only the methods the engine uses are implemented.
type fakeMemory struct {
	api.Memory
	buf []byte
}

func newFakeMemory(size int) *fakeMemory {
	return &fakeMemory{buf: make([]byte, size)}
}

func (m *fakeMemory) Size() uint32 { return uint32(len(m.buf)) }

func (m *fakeMemory) inRange(offset, n uint32) bool {
	return uint64(offset)+uint64(n) <= uint64(len(m.buf))
}

func (m *fakeMemory) Read(offset, n uint32) ([]byte, bool) {
	if !m.inRange(offset, n) {
		return nil, false
	}
	return m.buf[offset : offset+n : offset+n], true
}

func (m *fakeMemory) Write(offset uint32, v []byte) bool {
	if !m.inRange(offset, uint32(len(v))) {
		return false
	}
	copy(m.buf[offset:], v)
	return true
}

func (m *fakeMemory) ReadUint32Le(offset uint32) (uint32, bool) {
	if !m.inRange(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.buf[offset:]), true
}

func (m *fakeMemory) WriteUint32Le(offset, v uint32) bool {
	if !m.inRange(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.buf[offset:], v)
	return true
}

func (m *fakeMemory) WriteUint64Le(offset uint32, v uint64) bool {
	if !m.inRange(offset, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.buf[offset:], v)
	return true
}

type guestFunc func(ctx context.Context, params []uint64) ([]uint64, error)

// fakeGuest is a bump-allocating guest whose exports are Go functions.
type fakeGuest struct {
	mem       *fakeMemory
	fns       map[string]guestFunc
	live      map[uint32]uint32
	calls     []string
	next      uint32
	allocs    int
	failAfter int
	badFrees  int
	closed    bool
}

func newFakeGuest() *fakeGuest {
	g := &fakeGuest{
		mem:       newFakeMemory(1 << 16),
		fns:       make(map[string]guestFunc),
		live:      make(map[uint32]uint32),
		next:      64,
		failAfter: -1,
	}
	g.fns[exportAlloc] = func(_ context.Context, p []uint64) ([]uint64, error) {
		return []uint64{uint64(g.alloc(uint32(p[0])))}, nil
	}
	g.fns[exportFree] = func(_ context.Context, p []uint64) ([]uint64, error) {
		g.free(uint32(p[0]))
		return nil, nil
	}
	for _, name := range requiredExports[2:] {
		g.fns[name] = statusFunc(0)
	}
	return g
}

func statusFunc(st uint32) guestFunc {
	return func(context.Context, []uint64) ([]uint64, error) {
		return []uint64{uint64(st)}, nil
	}
}

func (g *fakeGuest) Memory() api.Memory { return g.mem }

func (g *fakeGuest) Has(name string) bool {
	_, ok := g.fns[name]
	return ok
}

func (g *fakeGuest) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn, ok := g.fns[name]
	if !ok {
		return nil, fmt.Errorf("export %q not found", name)
	}
	g.calls = append(g.calls, name)
	return fn(ctx, params)
}

func (g *fakeGuest) Close(context.Context) error {
	g.closed = true
	return nil
}

func (g *fakeGuest) alloc(size uint32) uint32 {
	if g.failAfter >= 0 && g.allocs >= g.failAfter {
		return 0
	}
	g.allocs++
	if size == 0 {
		size = 1
	}
	ptr := g.next
	g.next += (size + 7) &^ 7
	g.live[ptr] = size
	return ptr
}

func (g *fakeGuest) free(ptr uint32) {
	if _, ok := g.live[ptr]; !ok {
		g.badFrees++
		return
	}
	delete(g.live, ptr)
}

func (g *fakeGuest) str(ptr, n uint64) string {
	return string(g.mem.buf[ptr : ptr+n])
}

// putCString allocates s as a NUL-terminated string.
func (g *fakeGuest) putCString(s string) uint32 {
	ptr := g.alloc(uint32(len(s)) + 1)
	copy(g.mem.buf[ptr:], s)
	g.mem.buf[ptr+uint32(len(s))] = 0
	return ptr
}

// putBuffer allocates an ipc_buffer header followed by data.
func (g *fakeGuest) putBuffer(data []byte) uint32 {
	ptr := g.alloc(8 + uint32(len(data)))
	binary.LittleEndian.PutUint32(g.mem.buf[ptr:], ptr+8)
	binary.LittleEndian.PutUint32(g.mem.buf[ptr+4:], uint32(len(data)))
	copy(g.mem.buf[ptr+8:], data)
	return ptr
}

func (g *fakeGuest) setU32(ptr uint64, v uint32) {
	binary.LittleEndian.PutUint32(g.mem.buf[ptr:], v)
}

func (g *fakeGuest) u32(ptr uint32) uint32 {
	return binary.LittleEndian.Uint32(g.mem.buf[ptr:])
}

func (g *fakeGuest) checkReleased() error {
	if len(g.live) > 0 {
		return fmt.Errorf("%d guest allocation(s) not freed: %v", len(g.live), g.live)
	}
	if g.badFrees > 0 {
		return fmt.Errorf("%d invalid free(s)", g.badFrees)
	}
	return nil
}

var errTrap = errors.New("wasm error: unreachable")

func newTestEngine(g *fakeGuest) *Engine {
	e := newEngine(nil, zap.NewNop())
	e.guest = g
	return e
}
