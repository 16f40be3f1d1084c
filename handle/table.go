package handle

import (
	"errors"
	"sync"
)

var (
	ErrClosed = errors.New("handle table closed")
	ErrFull   = errors.New("handle table full")
)

// A handle packs a slot index in the low bits and the slot's generation in
// the high bits. Index 0 is never used, so no handle is 0.
const (
	indexBits = 20
	indexMask = 1<<indexBits - 1
	genMask   = 1<<(32-indexBits) - 1
)

func makeHandle(index int, gen uint32) Handle {
	return Handle(gen<<indexBits | uint32(index))
}

type entry struct {
	value any
	kind  Kind
	gen   uint32
	valid bool
}

// Table stores values behind handles. It is safe for concurrent use.
type Table struct {
	entries   []entry
	freeList  []int
	observers []Observer
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries:  make([]entry, 0, 16),
		freeList: make([]int, 0, 8),
	}
}

// Insert stores a value and returns its handle. A reused slot gets a new
// generation, so handles to the previous occupant stay invalid.
func (t *Table) Insert(kind Kind, value any) (Handle, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}

	var idx int
	var gen uint32
	if n := len(t.freeList); n > 0 {
		idx = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		gen = (t.entries[idx-1].gen + 1) & genMask
	} else {
		if len(t.entries) >= indexMask {
			t.mu.Unlock()
			return 0, ErrFull
		}
		t.entries = append(t.entries, entry{})
		idx = len(t.entries)
	}
	t.entries[idx-1] = entry{kind: kind, value: value, gen: gen, valid: true}
	h := makeHandle(idx, gen)
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, Handle: h, Kind: kind, Value: value})
	return h, nil
}

// Get retrieves a value only if h is live and was inserted with kind.
func (t *Table) Get(h Handle, kind Kind) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.lookup(h)
	if !ok || e.kind != kind {
		return nil, false
	}
	return e.value, true
}

// Remove drops a handle and returns (value, true) if it was live.
func (t *Table) Remove(h Handle) (any, bool) {
	t.mu.Lock()
	e, ok := t.lookup(h)
	if !ok {
		t.mu.Unlock()
		return nil, false
	}
	idx := int(uint32(h) & indexMask)
	t.entries[idx-1] = entry{gen: e.gen}
	t.freeList = append(t.freeList, idx)
	t.mu.Unlock()

	t.notify(Event{Type: EventDropped, Handle: h, Kind: e.kind, Value: e.value})
	return e.value, true
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, e := range t.entries {
		if e.valid {
			n++
		}
	}
	return n
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Close removes every live value and rejects further inserts.
func (t *Table) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true

	var live []Handle
	for i, e := range t.entries {
		if e.valid {
			live = append(live, makeHandle(i+1, e.gen))
		}
	}
	t.mu.Unlock()

	for _, h := range live {
		t.Remove(h)
	}

	t.mu.Lock()
	t.entries = nil
	t.freeList = nil
	t.mu.Unlock()
	return nil
}

func (t *Table) lookup(h Handle) (entry, bool) {
	idx := int(uint32(h) & indexMask)
	if idx == 0 || idx > len(t.entries) {
		return entry{}, false
	}
	e := t.entries[idx-1]
	if !e.valid || e.gen != uint32(h)>>indexBits {
		return entry{}, false
	}
	return e, true
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnHandleEvent(e)
	}
}
