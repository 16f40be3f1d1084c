package engine

import (
	"bytes"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/irm-fileapi/errors"
)

// memory adapts guest linear memory, turning out-of-range accesses into
// errors.
type memory struct {
	mem   api.Memory
	phase errors.Phase
}

func wrapMemory(mem api.Memory, phase errors.Phase) *memory {
	return &memory{mem: mem, phase: phase}
}

// read returns a copy of length bytes at offset.
func (m *memory) read(offset, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(m.phase, offset, int(length))
	}
	return bytes.Clone(data), nil
}

// view returns length bytes at offset without copying. The slice is only
// valid until the guest runs again.
func (m *memory) view(offset, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(m.phase, offset, int(length))
	}
	return data, nil
}

func (m *memory) write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds(m.phase, offset, len(data))
	}
	return nil
}

func (m *memory) readU32(offset uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(m.phase, offset, 4)
	}
	return v, nil
}

func (m *memory) writeU32(offset, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return errors.OutOfBounds(m.phase, offset, 4)
	}
	return nil
}

func (m *memory) writeU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return errors.OutOfBounds(m.phase, offset, 8)
	}
	return nil
}

// cstring reads a NUL-terminated string starting at offset. A string that
// runs to the end of memory without a terminator is invalid.
func (m *memory) cstring(offset uint32) (string, error) {
	size := m.mem.Size()
	if offset >= size {
		return "", errors.OutOfBounds(m.phase, offset, 1)
	}
	data, _ := m.mem.Read(offset, size-offset)
	n := bytes.IndexByte(data, 0)
	if n < 0 {
		return "", errors.New(m.phase, errors.KindInvalidData).
			Detail("string at 0x%x is not terminated", offset).Build()
	}
	return string(data[:n]), nil
}
