package lockbytes

import (
	"errors"
	"io"
	"os"
	"sync"

	ipcf "github.com/wippyai/irm-fileapi"
)

var (
	ErrReadOnly      = errors.New("lockbytes: stream is read-only")
	ErrNegative      = errors.New("lockbytes: negative offset or size")
	ErrCannotShrink  = errors.New("lockbytes: stream cannot be truncated")
	errUnknownStream = errors.New("lockbytes: nil stream")
)

// Wrap returns the LockBytes adapter for rs.
func Wrap(rs io.ReadSeeker) (ipcf.LockBytes, error) {
	switch v := rs.(type) {
	case nil:
		return nil, errUnknownStream
	case *os.File:
		return NewFile(v), nil
	case ipcf.LockBytes:
		return v, nil
	case io.ReadWriteSeeker:
		return NewStream(v), nil
	default:
		return NewReadOnly(v), nil
	}
}

// File adapts an *os.File using positional I/O.
type File struct {
	f *os.File
}

// NewFile wraps f.
func NewFile(f *os.File) *File {
	return &File{f: f}
}

func (l *File) ReadAt(p []byte, off int64) (int, error) {
	return l.f.ReadAt(p, off)
}

func (l *File) WriteAt(p []byte, off int64) (int, error) {
	return l.f.WriteAt(p, off)
}

func (l *File) Flush() error {
	return l.f.Sync()
}

func (l *File) SetSize(size int64) error {
	if size < 0 {
		return ErrNegative
	}
	return l.f.Truncate(size)
}

func (l *File) Stat() (int64, error) {
	fi, err := l.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

type truncater interface {
	Truncate(size int64) error
}

type syncer interface {
	Sync() error
}

// Stream adapts a seekable stream. Every operation seeks first, so access is
// serialized and the stream's own position is not preserved.
type Stream struct {
	r  io.ReadSeeker
	w  io.Writer
	mu sync.Mutex
}

// NewStream wraps a read-write stream.
func NewStream(rws io.ReadWriteSeeker) *Stream {
	return &Stream{r: rws, w: rws}
}

// NewReadOnly wraps a stream that rejects writes.
func NewReadOnly(rs io.ReadSeeker) *Stream {
	return &Stream{r: rs}
}

func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrNegative
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.r.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(s.r, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func (s *Stream) WriteAt(p []byte, off int64) (int, error) {
	if s.w == nil {
		return 0, ErrReadOnly
	}
	if off < 0 {
		return 0, ErrNegative
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.r.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return s.w.Write(p)
}

func (s *Stream) Flush() error {
	if sy, ok := s.r.(syncer); ok {
		return sy.Sync()
	}
	return nil
}

// SetSize truncates through Truncate when the stream has one. Otherwise it
// can only grow the stream, by writing zeros at the end.
func (s *Stream) SetSize(size int64) error {
	if size < 0 {
		return ErrNegative
	}
	if t, ok := s.r.(truncater); ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		return t.Truncate(size)
	}
	if s.w == nil {
		return ErrReadOnly
	}

	cur, err := s.Stat()
	if err != nil {
		return err
	}
	switch {
	case size == cur:
		return nil
	case size < cur:
		return ErrCannotShrink
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.r.Seek(cur, io.SeekStart); err != nil {
		return err
	}
	_, err = io.CopyN(s.w, zeroReader{}, size-cur)
	return err
}

func (s *Stream) Stat() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Seek(0, io.SeekEnd)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// Buffer is a growable in-memory LockBytes.
type Buffer struct {
	buf []byte
	mu  sync.RWMutex
}

// NewBuffer creates a buffer holding a copy of data.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{buf: append([]byte(nil), data...)}
}

func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrNegative
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if off >= int64(len(b.buf)) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrNegative
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	end := off + int64(len(p))
	if end > int64(len(b.buf)) {
		b.grow(end)
	}
	return copy(b.buf[off:], p), nil
}

func (b *Buffer) Flush() error { return nil }

func (b *Buffer) SetSize(size int64) error {
	if size < 0 {
		return ErrNegative
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if size <= int64(len(b.buf)) {
		b.buf = b.buf[:size]
		return nil
	}
	b.grow(size)
	return nil
}

func (b *Buffer) Stat() (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.buf)), nil
}

// Bytes returns a copy of the current contents.
func (b *Buffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]byte(nil), b.buf...)
}

func (b *Buffer) grow(size int64) {
	if size <= int64(cap(b.buf)) {
		old := len(b.buf)
		b.buf = b.buf[:size]
		clear(b.buf[old:])
		return
	}
	nb := make([]byte, size, size+size/4)
	copy(nb, b.buf)
	b.buf = nb
}
