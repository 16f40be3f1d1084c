package lockbytes

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	ipcf "github.com/wippyai/irm-fileapi"
)

// seekBuffer is a minimal io.ReadWriteSeeker without Truncate.
type seekBuffer struct {
	data []byte
	pos  int64
}

func (s *seekBuffer) Read(p []byte) (int, error) {
	if s.pos >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += int64(n)
	return n, nil
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + int64(len(p))
	if end > int64(len(s.data)) {
		s.data = append(s.data, make([]byte, end-int64(len(s.data)))...)
	}
	copy(s.data[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(off int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.pos = off
	case io.SeekCurrent:
		s.pos += off
	case io.SeekEnd:
		s.pos = int64(len(s.data)) + off
	}
	return s.pos, nil
}

func exercise(t *testing.T, lb ipcf.LockBytes) {
	t.Helper()

	if _, err := lb.WriteAt([]byte("hello world"), 0); err != nil {
		t.Fatalf("WriteAt error: %v", err)
	}
	if _, err := lb.WriteAt([]byte("WORLD"), 6); err != nil {
		t.Fatalf("WriteAt error: %v", err)
	}

	size, err := lb.Stat()
	if err != nil {
		t.Fatalf("Stat error: %v", err)
	}
	if size != 11 {
		t.Fatalf("size = %d, want 11", size)
	}

	p := make([]byte, 5)
	n, err := lb.ReadAt(p, 6)
	if err != nil {
		t.Fatalf("ReadAt error: %v", err)
	}
	if string(p[:n]) != "WORLD" {
		t.Errorf("ReadAt = %q, want WORLD", p[:n])
	}

	p = make([]byte, 8)
	n, err = lb.ReadAt(p, 8)
	if err != io.EOF {
		t.Errorf("short ReadAt error = %v, want io.EOF", err)
	}
	if string(p[:n]) != "RLD" {
		t.Errorf("short ReadAt = %q, want RLD", p[:n])
	}

	if err := lb.SetSize(16); err != nil {
		t.Fatalf("SetSize grow error: %v", err)
	}
	if size, _ := lb.Stat(); size != 16 {
		t.Errorf("size after grow = %d, want 16", size)
	}
	p = make([]byte, 5)
	if _, err := lb.ReadAt(p, 11); err != nil {
		t.Fatalf("ReadAt grown region error: %v", err)
	}
	if !bytes.Equal(p, make([]byte, 5)) {
		t.Errorf("grown region = %v, want zeros", p)
	}

	if err := lb.Flush(); err != nil {
		t.Errorf("Flush error: %v", err)
	}
}

func TestBuffer(t *testing.T) {
	b := NewBuffer(nil)
	exercise(t, b)

	if err := b.SetSize(5); err != nil {
		t.Fatalf("SetSize shrink error: %v", err)
	}
	if got := string(b.Bytes()); got != "hello" {
		t.Errorf("Bytes = %q, want hello", got)
	}

	if _, err := b.ReadAt(make([]byte, 1), 10); err != io.EOF {
		t.Errorf("ReadAt past end error = %v, want io.EOF", err)
	}
	if _, err := b.WriteAt([]byte("x"), -1); err != ErrNegative {
		t.Errorf("negative WriteAt error = %v, want ErrNegative", err)
	}
}

func TestBuffer_CopiesInput(t *testing.T) {
	src := []byte("abc")
	b := NewBuffer(src)
	src[0] = 'z'

	if got := string(b.Bytes()); got != "abc" {
		t.Errorf("Bytes = %q, want abc", got)
	}
}

func TestFile(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "data.bin"))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	defer f.Close()

	exercise(t, NewFile(f))
}

func TestStream_Truncater(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "data.bin"))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	defer f.Close()

	s := NewStream(f)
	exercise(t, s)

	if err := s.SetSize(4); err != nil {
		t.Fatalf("SetSize shrink error: %v", err)
	}
	if size, _ := s.Stat(); size != 4 {
		t.Errorf("size = %d, want 4", size)
	}
}

func TestStream_NoTruncate(t *testing.T) {
	sb := &seekBuffer{}
	s := NewStream(sb)
	exercise(t, s)

	if err := s.SetSize(2); err != ErrCannotShrink {
		t.Errorf("shrink error = %v, want ErrCannotShrink", err)
	}
	if err := s.SetSize(16); err != nil {
		t.Errorf("same-size SetSize error = %v", err)
	}
}

func TestReadOnly(t *testing.T) {
	s := NewReadOnly(bytes.NewReader([]byte("protected")))

	p := make([]byte, 4)
	if _, err := s.ReadAt(p, 5); err != nil {
		t.Fatalf("ReadAt error: %v", err)
	}
	if string(p) != "cted" {
		t.Errorf("ReadAt = %q, want cted", p)
	}

	if _, err := s.WriteAt([]byte("x"), 0); err != ErrReadOnly {
		t.Errorf("WriteAt error = %v, want ErrReadOnly", err)
	}
	if err := s.SetSize(100); err != ErrReadOnly {
		t.Errorf("SetSize error = %v, want ErrReadOnly", err)
	}
	if size, _ := s.Stat(); size != 9 {
		t.Errorf("size = %d, want 9", size)
	}
}

func TestWrap(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "w.bin"))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	defer f.Close()

	tests := []struct {
		name string
		in   io.ReadSeeker
		want string
	}{
		{"file", f, "*lockbytes.File"},
		{"read-write", &seekBuffer{}, "*lockbytes.Stream"},
		{"read-only", bytes.NewReader(nil), "*lockbytes.Stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb, err := Wrap(tt.in)
			if err != nil {
				t.Fatalf("Wrap error: %v", err)
			}
			if got := typeName(lb); got != tt.want {
				t.Errorf("Wrap type = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := Wrap(nil); err == nil {
		t.Error("Wrap(nil) should fail")
	}

	ro, _ := Wrap(bytes.NewReader([]byte("x")))
	if _, err := ro.WriteAt([]byte("y"), 0); err != ErrReadOnly {
		t.Errorf("read-only Wrap WriteAt error = %v", err)
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *File:
		return "*lockbytes.File"
	case *Stream:
		return "*lockbytes.Stream"
	case *Buffer:
		return "*lockbytes.Buffer"
	default:
		return "other"
	}
}
