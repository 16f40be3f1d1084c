package msipc

import (
	"encoding/binary"
	"testing"
)

func TestEncodePromptCtx(t *testing.T) {
	buf := encodePromptCtx(0x5, 0x1234, 0xCAFE)
	if len(buf) != promptCtxSize {
		t.Fatalf("size = %d", len(buf))
	}
	if got := binary.LittleEndian.Uint32(buf); got != promptCtxSize {
		t.Errorf("cbSize = %d", got)
	}
	if got := binary.LittleEndian.Uint64(buf[promptHwndOffset:]); got != 0x1234 {
		t.Errorf("hwnd = %#x", got)
	}
	if got := binary.LittleEndian.Uint32(buf[promptFlagsOffset:]); got != 0x5 {
		t.Errorf("flags = %#x", got)
	}
	if got := binary.LittleEndian.Uint64(buf[24:]); got != 0 {
		t.Errorf("cancel event = %#x, want 0", got)
	}
	if got := binary.LittleEndian.Uint64(buf[promptCredOffset:]); got != 0xCAFE {
		t.Errorf("credential = %#x", got)
	}
}

func TestEncodeCredential(t *testing.T) {
	cred := encodeCredential(0x10)
	if binary.LittleEndian.Uint32(cred) != credentialTypeSymmetricKey {
		t.Error("credential type is not symmetric key")
	}
	if binary.LittleEndian.Uint64(cred[credentialKeyOffset:]) != 0x10 {
		t.Error("key pointer not stored")
	}

	key := encodeSymmetricKey(1, 2, 3)
	for i, want := range []uint64{1, 2, 3} {
		if got := binary.LittleEndian.Uint64(key[8*i:]); got != want {
			t.Errorf("field %d = %d, want %d", i, got, want)
		}
	}
}

func TestEncodeStatStg(t *testing.T) {
	buf := encodeStatStg(1 << 33)
	if binary.LittleEndian.Uint32(buf[statstgTypeOffset:]) != stgtyLockBytes {
		t.Error("type is not STGTY_LOCKBYTES")
	}
	if binary.LittleEndian.Uint64(buf[statstgSizeOffset:]) != 1<<33 {
		t.Error("size not stored")
	}
}

func TestUTF16z(t *testing.T) {
	got := utf16z("aé😀")
	want := []byte{'a', 0, 0xE9, 0, 0x3D, 0xD8, 0x00, 0xDE, 0, 0}
	if string(got) != string(want) {
		t.Errorf("utf16z = % x, want % x", got, want)
	}
	if got := utf16z(""); len(got) != 2 || got[0] != 0 || got[1] != 0 {
		t.Errorf("empty string = % x", got)
	}
}
