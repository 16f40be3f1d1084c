package msipc

import (
	"encoding/binary"
	"unicode/utf16"
)

// Native structure layouts for 64-bit Windows.
const (
	// IPC_PROMPT_CTX {cbSize u32; hwndParent; dwFlags u32; hCancelEvent; pcCredential}
	promptCtxSize       = 40
	promptHwndOffset    = 8
	promptFlagsOffset   = 16
	promptCredOffset    = 32
	credentialSize      = 16
	credentialKeyOffset = 8
	symmetricKeySize    = 24

	// IPC_BUFFER {pvBuffer; cbBuffer u32}
	bufferSizeOffset = 8

	// STATSTG
	statstgSize       = 80
	statstgTypeOffset = 8
	statstgSizeOffset = 16

	credentialTypeSymmetricKey = 2
	stgtyLockBytes             = 3
)

// HRESULTs reported from stream callbacks.
const (
	hrOK              uintptr = 0
	hrFail            uintptr = 0x80004005
	hrNoInterface     uintptr = 0x80004002
	hrReadFault       uintptr = 0x8003001E
	hrWriteFault      uintptr = 0x8003001D
	hrInvalidFunction uintptr = 0x80030001
)

func encodePromptCtx(flags uint32, hwnd uintptr, credential uintptr) []byte {
	buf := make([]byte, promptCtxSize)
	binary.LittleEndian.PutUint32(buf, promptCtxSize)
	binary.LittleEndian.PutUint64(buf[promptHwndOffset:], uint64(hwnd))
	binary.LittleEndian.PutUint32(buf[promptFlagsOffset:], flags)
	binary.LittleEndian.PutUint64(buf[promptCredOffset:], uint64(credential))
	return buf
}

func encodeCredential(key uintptr) []byte {
	buf := make([]byte, credentialSize)
	binary.LittleEndian.PutUint32(buf, credentialTypeSymmetricKey)
	binary.LittleEndian.PutUint64(buf[credentialKeyOffset:], uint64(key))
	return buf
}

func encodeSymmetricKey(key, appID, tenant uintptr) []byte {
	buf := make([]byte, symmetricKeySize)
	binary.LittleEndian.PutUint64(buf, uint64(key))
	binary.LittleEndian.PutUint64(buf[8:], uint64(appID))
	binary.LittleEndian.PutUint64(buf[16:], uint64(tenant))
	return buf
}

func encodeStatStg(size int64) []byte {
	buf := make([]byte, statstgSize)
	binary.LittleEndian.PutUint32(buf[statstgTypeOffset:], stgtyLockBytes)
	binary.LittleEndian.PutUint64(buf[statstgSizeOffset:], uint64(size))
	return buf
}

// utf16z encodes s as NUL-terminated little-endian UTF-16.
func utf16z(s string) []byte {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, 2*len(units)+2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2*i:], u)
	}
	return buf
}
