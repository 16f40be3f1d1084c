package ipcf

import (
	"context"
)

// Ptr is an address in engine memory. The zero Ptr is null.
type Ptr uint64

// Null is the null engine pointer.
const Null Ptr = 0

// PromptContext is an opaque engine handle carrying prompt settings for a
// single call.
type PromptContext uint64

// Engine is the call boundary to an IRM protection engine.
//
// The error result reports boundary faults only (a trapped guest, a missing
// entry point, an out-of-range pointer). The engine's own verdict is carried
// by Status. Every non-null Ptr returned to the caller must be released with
// FreeMemory, every PromptContext with ReleasePromptContext, and every string
// from AllocString with FreeString.
type Engine interface {
	NewPromptContext(ctx context.Context, p PromptParams) (PromptContext, error)
	ReleasePromptContext(ctx context.Context, pc PromptContext)

	AllocString(ctx context.Context, s string) (Ptr, error)
	FreeString(ctx context.Context, p Ptr)

	EncryptFile(ctx context.Context, inputPath string, license Ptr, kind LicenseInfoType, flags uint32, pc PromptContext, outputDir string) (Ptr, Status, error)
	EncryptFileStream(ctx context.Context, in LockBytes, inputPath string, license Ptr, kind LicenseInfoType, flags uint32, pc PromptContext, out LockBytes) (Ptr, Status, error)
	DecryptFile(ctx context.Context, inputPath string, flags uint32, pc PromptContext, outputDir string) (Ptr, Status, error)
	DecryptFileStream(ctx context.Context, in LockBytes, inputPath string, flags uint32, pc PromptContext, out LockBytes) (Ptr, Status, error)

	SerializedLicenseFromFile(ctx context.Context, inputPath string) (Ptr, Status, error)
	SerializedLicenseFromFileStream(ctx context.Context, in LockBytes, inputPath string) (Ptr, Status, error)

	IsFileEncrypted(ctx context.Context, inputPath string) (uint32, Status, error)
	IsFileStreamEncrypted(ctx context.Context, in LockBytes, inputPath string) (uint32, Status, error)

	// String reads a NUL-terminated string at p. A null p yields "".
	String(ctx context.Context, p Ptr) (string, error)
	// Buffer copies the contents of the engine buffer at p.
	Buffer(ctx context.Context, p Ptr) ([]byte, error)
	FreeMemory(ctx context.Context, p Ptr)

	Close(ctx context.Context) error
}

// LockBytes is a random-access byte store the engine reads and writes as if
// it were a file.
type LockBytes interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Flush() error
	SetSize(size int64) error
	Stat() (int64, error)
}
