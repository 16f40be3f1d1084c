// Package lockbytes adapts Go streams to ipcf.LockBytes, the random-access
// byte store an engine reads and writes as if it were a file.
//
// Wrap picks the most direct adapter for a value:
//
//	*os.File            File (positional I/O, Truncate, Sync)
//	ipcf.LockBytes      returned unchanged
//	io.ReadWriteSeeker  Stream (seek then read/write, serialized)
//	io.ReadSeeker       Stream, read-only
//
// Buffer is a growable in-memory store for callers that want the engine's
// output as a byte slice.
//
// ReadAt follows io.ReaderAt: a short read at the end of the data returns
// io.EOF together with the bytes read.
package lockbytes
