// Package msipc binds ipcf.Engine to the native RMS client library
// (msipc.dll) on 64-bit Windows. On other platforms Open always fails with
// an unsupported error.
//
// Entry points are resolved lazily from the library. Prompt contexts,
// credentials and marshaled template ids live in LocalAlloc memory so that
// no Go pointer is retained by native code. Streams are passed as COM
// ILockBytes objects whose methods call back into the caller's
// ipcf.LockBytes.
package msipc
