// Package engine runs an IRM engine compiled to WebAssembly under wazero and
// exposes it as an ipcf.Engine.
//
// # Guest ABI
//
// The guest is a core WebAssembly module with 32-bit linear memory. All
// pointers handed across the boundary are guest addresses.
//
//	Export                                        Result
//	───────────────────────────────────────────────────────
//	ipc_alloc(size)                               ptr, 0 on failure
//	ipc_free_memory(ptr)                          -
//	ipcf_encrypt_file(...)                        status
//	ipcf_encrypt_file_stream(...)                 status (optional)
//	ipcf_decrypt_file(...)                        status
//	ipcf_decrypt_file_stream(...)                 status (optional)
//	ipcf_get_serialized_license_from_file(...)    status
//	ipcf_get_serialized_license_from_file_stream  status (optional)
//	ipcf_is_file_encrypted(...)                   status
//	ipcf_is_file_stream_encrypted(...)            status (optional)
//
// Input strings are passed as (ptr, len). Template ids are NUL-terminated.
// Output names are NUL-terminated strings; serialized licenses are an
// ipc_buffer header {data u32, size u32}. Both are released with
// ipc_free_memory.
//
// A prompt context is a 32-byte record:
//
//	offset  field
//	0       flags u32 (silent 0x1, offline 0x2, has-user-consent 0x4)
//	8       parent window u64
//	16      symmetric key ptr u32 (0 = none)
//	20      app principal ptr u32
//	24      tenant ptr u32
//
// # Streams
//
// Stream entry points receive handles instead of pointers. The guest calls
// back into the host module "ipcf_lockbytes" to reach the caller's
// ipcf.LockBytes:
//
//	read_at(h, off i64, ptr, len) -> i32    bytes read, -1 on failure
//	write_at(h, off i64, ptr, len) -> i32   bytes written, -1 on failure
//	flush(h) -> i32
//	set_size(h, size i64) -> i32
//	stat(h) -> i64                          size, -1 on failure
//
// Handles are valid only while the entry point that received them runs.
//
// # Concurrency
//
// An Engine owns one guest instance. Calls are serialized by a mutex, which
// keeps pointers returned by one call valid for later String, Buffer and
// FreeMemory calls.
package engine
