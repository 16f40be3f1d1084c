// Package fileapi exposes the IRM engine's file protection entry points to
// Go callers.
//
// The Adapter is a thin layer over an ipcf.Engine. For every call it creates
// a prompt context, marshals the license reference, invokes the engine,
// turns a non-zero status into an error, copies the engine's output into Go
// memory, and releases every engine allocation before returning, on success
// and failure alike.
//
// # Usage
//
//	api := fileapi.New(eng, fileapi.WithLogger(logger))
//
//	out, err := api.EncryptFile(ctx, "plan.docx",
//	    ipcf.TemplateID(templateID), ipcf.EncryptFlagDefault,
//	    fileapi.Options{Prompt: ipcf.PromptParams{SuppressUI: true}})
//	if st, ok := errors.StatusOf(err); ok {
//	    log.Printf("engine refused: %s", st)
//	}
//
// # Output Names
//
// Encrypt and decrypt return the path of the file the engine produced. When
// the engine reports an empty name it left the input in place, and the input
// path is returned.
//
// # Streams
//
// The stream variants wrap Go streams with package lockbytes so the engine
// can address them randomly. The input only needs to be an io.ReadSeeker;
// the output must be writable and seekable. The LockBytes variants take
// already-adapted stores, such as a lockbytes.Buffer.
//
// # Thread Safety
//
// An Adapter keeps no per-call state and is safe for concurrent use when its
// engine is.
package fileapi
