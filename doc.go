// Package ipcf defines the boundary between Go callers and an external
// Information Rights Management (IRM) file protection engine.
//
// The module does not implement any protection logic. Encryption, license
// binding and rights enforcement all live in the engine; this module only
// marshals arguments across the call boundary, turns engine status codes into
// errors, and releases every engine-owned allocation before a call returns.
//
// # Architecture Overview
//
//	ipcf/           Root package with the Engine boundary and shared types
//	├── fileapi/    Adapter: encrypt, decrypt, license and status calls
//	├── engine/     wazero backend hosting an engine compiled to WebAssembly
//	├── msipc/      Windows backend binding msipc.dll
//	├── enginetest/ Fake engine with allocation counters for tests
//	├── lockbytes/  Random-access stream adapters handed to the engine
//	├── handle/     Handle table for Go values exposed to a guest engine
//	├── config/     Configuration loading (.env, TOML, environment)
//	├── errors/     Structured error types
//	└── cmd/ipcf/   Command line tool
//
// # Quick Start
//
//	eng, err := engine.Load(ctx, wasmBytes, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	api := fileapi.New(eng)
//	out, err := api.EncryptFile(ctx, "report.docx",
//	    ipcf.TemplateID("b4e2a1c0-6f3d-4f0e-9d1a-2c7b8e5f4a10"),
//	    ipcf.EncryptFlagDefault, fileapi.Options{})
//
// # Memory Model
//
// Pointers returned by an Engine (Ptr) refer to engine memory. They are
// copied into Go values and freed with Engine.FreeMemory by the adapter;
// callers never own them.
package ipcf
