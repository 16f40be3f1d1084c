package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// Guest export names.
const (
	exportAlloc             = "ipc_alloc"
	exportFree              = "ipc_free_memory"
	exportEncryptFile       = "ipcf_encrypt_file"
	exportEncryptFileStream = "ipcf_encrypt_file_stream"
	exportDecryptFile       = "ipcf_decrypt_file"
	exportDecryptFileStream = "ipcf_decrypt_file_stream"
	exportLicenseFromFile   = "ipcf_get_serialized_license_from_file"
	exportLicenseFromStream = "ipcf_get_serialized_license_from_file_stream"
	exportIsFileEncrypted   = "ipcf_is_file_encrypted"
	exportIsStreamEncrypted = "ipcf_is_file_stream_encrypted"
	exportInitialize        = "_initialize"
	lockBytesModule         = "ipcf_lockbytes"
	guestModuleName         = "ipcf"
)

// requiredExports must be present for Load to succeed. Stream exports are
// optional; calls to a missing one fail as unsupported.
var requiredExports = []string{
	exportAlloc,
	exportFree,
	exportEncryptFile,
	exportDecryptFile,
	exportLicenseFromFile,
	exportIsFileEncrypted,
}

// guest is the instantiated engine module as seen by Engine.
type guest interface {
	Memory() api.Memory
	Has(name string) bool
	Call(ctx context.Context, name string, params ...uint64) ([]uint64, error)
	Close(ctx context.Context) error
}

// moduleGuest is a guest backed by a wazero module instance.
type moduleGuest struct {
	mod api.Module
	fns map[string]api.Function
}

func newModuleGuest(mod api.Module) *moduleGuest {
	g := &moduleGuest{mod: mod, fns: make(map[string]api.Function)}
	for name := range mod.ExportedFunctionDefinitions() {
		if fn := mod.ExportedFunction(name); fn != nil {
			g.fns[name] = fn
		}
	}
	return g
}

func (g *moduleGuest) Memory() api.Memory {
	return g.mod.Memory()
}

func (g *moduleGuest) Has(name string) bool {
	_, ok := g.fns[name]
	return ok
}

func (g *moduleGuest) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn, ok := g.fns[name]
	if !ok {
		return nil, fmt.Errorf("export %q not found", name)
	}
	return fn.Call(ctx, params...)
}

func (g *moduleGuest) Close(ctx context.Context) error {
	return g.mod.Close(ctx)
}

func missingExports(g guest) []string {
	var missing []string
	for _, name := range requiredExports {
		if !g.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}
