//go:build !(windows && (amd64 || arm64))

package msipc

import (
	"runtime"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/errors"
)

// Open reports that the native library is unavailable on this platform.
func Open(cfg *Config) (ipcf.Engine, error) {
	return nil, errors.Unsupported(errors.PhaseLoad,
		cfg.dllPath()+" requires windows/amd64 or windows/arm64, running on "+runtime.GOOS+"/"+runtime.GOARCH)
}
