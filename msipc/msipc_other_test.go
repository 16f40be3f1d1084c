//go:build !(windows && (amd64 || arm64))

package msipc

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/wippyai/irm-fileapi/errors"
)

func TestOpen_Unsupported(t *testing.T) {
	eng, err := Open(&Config{DLLPath: `C:\rms\msipc.dll`})
	if eng != nil {
		t.Error("expected nil engine")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindUnsupported}) {
		t.Fatalf("error = %v, want unsupported", err)
	}
	if !strings.Contains(err.Error(), "msipc.dll") {
		t.Errorf("error %q does not name the library", err)
	}

	if _, err := Open(nil); err == nil {
		t.Error("Open(nil) should fail")
	}
}
