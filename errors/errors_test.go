package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	ipcf "github.com/wippyai/irm-fileapi"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "status error",
			err: &Error{
				Phase:  PhaseEngine,
				Kind:   KindStatus,
				Op:     "encrypt-file",
				Path:   "report.docx",
				Status: ipcf.StatusAccessDenied,
				Detail: "template revoked",
			},
			contains: []string{"[engine]", "status", "encrypt-file", "report.docx", "E_ACCESSDENIED", "0x80070005", "template revoked"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseUnmarshal,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[unmarshal]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseMarshal,
				Kind:   KindAllocation,
				Detail: "guest memory full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[marshal]", "allocation", "guest memory full", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseEngine,
		Kind:  KindTrap,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := FromStatus("decrypt-file", "a.pdf", ipcf.StatusCancelled)

	if !err.Is(&Error{Phase: PhaseEngine, Kind: KindStatus}) {
		t.Error("Is should match same phase and kind")
	}

	if !err.Is(&Error{Phase: PhaseEngine, Kind: KindStatus, Status: ipcf.StatusCancelled}) {
		t.Error("Is should match same status")
	}

	if err.Is(&Error{Phase: PhaseEngine, Kind: KindStatus, Status: ipcf.StatusFail}) {
		t.Error("Is should not match different status")
	}

	if err.Is(&Error{Phase: PhaseMarshal, Kind: KindStatus}) {
		t.Error("Is should not match different phase")
	}

	if err.Is(&Error{Phase: PhaseEngine, Kind: KindTrap}) {
		t.Error("Is should not match different kind")
	}

	wrapped := fmt.Errorf("protect: %w", err)
	if !errors.Is(wrapped, &Error{Phase: PhaseEngine, Kind: KindStatus}) {
		t.Error("errors.Is should match through wrapping")
	}
}

func TestStatusOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", FromStatus("is-file-encrypted", "x", ipcf.StatusFileNotFound))

	st, ok := StatusOf(err)
	if !ok {
		t.Fatal("StatusOf did not find status")
	}
	if st != ipcf.StatusFileNotFound {
		t.Errorf("status = %v, want %v", st, ipcf.StatusFileNotFound)
	}

	if _, ok := StatusOf(Trap("encrypt-file", "x", errors.New("unreachable"))); ok {
		t.Error("trap error should not carry a status")
	}
	if _, ok := StatusOf(errors.New("plain")); ok {
		t.Error("plain error should not carry a status")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseMarshal, KindAllocation).
		Op("alloc-string").
		Path("in.txt").
		Status(ipcf.StatusOutOfMemory).
		Cause(cause).
		Detail("requested %d bytes", 64).
		Build()

	if err.Phase != PhaseMarshal {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseMarshal)
	}
	if err.Kind != KindAllocation {
		t.Errorf("Kind = %v, want %v", err.Kind, KindAllocation)
	}
	if err.Op != "alloc-string" {
		t.Errorf("Op = %v, want alloc-string", err.Op)
	}
	if err.Path != "in.txt" {
		t.Errorf("Path = %v, want in.txt", err.Path)
	}
	if err.Status != ipcf.StatusOutOfMemory {
		t.Errorf("Status = %v, want %v", err.Status, ipcf.StatusOutOfMemory)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "requested 64 bytes" {
		t.Errorf("Detail = %v, want 'requested 64 bytes'", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("AllocationFailed", func(t *testing.T) {
		err := AllocationFailed(PhaseMarshal, 1024)
		if err.Kind != KindAllocation {
			t.Errorf("Kind = %v, want %v", err.Kind, KindAllocation)
		}
		if !strings.Contains(err.Detail, "1024") {
			t.Errorf("Detail = %v, should contain size", err.Detail)
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		err := OutOfBounds(PhaseUnmarshal, 70000, 16)
		if err.Kind != KindOutOfBounds {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfBounds)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		err := Unsupported(PhaseEngine, "stream entry points")
		if err.Kind != KindUnsupported {
			t.Errorf("Kind = %v, want %v", err.Kind, KindUnsupported)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		err := NotFound(PhaseLoad, "export", "ipc_alloc")
		if err.Kind != KindNotFound {
			t.Errorf("Kind = %v, want %v", err.Kind, KindNotFound)
		}
		if !strings.Contains(err.Detail, "ipc_alloc") {
			t.Errorf("Detail = %v, should contain name", err.Detail)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		err := Closed(PhaseEngine, "engine")
		if err.Kind != KindClosed {
			t.Errorf("Kind = %v, want %v", err.Kind, KindClosed)
		}
	})

	t.Run("Load", func(t *testing.T) {
		cause := errors.New("bad magic")
		err := Load("compile module", cause)
		if err.Phase != PhaseLoad {
			t.Errorf("Phase = %v, want %v", err.Phase, PhaseLoad)
		}
		if !errors.Is(err, cause) {
			t.Error("Load should wrap cause")
		}
	})
}
