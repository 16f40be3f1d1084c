package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	ipcf "github.com/wippyai/irm-fileapi"
)

// Phase indicates where in a call the error occurred
type Phase string

const (
	PhasePrompt    Phase = "prompt"    // prompt context creation
	PhaseMarshal   Phase = "marshal"   // Go to engine memory
	PhaseEngine    Phase = "engine"    // engine entry point
	PhaseUnmarshal Phase = "unmarshal" // engine memory to Go
	PhaseStream    Phase = "stream"    // stream adapter callbacks
	PhaseLoad      Phase = "load"      // backend loading
	PhaseConfig    Phase = "config"
)

// Kind categorizes the error
type Kind string

const (
	KindStatus         Kind = "status"
	KindTrap           Kind = "trap"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindInvalidData    Kind = "invalid_data"
	KindInvalidInput   Kind = "invalid_input"
	KindUnsupported    Kind = "unsupported"
	KindAllocation     Kind = "allocation"
	KindNotFound       Kind = "not_found"
	KindNotInitialized Kind = "not_initialized"
	KindClosed         Kind = "closed"
)

// Error is the structured error type used throughout the module
type Error struct {
	Cause  error
	Op     string
	Path   string
	Detail string
	Phase  Phase
	Kind   Kind
	Status ipcf.Status
}

// Error formats as "[phase] kind in op for path: detail (caused by: cause)".
// Status errors put the engine status ahead of the detail.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Phase, e.Kind)
	if e.Op != "" {
		fmt.Fprintf(&b, " in %s", e.Op)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " for %s", e.Path)
	}

	sep := ": "
	if e.Kind == KindStatus {
		fmt.Fprintf(&b, ": status %s", e.Status)
		sep = " - "
	}
	if e.Detail != "" {
		b.WriteString(sep)
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Phase and Kind must match;
// a target carrying a non-zero Status must also match the status.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Phase != t.Phase || e.Kind != t.Kind {
		return false
	}
	return t.Status == ipcf.StatusOK || t.Status == e.Status
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Op sets the operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Path sets the file path the operation acted on
func (b *Builder) Path(path string) *Builder {
	b.err.Path = path
	return b
}

// Status sets the engine status code
func (b *Builder) Status(s ipcf.Status) *Builder {
	b.err.Status = s
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// FromStatus creates the error for a failed engine call
func FromStatus(op, path string, status ipcf.Status) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindStatus,
		Op:     op,
		Path:   path,
		Status: status,
	}
}

// StatusOf extracts the engine status carried by err, if any.
func StatusOf(err error) (ipcf.Status, bool) {
	var e *Error
	if stderrors.As(err, &e) && e.Kind == KindStatus {
		return e.Status, true
	}
	return ipcf.StatusOK, false
}

// Trap wraps a boundary fault raised while calling into the engine
func Trap(op, path string, cause error) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindTrap,
		Op:     op,
		Path:   path,
		Detail: "engine call faulted",
		Cause:  cause,
	}
}

func newError(phase Phase, kind Kind, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: detail}
}

// AllocationFailed reports that engine memory could not be obtained.
func AllocationFailed(phase Phase, size uint32) *Error {
	return newError(phase, KindAllocation, fmt.Sprintf("engine could not allocate %d bytes", size))
}

// OutOfBounds reports a pointer range outside engine memory.
func OutOfBounds(phase Phase, offset uint32, length int) *Error {
	return newError(phase, KindOutOfBounds, fmt.Sprintf("offset %d length %d outside engine memory", offset, length))
}

// Unsupported reports an entry point the backend does not provide.
func Unsupported(phase Phase, what string) *Error {
	return newError(phase, KindUnsupported, what)
}

func InvalidInput(phase Phase, detail string) *Error {
	return newError(phase, KindInvalidInput, detail)
}

func InvalidData(phase Phase, detail string) *Error {
	return newError(phase, KindInvalidData, detail)
}

// NotFound reports a missing export, procedure or file.
func NotFound(phase Phase, what, name string) *Error {
	return newError(phase, KindNotFound, fmt.Sprintf("%s %q not found", what, name))
}

// NotInitialized reports a backend used before it was loaded.
func NotInitialized(phase Phase, component string) *Error {
	return newError(phase, KindNotInitialized, component+" not initialized")
}

// Closed reports use of a released engine.
func Closed(phase Phase, component string) *Error {
	return newError(phase, KindClosed, component+" closed")
}

// Wrap attaches phase and kind to an error from outside the package.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	e := newError(phase, kind, detail)
	e.Cause = cause
	return e
}

// Load reports a backend that failed to load.
func Load(detail string, cause error) *Error {
	return Wrap(PhaseLoad, KindInvalidData, cause, detail)
}
