package fileapi

import (
	"context"

	"go.uber.org/zap"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/errors"
)

// Operation names used in errors and logs.
const (
	OpEncryptFile       = "encrypt-file"
	OpEncryptStream     = "encrypt-file-stream"
	OpDecryptFile       = "decrypt-file"
	OpDecryptStream     = "decrypt-file-stream"
	OpLicenseFromFile   = "serialized-license-from-file"
	OpLicenseFromStream = "serialized-license-from-file-stream"
	OpIsFileEncrypted   = "is-file-encrypted"
	OpIsStreamEncrypted = "is-file-stream-encrypted"
)

// Adapter calls an IRM engine on behalf of Go callers.
type Adapter struct {
	engine ipcf.Engine
	logger *zap.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger used for call tracing. Nil keeps the default.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an adapter over engine.
func New(engine ipcf.Engine, opts ...Option) *Adapter {
	a := &Adapter{
		engine: engine,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Engine returns the underlying engine.
func (a *Adapter) Engine() ipcf.Engine {
	return a.engine
}

// Options are the per-call settings for path-based encrypt and decrypt.
type Options struct {
	// OutputDir is where the engine writes its output. Empty lets the engine
	// choose, usually the input's directory.
	OutputDir string

	Prompt ipcf.PromptParams
}

// EncryptFile protects the file at inputPath under license and returns the
// path of the protected file.
func (a *Adapter) EncryptFile(ctx context.Context, inputPath string, license ipcf.License, flags ipcf.EncryptFlags, opts Options) (string, error) {
	c, err := a.begin(ctx, OpEncryptFile, inputPath)
	if err != nil {
		return "", err
	}
	defer c.end()

	if err := c.prompt(opts.Prompt); err != nil {
		return "", err
	}
	lic, kind, err := c.license(license)
	if err != nil {
		return "", err
	}

	out, st, err := a.engine.EncryptFile(ctx, inputPath, lic, kind, uint32(flags), c.pc, opts.OutputDir)
	c.out = out
	if err := c.check(st, err); err != nil {
		return "", err
	}
	return c.outputName(inputPath)
}

// DecryptFile removes protection from the file at inputPath and returns the
// path of the decrypted file.
func (a *Adapter) DecryptFile(ctx context.Context, inputPath string, flags ipcf.DecryptFlags, opts Options) (string, error) {
	c, err := a.begin(ctx, OpDecryptFile, inputPath)
	if err != nil {
		return "", err
	}
	defer c.end()

	if err := c.prompt(opts.Prompt); err != nil {
		return "", err
	}

	out, st, err := a.engine.DecryptFile(ctx, inputPath, uint32(flags), c.pc, opts.OutputDir)
	c.out = out
	if err := c.check(st, err); err != nil {
		return "", err
	}
	return c.outputName(inputPath)
}

// EncryptLockBytes protects in, writing the result to out. inputPath names
// the content for the engine (it picks the format from the extension) and is
// returned when the engine reports no new name.
func (a *Adapter) EncryptLockBytes(ctx context.Context, in ipcf.LockBytes, inputPath string, license ipcf.License, flags ipcf.EncryptFlags, prompt ipcf.PromptParams, out ipcf.LockBytes) (string, error) {
	c, err := a.begin(ctx, OpEncryptStream, inputPath)
	if err != nil {
		return "", err
	}
	defer c.end()

	if in == nil || out == nil {
		return "", c.invalid("input and output streams are required")
	}
	if err := c.prompt(prompt); err != nil {
		return "", err
	}
	lic, kind, err := c.license(license)
	if err != nil {
		return "", err
	}

	name, st, err := a.engine.EncryptFileStream(ctx, in, inputPath, lic, kind, uint32(flags), c.pc, out)
	c.out = name
	if err := c.check(st, err); err != nil {
		return "", err
	}
	return c.outputName(inputPath)
}

// DecryptLockBytes removes protection from in, writing the result to out.
// The prompt context for stream decryption never carries a symmetric key.
func (a *Adapter) DecryptLockBytes(ctx context.Context, in ipcf.LockBytes, inputPath string, flags ipcf.DecryptFlags, prompt ipcf.PromptParams, out ipcf.LockBytes) (string, error) {
	c, err := a.begin(ctx, OpDecryptStream, inputPath)
	if err != nil {
		return "", err
	}
	defer c.end()

	if in == nil || out == nil {
		return "", c.invalid("input and output streams are required")
	}
	prompt.SymmetricKey = nil
	if err := c.prompt(prompt); err != nil {
		return "", err
	}

	name, st, err := a.engine.DecryptFileStream(ctx, in, inputPath, uint32(flags), c.pc, out)
	c.out = name
	if err := c.check(st, err); err != nil {
		return "", err
	}
	return c.outputName(inputPath)
}

// SerializedLicenseFromFile returns the serialized license of a protected
// file.
func (a *Adapter) SerializedLicenseFromFile(ctx context.Context, inputPath string) ([]byte, error) {
	c, err := a.begin(ctx, OpLicenseFromFile, inputPath)
	if err != nil {
		return nil, err
	}
	defer c.end()

	lic, st, err := a.engine.SerializedLicenseFromFile(ctx, inputPath)
	c.out = lic
	if err := c.check(st, err); err != nil {
		return nil, err
	}
	return c.outputBuffer()
}

// SerializedLicenseFromLockBytes returns the serialized license of protected
// content held in in.
func (a *Adapter) SerializedLicenseFromLockBytes(ctx context.Context, in ipcf.LockBytes, inputPath string) ([]byte, error) {
	c, err := a.begin(ctx, OpLicenseFromStream, inputPath)
	if err != nil {
		return nil, err
	}
	defer c.end()

	if in == nil {
		return nil, c.invalid("input stream is required")
	}

	lic, st, err := a.engine.SerializedLicenseFromFileStream(ctx, in, inputPath)
	c.out = lic
	if err := c.check(st, err); err != nil {
		return nil, err
	}
	return c.outputBuffer()
}

// FileStatus reports the protection state of the file at inputPath.
func (a *Adapter) FileStatus(ctx context.Context, inputPath string) (ipcf.FileStatus, error) {
	c, err := a.begin(ctx, OpIsFileEncrypted, inputPath)
	if err != nil {
		return 0, err
	}
	defer c.end()

	fs, st, err := a.engine.IsFileEncrypted(ctx, inputPath)
	if err := c.check(st, err); err != nil {
		return 0, err
	}
	return ipcf.FileStatus(fs), nil
}

// IsLockBytesEncrypted reports whether the content in in is protected.
func (a *Adapter) IsLockBytesEncrypted(ctx context.Context, in ipcf.LockBytes, inputPath string) (bool, error) {
	c, err := a.begin(ctx, OpIsStreamEncrypted, inputPath)
	if err != nil {
		return false, err
	}
	defer c.end()

	if in == nil {
		return false, c.invalid("input stream is required")
	}

	fs, st, err := a.engine.IsFileStreamEncrypted(ctx, in, inputPath)
	if err := c.check(st, err); err != nil {
		return false, err
	}
	return ipcf.FileStatus(fs).Encrypted(), nil
}

func (a *Adapter) begin(ctx context.Context, op, path string) (*call, error) {
	if a.engine == nil {
		return nil, errors.NotInitialized(errors.PhaseEngine, "engine")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.PhaseEngine, errors.KindInvalidInput).
			Op(op).Path(path).Cause(err).Detail("context done before call").Build()
	}
	return newCall(ctx, a, op, path), nil
}
