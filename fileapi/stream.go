package fileapi

import (
	"context"
	"io"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/errors"
	"github.com/wippyai/irm-fileapi/lockbytes"
)

// EncryptStream protects the content of in, writing the result to out.
func (a *Adapter) EncryptStream(ctx context.Context, in io.ReadSeeker, inputPath string, license ipcf.License, flags ipcf.EncryptFlags, prompt ipcf.PromptParams, out io.ReadWriteSeeker) (string, error) {
	inLB, outLB, err := wrapPair(OpEncryptStream, inputPath, in, out)
	if err != nil {
		return "", err
	}
	return a.EncryptLockBytes(ctx, inLB, inputPath, license, flags, prompt, outLB)
}

// DecryptStream removes protection from the content of in, writing the
// result to out.
func (a *Adapter) DecryptStream(ctx context.Context, in io.ReadSeeker, inputPath string, flags ipcf.DecryptFlags, prompt ipcf.PromptParams, out io.ReadWriteSeeker) (string, error) {
	inLB, outLB, err := wrapPair(OpDecryptStream, inputPath, in, out)
	if err != nil {
		return "", err
	}
	return a.DecryptLockBytes(ctx, inLB, inputPath, flags, prompt, outLB)
}

// SerializedLicenseFromStream returns the serialized license of protected
// content read from in.
func (a *Adapter) SerializedLicenseFromStream(ctx context.Context, in io.ReadSeeker, inputPath string) ([]byte, error) {
	lb, err := wrapStream(OpLicenseFromStream, inputPath, in)
	if err != nil {
		return nil, err
	}
	return a.SerializedLicenseFromLockBytes(ctx, lb, inputPath)
}

// IsStreamEncrypted reports whether the content read from in is protected.
func (a *Adapter) IsStreamEncrypted(ctx context.Context, in io.ReadSeeker, inputPath string) (bool, error) {
	lb, err := wrapStream(OpIsStreamEncrypted, inputPath, in)
	if err != nil {
		return false, err
	}
	return a.IsLockBytesEncrypted(ctx, lb, inputPath)
}

func wrapPair(op, path string, in io.ReadSeeker, out io.ReadWriteSeeker) (ipcf.LockBytes, ipcf.LockBytes, error) {
	inLB, err := wrapStream(op, path, in)
	if err != nil {
		return nil, nil, err
	}
	if out == nil {
		return nil, nil, errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
			Op(op).Path(path).Detail("output stream is required").Build()
	}
	outLB, err := lockbytes.Wrap(out)
	if err != nil {
		return nil, nil, errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
			Op(op).Path(path).Cause(err).Build()
	}
	return inLB, outLB, nil
}

func wrapStream(op, path string, in io.ReadSeeker) (ipcf.LockBytes, error) {
	if in == nil {
		return nil, errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
			Op(op).Path(path).Detail("input stream is required").Build()
	}
	lb, err := lockbytes.Wrap(in)
	if err != nil {
		return nil, errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
			Op(op).Path(path).Cause(err).Build()
	}
	return lb, nil
}
