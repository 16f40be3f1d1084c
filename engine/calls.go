package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/errors"
	"github.com/wippyai/irm-fileapi/handle"
)

// scratch tracks the temporary guest allocations of one entry point call.
type scratch struct {
	ctx     context.Context
	e       *Engine
	ptrs    []uint32
	streams []handle.Handle
}

func (e *Engine) scratch(ctx context.Context) *scratch {
	return &scratch{ctx: ctx, e: e}
}

// str copies s into the guest and returns its (ptr, len) pair. The empty
// string is passed as (0, 0).
func (s *scratch) str(v string) (uint32, uint32, error) {
	if v == "" {
		return 0, 0, nil
	}
	ptr, err := s.e.cstringLocked(s.ctx, v)
	if err != nil {
		return 0, 0, err
	}
	s.ptrs = append(s.ptrs, ptr)
	return ptr, uint32(len(v)), nil
}

// slot allocates a zeroed 4-byte out parameter.
func (s *scratch) slot() (uint32, error) {
	ptr, err := s.e.allocLocked(s.ctx, 4)
	if err != nil {
		return 0, err
	}
	s.ptrs = append(s.ptrs, ptr)
	if err := s.e.mem().writeU32(ptr, 0); err != nil {
		return 0, err
	}
	return ptr, nil
}

// stream publishes lb to the guest for the duration of the call.
func (s *scratch) stream(lb ipcf.LockBytes) (uint32, error) {
	h, err := s.e.streams.Insert(handle.KindStream, lb)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseStream, errors.KindClosed, err, "register stream")
	}
	s.streams = append(s.streams, h)
	return uint32(h), nil
}

func (s *scratch) release() {
	for i := len(s.streams) - 1; i >= 0; i-- {
		s.e.streams.Remove(s.streams[i])
	}
	for i := len(s.ptrs) - 1; i >= 0; i-- {
		s.e.freeLocked(s.ctx, s.ptrs[i])
	}
	s.ptrs, s.streams = nil, nil
}

// begin locks the engine and checks that export is callable. The returned
// scratch must be released and the engine unlocked by the caller.
func (e *Engine) begin(ctx context.Context, export string) (*scratch, error) {
	e.mu.Lock()
	if err := e.checkLocked(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if !e.guest.Has(export) {
		e.mu.Unlock()
		return nil, errors.Unsupported(errors.PhaseEngine, export)
	}
	return e.scratch(ctx), nil
}

func (e *Engine) finish(s *scratch) {
	s.release()
	e.mu.Unlock()
}

// invokeLocked calls export and decodes its status result. Guest traps are
// returned unwrapped; callers classify them.
func (e *Engine) invokeLocked(ctx context.Context, export string, params ...uint64) (ipcf.Status, error) {
	res, err := e.guest.Call(ctx, export, params...)
	if err != nil {
		return ipcf.StatusOK, err
	}
	if len(res) == 0 {
		return ipcf.StatusOK, errors.InvalidData(errors.PhaseEngine, export+" returned no status")
	}
	return ipcf.Status(api.DecodeI32(res[0])), nil
}

// outputLocked reads the pointer the guest stored in slot.
func (e *Engine) outputLocked(slot uint32) (ipcf.Ptr, error) {
	v, err := e.unmarshal().readU32(slot)
	if err != nil {
		return ipcf.Null, err
	}
	return ipcf.Ptr(v), nil
}

func promptPtr(pc ipcf.PromptContext) (uint32, error) {
	return guestPtr(ipcf.Ptr(pc))
}

// EncryptFile calls ipcf_encrypt_file.
func (e *Engine) EncryptFile(ctx context.Context, inputPath string, license ipcf.Ptr, kind ipcf.LicenseInfoType, flags uint32, pc ipcf.PromptContext, outputDir string) (ipcf.Ptr, ipcf.Status, error) {
	s, err := e.begin(ctx, exportEncryptFile)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	defer e.finish(s)

	lic, err := guestPtr(license)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	pcp, err := promptPtr(pc)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	in, inLen, err := s.str(inputPath)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	dir, dirLen, err := s.str(outputDir)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	out, err := s.slot()
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}

	st, err := e.invokeLocked(ctx, exportEncryptFile,
		uint64(in), uint64(inLen), uint64(lic), uint64(kind), uint64(flags),
		uint64(pcp), uint64(dir), uint64(dirLen), uint64(out))
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	p, err := e.outputLocked(out)
	return p, st, err
}

// EncryptFileStream calls ipcf_encrypt_file_stream.
func (e *Engine) EncryptFileStream(ctx context.Context, in ipcf.LockBytes, inputPath string, license ipcf.Ptr, kind ipcf.LicenseInfoType, flags uint32, pc ipcf.PromptContext, out ipcf.LockBytes) (ipcf.Ptr, ipcf.Status, error) {
	s, err := e.begin(ctx, exportEncryptFileStream)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	defer e.finish(s)

	lic, err := guestPtr(license)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	pcp, err := promptPtr(pc)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	inH, err := s.stream(in)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	outH, err := s.stream(out)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	path, pathLen, err := s.str(inputPath)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	name, err := s.slot()
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}

	st, err := e.invokeLocked(ctx, exportEncryptFileStream,
		uint64(inH), uint64(path), uint64(pathLen), uint64(lic), uint64(kind),
		uint64(flags), uint64(pcp), uint64(outH), uint64(name))
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	p, err := e.outputLocked(name)
	return p, st, err
}

// DecryptFile calls ipcf_decrypt_file.
func (e *Engine) DecryptFile(ctx context.Context, inputPath string, flags uint32, pc ipcf.PromptContext, outputDir string) (ipcf.Ptr, ipcf.Status, error) {
	s, err := e.begin(ctx, exportDecryptFile)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	defer e.finish(s)

	pcp, err := promptPtr(pc)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	in, inLen, err := s.str(inputPath)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	dir, dirLen, err := s.str(outputDir)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	out, err := s.slot()
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}

	st, err := e.invokeLocked(ctx, exportDecryptFile,
		uint64(in), uint64(inLen), uint64(flags), uint64(pcp),
		uint64(dir), uint64(dirLen), uint64(out))
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	p, err := e.outputLocked(out)
	return p, st, err
}

// DecryptFileStream calls ipcf_decrypt_file_stream.
func (e *Engine) DecryptFileStream(ctx context.Context, in ipcf.LockBytes, inputPath string, flags uint32, pc ipcf.PromptContext, out ipcf.LockBytes) (ipcf.Ptr, ipcf.Status, error) {
	s, err := e.begin(ctx, exportDecryptFileStream)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	defer e.finish(s)

	pcp, err := promptPtr(pc)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	inH, err := s.stream(in)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	outH, err := s.stream(out)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	path, pathLen, err := s.str(inputPath)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	name, err := s.slot()
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}

	st, err := e.invokeLocked(ctx, exportDecryptFileStream,
		uint64(inH), uint64(path), uint64(pathLen), uint64(flags),
		uint64(pcp), uint64(outH), uint64(name))
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	p, err := e.outputLocked(name)
	return p, st, err
}

// SerializedLicenseFromFile calls ipcf_get_serialized_license_from_file.
func (e *Engine) SerializedLicenseFromFile(ctx context.Context, inputPath string) (ipcf.Ptr, ipcf.Status, error) {
	s, err := e.begin(ctx, exportLicenseFromFile)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	defer e.finish(s)

	in, inLen, err := s.str(inputPath)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	out, err := s.slot()
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}

	st, err := e.invokeLocked(ctx, exportLicenseFromFile, uint64(in), uint64(inLen), uint64(out))
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	p, err := e.outputLocked(out)
	return p, st, err
}

// SerializedLicenseFromFileStream calls
// ipcf_get_serialized_license_from_file_stream.
func (e *Engine) SerializedLicenseFromFileStream(ctx context.Context, in ipcf.LockBytes, inputPath string) (ipcf.Ptr, ipcf.Status, error) {
	s, err := e.begin(ctx, exportLicenseFromStream)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	defer e.finish(s)

	inH, err := s.stream(in)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	path, pathLen, err := s.str(inputPath)
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	out, err := s.slot()
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}

	st, err := e.invokeLocked(ctx, exportLicenseFromStream, uint64(inH), uint64(path), uint64(pathLen), uint64(out))
	if err != nil {
		return ipcf.Null, ipcf.StatusOK, err
	}
	p, err := e.outputLocked(out)
	return p, st, err
}

// IsFileEncrypted calls ipcf_is_file_encrypted.
func (e *Engine) IsFileEncrypted(ctx context.Context, inputPath string) (uint32, ipcf.Status, error) {
	s, err := e.begin(ctx, exportIsFileEncrypted)
	if err != nil {
		return 0, ipcf.StatusOK, err
	}
	defer e.finish(s)

	in, inLen, err := s.str(inputPath)
	if err != nil {
		return 0, ipcf.StatusOK, err
	}
	out, err := s.slot()
	if err != nil {
		return 0, ipcf.StatusOK, err
	}

	st, err := e.invokeLocked(ctx, exportIsFileEncrypted, uint64(in), uint64(inLen), uint64(out))
	if err != nil {
		return 0, ipcf.StatusOK, err
	}
	v, err := e.unmarshal().readU32(out)
	return v, st, err
}

// IsFileStreamEncrypted calls ipcf_is_file_stream_encrypted.
func (e *Engine) IsFileStreamEncrypted(ctx context.Context, in ipcf.LockBytes, inputPath string) (uint32, ipcf.Status, error) {
	s, err := e.begin(ctx, exportIsStreamEncrypted)
	if err != nil {
		return 0, ipcf.StatusOK, err
	}
	defer e.finish(s)

	inH, err := s.stream(in)
	if err != nil {
		return 0, ipcf.StatusOK, err
	}
	path, pathLen, err := s.str(inputPath)
	if err != nil {
		return 0, ipcf.StatusOK, err
	}
	out, err := s.slot()
	if err != nil {
		return 0, ipcf.StatusOK, err
	}

	st, err := e.invokeLocked(ctx, exportIsStreamEncrypted, uint64(inH), uint64(path), uint64(pathLen), uint64(out))
	if err != nil {
		return 0, ipcf.StatusOK, err
	}
	v, err := e.unmarshal().readU32(out)
	return v, st, err
}
