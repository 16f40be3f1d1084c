package engine

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero/api"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/errors"
	"github.com/wippyai/irm-fileapi/lockbytes"
)

// statusWord encodes s the way a guest returns an i32 result.
func statusWord(s ipcf.Status) uint64 {
	return api.EncodeI32(int32(s))
}

func TestAllocString(t *testing.T) {
	ctx := context.Background()
	g := newFakeGuest()
	e := newTestEngine(g)

	p, err := e.AllocString(ctx, "6f1c3a52-template")
	if err != nil {
		t.Fatalf("AllocString error: %v", err)
	}
	if g.mem.buf[uint32(p)+uint32(len("6f1c3a52-template"))] != 0 {
		t.Error("string is not NUL-terminated")
	}

	s, err := e.String(ctx, p)
	if err != nil {
		t.Fatalf("String error: %v", err)
	}
	if s != "6f1c3a52-template" {
		t.Errorf("String() = %q", s)
	}

	e.FreeString(ctx, p)
	if err := g.checkReleased(); err != nil {
		t.Fatal(err)
	}
}

func TestAllocString_Failure(t *testing.T) {
	g := newFakeGuest()
	g.failAfter = 0
	e := newTestEngine(g)

	_, err := e.AllocString(context.Background(), "x")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMarshal, Kind: errors.KindAllocation}) {
		t.Fatalf("error = %v, want allocation failure", err)
	}
}

func TestNullPointers(t *testing.T) {
	ctx := context.Background()
	g := newFakeGuest()
	e := newTestEngine(g)

	s, err := e.String(ctx, ipcf.Null)
	if err != nil || s != "" {
		t.Errorf("String(Null) = %q, %v", s, err)
	}
	b, err := e.Buffer(ctx, ipcf.Null)
	if err != nil || b != nil {
		t.Errorf("Buffer(Null) = %v, %v", b, err)
	}

	e.FreeMemory(ctx, ipcf.Null)
	for _, c := range g.calls {
		if c == exportFree {
			t.Error("FreeMemory(Null) reached the guest")
		}
	}
}

func TestString_Unterminated(t *testing.T) {
	g := newFakeGuest()
	e := newTestEngine(g)
	last := uint32(len(g.mem.buf) - 3)
	copy(g.mem.buf[last:], "abc")

	if _, err := e.String(context.Background(), ipcf.Ptr(last)); err == nil {
		t.Fatal("expected error for unterminated string")
	}
	if _, err := e.String(context.Background(), ipcf.Ptr(1<<20)); err == nil {
		t.Fatal("expected error for out of range pointer")
	}
	if _, err := e.String(context.Background(), ipcf.Ptr(1<<40)); err == nil {
		t.Fatal("expected error for pointer above 4GB")
	}
}

func TestPromptContext_Layout(t *testing.T) {
	ctx := context.Background()
	g := newFakeGuest()
	e := newTestEngine(g)

	p := ipcf.PromptParams{
		SuppressUI:   true,
		Offline:      true,
		ParentWindow: 0xABCD,
		SymmetricKey: &ipcf.SymmetricKey{
			Base64Key:      "c2VjcmV0",
			AppPrincipalID: "app-id",
			TenantID:       "tenant-id",
		},
	}
	pc, err := e.NewPromptContext(ctx, p)
	if err != nil {
		t.Fatalf("NewPromptContext error: %v", err)
	}

	base := uint32(pc)
	if got := g.u32(base + promptFlagsOffset); got != ipcf.PromptFlagSilent|ipcf.PromptFlagOffline {
		t.Errorf("flags = %#x", got)
	}
	if got := g.u32(base + promptParentOffset); got != 0xABCD {
		t.Errorf("parent window = %#x", got)
	}
	for _, tt := range []struct {
		off  uint32
		want string
	}{
		{promptKeyOffset, "c2VjcmV0"},
		{promptAppIDOffset, "app-id"},
		{promptTenantOffset, "tenant-id"},
	} {
		s, err := e.String(ctx, ipcf.Ptr(g.u32(base+tt.off)))
		if err != nil || s != tt.want {
			t.Errorf("field at %d = %q, %v; want %q", tt.off, s, err, tt.want)
		}
	}

	e.ReleasePromptContext(ctx, pc)
	if err := g.checkReleased(); err != nil {
		t.Fatal(err)
	}
}

func TestPromptContext_NoKey(t *testing.T) {
	ctx := context.Background()
	g := newFakeGuest()
	e := newTestEngine(g)

	pc, err := e.NewPromptContext(ctx, ipcf.PromptParams{HasUserConsent: true})
	if err != nil {
		t.Fatalf("NewPromptContext error: %v", err)
	}
	if got := g.u32(uint32(pc) + promptKeyOffset); got != 0 {
		t.Errorf("key pointer = %#x, want 0", got)
	}
	if len(g.live) != 1 {
		t.Errorf("allocations = %d, want 1", len(g.live))
	}
	e.ReleasePromptContext(ctx, pc)

	// Unknown and repeated releases are ignored.
	e.ReleasePromptContext(ctx, pc)
	if err := g.checkReleased(); err != nil {
		t.Fatal(err)
	}
}

func TestPromptContext_PartialFailure(t *testing.T) {
	for after := 0; after < 4; after++ {
		g := newFakeGuest()
		g.failAfter = after
		e := newTestEngine(g)

		_, err := e.NewPromptContext(context.Background(), ipcf.PromptParams{
			SymmetricKey: &ipcf.SymmetricKey{Base64Key: "k", AppPrincipalID: "a", TenantID: "t"},
		})
		if err == nil {
			t.Fatalf("failAfter=%d: expected error", after)
		}
		if err := g.checkReleased(); err != nil {
			t.Fatalf("failAfter=%d: %v", after, err)
		}
	}
}

func TestEncryptFile(t *testing.T) {
	ctx := context.Background()
	g := newFakeGuest()
	e := newTestEngine(g)

	var gotPath, gotDir, gotLicense string
	var gotType, gotFlags uint64
	g.fns[exportEncryptFile] = func(_ context.Context, p []uint64) ([]uint64, error) {
		gotPath = g.str(p[0], p[1])
		gotLicense, _ = e.unmarshal().cstring(uint32(p[2]))
		gotType, gotFlags = p[3], p[4]
		if p[7] != 0 {
			gotDir = g.str(p[6], p[7])
		}
		g.setU32(p[8], g.putCString("/data/plan.docx.pfile"))
		return []uint64{0}, nil
	}

	pc, _ := e.NewPromptContext(ctx, ipcf.PromptParams{})
	lic, _ := e.AllocString(ctx, "tpl-1")

	out, st, err := e.EncryptFile(ctx, "/data/plan.docx", lic, ipcf.LicenseInfoTemplateID, uint32(ipcf.EncryptFlagKeyNoPersist), pc, "")
	if err != nil || st != ipcf.StatusOK {
		t.Fatalf("EncryptFile = %v, %v", st, err)
	}
	if gotPath != "/data/plan.docx" || gotLicense != "tpl-1" || gotDir != "" {
		t.Errorf("guest saw path=%q license=%q dir=%q", gotPath, gotLicense, gotDir)
	}
	if gotType != uint64(ipcf.LicenseInfoTemplateID) || gotFlags != uint64(ipcf.EncryptFlagKeyNoPersist) {
		t.Errorf("guest saw type=%d flags=%#x", gotType, gotFlags)
	}

	name, err := e.String(ctx, out)
	if err != nil || name != "/data/plan.docx.pfile" {
		t.Errorf("output = %q, %v", name, err)
	}

	e.FreeMemory(ctx, out)
	e.FreeString(ctx, lic)
	e.ReleasePromptContext(ctx, pc)
	if err := g.checkReleased(); err != nil {
		t.Fatal(err)
	}
}

func TestDecryptFile_StatusAndOutputDir(t *testing.T) {
	ctx := context.Background()
	g := newFakeGuest()
	e := newTestEngine(g)

	var gotDir string
	var gotFlags uint64
	g.fns[exportDecryptFile] = func(_ context.Context, p []uint64) ([]uint64, error) {
		gotFlags = p[2]
		gotDir = g.str(p[4], p[5])
		return []uint64{statusWord(ipcf.StatusAccessDenied)}, nil
	}

	pc, _ := e.NewPromptContext(ctx, ipcf.PromptParams{})
	defer e.ReleasePromptContext(ctx, pc)

	out, st, err := e.DecryptFile(ctx, "/data/a.pfile", uint32(ipcf.DecryptFlagOpenAsRMSAware), pc, "/out")
	if err != nil {
		t.Fatalf("DecryptFile error: %v", err)
	}
	if st != ipcf.StatusAccessDenied {
		t.Errorf("status = %v, want %v", st, ipcf.StatusAccessDenied)
	}
	if out != ipcf.Null {
		t.Errorf("output = %#x, want null", uint64(out))
	}
	if gotDir != "/out" || gotFlags != 1 {
		t.Errorf("guest saw dir=%q flags=%d", gotDir, gotFlags)
	}
}

func TestEntryPoint_Trap(t *testing.T) {
	ctx := context.Background()
	g := newFakeGuest()
	e := newTestEngine(g)
	g.fns[exportIsFileEncrypted] = func(context.Context, []uint64) ([]uint64, error) {
		return nil, errTrap
	}

	_, _, err := e.IsFileEncrypted(ctx, "/x")
	if !stderrors.Is(err, errTrap) {
		t.Fatalf("error = %v, want trap", err)
	}
	if err := g.checkReleased(); err != nil {
		t.Fatalf("scratch not released after trap: %v", err)
	}
}

func TestEntryPoint_ScratchAllocFailure(t *testing.T) {
	ctx := context.Background()
	g := newFakeGuest()
	g.failAfter = 1
	e := newTestEngine(g)

	_, _, err := e.SerializedLicenseFromFile(ctx, "/x.pfile")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, c := range g.calls {
		if c == exportLicenseFromFile {
			t.Error("entry point called after marshal failure")
		}
	}
	if err := g.checkReleased(); err != nil {
		t.Fatal(err)
	}
}

func TestSerializedLicense_Buffer(t *testing.T) {
	ctx := context.Background()
	g := newFakeGuest()
	e := newTestEngine(g)
	g.fns[exportLicenseFromFile] = func(_ context.Context, p []uint64) ([]uint64, error) {
		g.setU32(p[2], g.putBuffer([]byte("<XrML/>")))
		return []uint64{0}, nil
	}

	out, st, err := e.SerializedLicenseFromFile(ctx, "/doc.pfile")
	if err != nil || st.Failed() {
		t.Fatalf("SerializedLicenseFromFile = %v, %v", st, err)
	}
	data, err := e.Buffer(ctx, out)
	if err != nil {
		t.Fatalf("Buffer error: %v", err)
	}
	if string(data) != "<XrML/>" {
		t.Errorf("license = %q", data)
	}

	e.FreeMemory(ctx, out)
	if err := g.checkReleased(); err != nil {
		t.Fatal(err)
	}
}

func TestIsFileEncrypted(t *testing.T) {
	g := newFakeGuest()
	e := newTestEngine(g)
	g.fns[exportIsFileEncrypted] = func(_ context.Context, p []uint64) ([]uint64, error) {
		if g.str(p[0], p[1]) == "/enc.docx" {
			g.setU32(p[2], uint32(ipcf.FileStatusEncrypted))
		}
		return []uint64{0}, nil
	}

	for path, want := range map[string]ipcf.FileStatus{
		"/enc.docx":   ipcf.FileStatusEncrypted,
		"/plain.docx": ipcf.FileStatusDecrypted,
	} {
		fs, st, err := e.IsFileEncrypted(context.Background(), path)
		if err != nil || st.Failed() {
			t.Fatalf("IsFileEncrypted(%s) = %v, %v", path, st, err)
		}
		if ipcf.FileStatus(fs) != want {
			t.Errorf("IsFileEncrypted(%s) = %d, want %d", path, fs, want)
		}
	}
	if err := g.checkReleased(); err != nil {
		t.Fatal(err)
	}
}

func TestStreams(t *testing.T) {
	ctx := context.Background()
	g := newFakeGuest()
	e := newTestEngine(g)

	g.fns[exportEncryptFileStream] = func(_ context.Context, p []uint64) ([]uint64, error) {
		in, out := uint32(p[0]), uint32(p[7])
		size := e.host.stat(in)
		if size < 0 {
			return []uint64{statusWord(ipcf.StatusFail)}, nil
		}
		buf := g.alloc(uint32(size) + 4)
		defer g.free(buf)
		copy(g.mem.buf[buf:], "ENC:")
		if n := e.host.readAt(g.mem, in, 0, buf+4, uint32(size)); int64(n) != size {
			return []uint64{statusWord(ipcf.StatusFail)}, nil
		}
		if e.host.setSize(out, 0) != hostOK {
			return []uint64{statusWord(ipcf.StatusFail)}, nil
		}
		e.host.writeAt(g.mem, out, 0, buf, uint32(size)+4)
		e.host.flush(out)
		g.setU32(p[8], g.putCString(g.str(p[1], p[2])+".pfile"))
		return []uint64{0}, nil
	}

	pc, _ := e.NewPromptContext(ctx, ipcf.PromptParams{})
	defer e.ReleasePromptContext(ctx, pc)

	in := lockbytes.NewBuffer([]byte("payload"))
	out := lockbytes.NewBuffer([]byte("previous content"))
	name, st, err := e.EncryptFileStream(ctx, in, "memo.txt", ipcf.Ptr(7), ipcf.LicenseInfoHandle, 0, pc, out)
	if err != nil || st.Failed() {
		t.Fatalf("EncryptFileStream = %v, %v", st, err)
	}
	if string(out.Bytes()) != "ENC:payload" {
		t.Errorf("output stream = %q", out.Bytes())
	}
	s, _ := e.String(ctx, name)
	if s != "memo.txt.pfile" {
		t.Errorf("name = %q", s)
	}
	e.FreeMemory(ctx, name)

	if n := e.streams.Len(); n != 0 {
		t.Errorf("stream handles still registered: %d", n)
	}
}

func TestStreams_Unsupported(t *testing.T) {
	g := newFakeGuest()
	e := newTestEngine(g)

	_, _, err := e.DecryptFileStream(context.Background(), lockbytes.NewBuffer(nil), "x", 0, 0, lockbytes.NewBuffer(nil))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseEngine, Kind: errors.KindUnsupported}) {
		t.Fatalf("error = %v, want unsupported", err)
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	g := newFakeGuest()
	e := newTestEngine(g)

	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if !g.closed {
		t.Error("guest not closed")
	}
	if err := e.Close(ctx); err != nil {
		t.Errorf("second Close error: %v", err)
	}

	_, err := e.AllocString(ctx, "x")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseEngine, Kind: errors.KindClosed}) {
		t.Errorf("AllocString after Close = %v", err)
	}
	if _, _, err := e.EncryptFile(ctx, "x", 0, 0, 0, 0, ""); err == nil {
		t.Error("EncryptFile after Close should fail")
	}
	e.FreeMemory(ctx, 0x40)
}

func TestMissingExports(t *testing.T) {
	g := newFakeGuest()
	delete(g.fns, exportDecryptFile)
	delete(g.fns, exportAlloc)

	missing := missingExports(g)
	got := strings.Join(missing, ",")
	if got != exportAlloc+","+exportDecryptFile {
		t.Errorf("missing = %q", got)
	}
}

func TestLoad_InvalidModule(t *testing.T) {
	_, err := Load(context.Background(), []byte("not wasm"), nil)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindInvalidData}) {
		t.Fatalf("error = %v, want load error", err)
	}
}
