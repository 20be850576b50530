package imgedit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/imgeditor/imgeditor/internal/vfile"
)

// dispatchFakeEditor implements every optional interface so dispatch.go's
// command runners can all be exercised against one editor.
type dispatchFakeEditor struct {
	name       string
	flags      Flags
	headerSize int64
	magic      []byte
	detectErr  error

	detected  bool
	listed    bool
	unpackDir string
	packDir   string
	peekSize  int64
	mainArgs []string
}

type dispatchFakeState struct{}

func (f *dispatchFakeEditor) Name() string       { return f.name }
func (f *dispatchFakeEditor) Descriptor() string { return "dispatch test editor" }
func (f *dispatchFakeEditor) Flags() Flags       { return f.flags }
func (f *dispatchFakeEditor) HeaderSize() int64  { return f.headerSize }
func (f *dispatchFakeEditor) NewState() State    { return &dispatchFakeState{} }
func (f *dispatchFakeEditor) SearchMagic() SearchMagic {
	return SearchMagic{Pattern: f.magic, Offset: 0}
}

func (f *dispatchFakeEditor) Detect(ctx *Context, st State, fh *vfile.File, forceType, inSearchMode bool) error {
	f.detected = true
	return f.detectErr
}

func (f *dispatchFakeEditor) List(ctx *Context, st State, fh *vfile.File) error {
	f.listed = true
	return nil
}

func (f *dispatchFakeEditor) Unpack(ctx *Context, st State, fh *vfile.File, outPath string) error {
	f.unpackDir = outPath
	if f.flags&FlagMultiBin != 0 {
		return os.WriteFile(filepath.Join(outPath, "payload.bin"), []byte("data"), 0644)
	}
	return os.WriteFile(outPath, []byte("data"), 0644)
}

func (f *dispatchFakeEditor) Pack(ctx *Context, st State, dir string, out *vfile.File) error {
	f.packDir = dir
	_, err := out.Write([]byte("packed"))
	return err
}

func (f *dispatchFakeEditor) TotalSize(ctx *Context, st State, fh *vfile.File) (int64, error) {
	return f.peekSize, nil
}

func (f *dispatchFakeEditor) Main(ctx *Context, st State, args []string) error {
	f.mainArgs = args
	return nil
}

func tempVfile(t *testing.T, contents []byte) *vfile.File {
	t.Helper()
	tmp, err := os.CreateTemp(t.TempDir(), "dispatch*.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmp.Write(contents); err != nil {
		t.Fatal(err)
	}
	fh, err := vfile.FromOS(tmp, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fh.Close() })
	return fh
}

func TestResolveByExplicitTypeName(t *testing.T) {
	ctx := NewContext()
	e := &dispatchFakeEditor{name: "always", flags: FlagSingleBin}
	ctx.Registry().Register(e)

	fh := tempVfile(t, []byte("irrelevant"))
	r, err := ctx.Resolve(fh, "always")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Editor.Name() != "always" {
		t.Fatalf("Resolve returned editor %q, want %q", r.Editor.Name(), "always")
	}
}

func TestResolveUnknownTypeName(t *testing.T) {
	ctx := NewContext()
	fh := tempVfile(t, []byte("irrelevant"))
	if _, err := ctx.Resolve(fh, "nosuch"); err == nil {
		t.Fatal("expected an error resolving an unregistered type name")
	}
}

func TestResolveAutoDetectSkipsEditorsBiggerThanInput(t *testing.T) {
	ctx := NewContext()
	tooBig := &dispatchFakeEditor{name: "big", flags: FlagSingleBin, headerSize: 1 << 20, detectErr: nil}
	fits := &dispatchFakeEditor{name: "small", flags: FlagSingleBin, headerSize: 1, detectErr: nil}
	ctx.Registry().Register(tooBig)
	ctx.Registry().Register(fits)

	fh := tempVfile(t, []byte("x"))
	r, err := ctx.Resolve(fh, "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Editor.Name() != "small" {
		t.Fatalf("Resolve picked %q, want the editor whose HeaderSize fits", r.Editor.Name())
	}
}

func TestResolveAutoDetectNoMatch(t *testing.T) {
	ctx := NewContext()
	ctx.Registry().Register(&dispatchFakeEditor{name: "never", flags: FlagSingleBin, detectErr: ErrBadMagic})

	fh := tempVfile(t, []byte("x"))
	if _, err := ctx.Resolve(fh, ""); err == nil {
		t.Fatal("expected an error when no registered editor detects the input")
	}
}

func TestRunListCallsEditorList(t *testing.T) {
	ctx := NewContext()
	e := &dispatchFakeEditor{name: "shown", flags: FlagSingleBin}
	ctx.Registry().Register(e)
	fh := tempVfile(t, []byte("x"))

	if err := ctx.RunList(fh, "shown"); err != nil {
		t.Fatalf("RunList: %v", err)
	}
	if !e.listed {
		t.Fatal("RunList did not call the editor's List")
	}
}

func TestRunUnpackMultiBinWritesMarker(t *testing.T) {
	ctx := NewContext()
	e := &dispatchFakeEditor{name: "multi", flags: FlagMultiBin}
	ctx.Registry().Register(e)
	fh := tempVfile(t, []byte("x"))

	outDir := filepath.Join(t.TempDir(), "out")
	if err := ctx.RunUnpack(fh, "multi", outDir); err != nil {
		t.Fatalf("RunUnpack: %v", err)
	}

	marker, err := os.ReadFile(filepath.Join(outDir, ".imgeditor"))
	if err != nil {
		t.Fatalf("reading .imgeditor marker: %v", err)
	}
	if string(marker) != "multi" {
		t.Fatalf("marker = %q, want %q", marker, "multi")
	}
}

func TestRunUnpackSingleBinWritesNoMarker(t *testing.T) {
	ctx := NewContext()
	e := &dispatchFakeEditor{name: "single", flags: FlagSingleBin}
	ctx.Registry().Register(e)
	fh := tempVfile(t, []byte("x"))

	outPath := filepath.Join(t.TempDir(), "out.bin")
	if err := ctx.RunUnpack(fh, "single", outPath); err != nil {
		t.Fatalf("RunUnpack: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(outPath), ".imgeditor")); err == nil {
		t.Fatal("single-bin unpack should not write a .imgeditor marker")
	}
}

func TestRunPackInfersTypeFromMarker(t *testing.T) {
	ctx := NewContext()
	e := &dispatchFakeEditor{name: "packable", flags: FlagMultiBin}
	ctx.Registry().Register(e)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".imgeditor"), []byte("packable"), 0644); err != nil {
		t.Fatal(err)
	}

	outPath := filepath.Join(t.TempDir(), "repacked.bin")
	out, err := vfile.OpenForWrite(outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	if err := ctx.RunPack(dir, "", out); err != nil {
		t.Fatalf("RunPack: %v", err)
	}
	if e.packDir != dir {
		t.Fatalf("Pack called with dir %q, want %q", e.packDir, dir)
	}
}

func TestRunPeekCopiesTotalSizeBytes(t *testing.T) {
	ctx := NewContext()
	e := &dispatchFakeEditor{name: "peekable", flags: FlagSingleBin, peekSize: 4}
	ctx.Registry().Register(e)
	fh := tempVfile(t, []byte("abcdefgh"))

	outPath := filepath.Join(t.TempDir(), "peek.bin")
	out, err := vfile.OpenForWrite(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := ctx.RunPeek(fh, "peekable", out); err != nil {
		out.Close()
		t.Fatalf("RunPeek: %v", err)
	}
	out.Close()

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "abcd" {
		t.Fatalf("RunPeek copied %q, want %q", got, "abcd")
	}
}

func TestRunMainDetectsWhenFileGiven(t *testing.T) {
	ctx := NewContext()
	e := &dispatchFakeEditor{name: "runnable", flags: FlagSingleBin}
	ctx.Registry().Register(e)
	fh := tempVfile(t, []byte("x"))

	if err := ctx.RunMain(fh, "runnable", []string{"sub", "arg"}); err != nil {
		t.Fatalf("RunMain: %v", err)
	}
	if !e.detected {
		t.Fatal("RunMain with a file did not call the editor's Detect")
	}
	if len(e.mainArgs) != 2 || e.mainArgs[0] != "sub" {
		t.Fatalf("Main received %v, want [sub arg]", e.mainArgs)
	}
}

func TestRunMainWithoutFileSkipsDetect(t *testing.T) {
	ctx := NewContext()
	e := &dispatchFakeEditor{name: "nofile", flags: FlagSingleBin}
	ctx.Registry().Register(e)

	if err := ctx.RunMain(nil, "nofile", []string{"sub"}); err != nil {
		t.Fatalf("RunMain: %v", err)
	}
	if e.detected {
		t.Fatal("RunMain without a file should not call the editor's Detect")
	}
}
