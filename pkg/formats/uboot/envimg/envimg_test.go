package envimg

import (
	"encoding/binary"
	"os"
	"strings"
	"testing"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/primitives/crc"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

// buildEnvImage lays out a valid uboot-env image of exactly envSize bytes:
// a leading CRC32 of the zero-padded body, followed by NUL-terminated
// "key=value" entries. envSize must be one of the candidate sizes Detect's
// brute-force search actually tries (multiples/halves of betterStep down
// to, but excluding, minSize).
func buildEnvImage(t *testing.T, envSize int64, entries []string) string {
	t.Helper()

	body := make([]byte, envSize-4)
	pos := 0
	for _, e := range entries {
		n := copy(body[pos:], e)
		pos += n + 1
	}

	check := crc.Checksum32(crc.CRC32ISOHDLC, body)
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(hdr, check)

	buf := append(hdr, body...)

	f, err := os.CreateTemp(t.TempDir(), "env*.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(buf); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func openEnvFile(t *testing.T, path string) *vfile.File {
	t.Helper()
	fh, err := vfile.Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fh.Close() })
	return fh
}

func TestDetectRequiresForceType(t *testing.T) {
	path := buildEnvImage(t, 4096, []string{"foo=bar"})
	fh := openEnvFile(t, path)

	ctx := imgedit.NewContext()
	st := Editor.NewState()
	if err := Editor.Detect(ctx, st, fh, false, false); err == nil {
		t.Fatal("expected Detect to refuse an un-forced probe")
	}
}

func TestDetectBruteForcesEnvSize(t *testing.T) {
	path := buildEnvImage(t, 4096, []string{"foo=bar", "bar=baz"})
	fh := openEnvFile(t, path)

	ctx := imgedit.NewContext()
	st := Editor.NewState()
	if err := Editor.Detect(ctx, st, fh, true, false); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got := st.(*State).EnvSize; got != 4096 {
		t.Fatalf("EnvSize = %d, want 4096", got)
	}
}

func TestDetectRejectsCorruptCRC(t *testing.T) {
	path := buildEnvImage(t, 4096, []string{"foo=bar"})

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xff, 0xff, 0xff, 0xff}, 0); err != nil {
		t.Fatal(err)
	}
	f.Close()

	fh := openEnvFile(t, path)
	ctx := imgedit.NewContext()
	st := Editor.NewState()
	if err := Editor.Detect(ctx, st, fh, true, false); err == nil {
		t.Fatal("expected Detect to reject a corrupted crc32")
	}
}

func TestUnpackWritesUEnvFile(t *testing.T) {
	path := buildEnvImage(t, 4096, []string{"foo=bar", "bar=baz"})
	fh := openEnvFile(t, path)

	ctx := imgedit.NewContext()
	st := Editor.NewState()
	if err := Editor.Detect(ctx, st, fh, true, false); err != nil {
		t.Fatalf("Detect: %v", err)
	}

	outPath := path + ".uenv"
	if err := Editor.Unpack(ctx, st, fh, outPath); err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	text := string(got)
	if !strings.HasPrefix(text, "#uEnv 4096\n") {
		t.Fatalf("unpacked file missing uEnv title line: %q", text)
	}
	if !strings.Contains(text, "foo=bar") || !strings.Contains(text, "bar=baz") {
		t.Fatalf("unpacked file missing entries: %q", text)
	}
}

func TestPackRoundTrip(t *testing.T) {
	path := buildEnvImage(t, 4096, []string{"foo=bar", "bar=baz"})
	fh := openEnvFile(t, path)

	ctx := imgedit.NewContext()
	st := Editor.NewState()
	if err := Editor.Detect(ctx, st, fh, true, false); err != nil {
		t.Fatalf("Detect: %v", err)
	}

	unpacked := path + ".uenv"
	if err := Editor.Unpack(ctx, st, fh, unpacked); err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	repacked := path + ".repacked"
	out, err := vfile.OpenForWrite(repacked)
	if err != nil {
		t.Fatal(err)
	}
	if err := Editor.Pack(ctx, Editor.NewState(), unpacked, out); err != nil {
		out.Close()
		t.Fatalf("Pack: %v", err)
	}
	out.Close()

	repackedFh := openEnvFile(t, repacked)
	st2 := Editor.NewState()
	if err := Editor.Detect(ctx, st2, repackedFh, true, false); err != nil {
		t.Fatalf("Detect on repacked image: %v", err)
	}
	if got := st2.(*State).EnvSize; got != 4096 {
		t.Fatalf("repacked EnvSize = %d, want 4096", got)
	}
}

func TestTotalSizeReturnsEnvSize(t *testing.T) {
	st := &State{EnvSize: 8192}
	got, err := Editor.TotalSize(imgedit.NewContext(), st, nil)
	if err != nil {
		t.Fatalf("TotalSize: %v", err)
	}
	if got != 8192 {
		t.Fatalf("TotalSize = %d, want 8192", got)
	}
}
