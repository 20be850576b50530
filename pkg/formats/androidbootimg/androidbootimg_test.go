package androidbootimg

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"testing"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

func buildImage(t *testing.T, kernel, ramdisk []byte) string {
	t.Helper()
	const pageSize = 2048

	hdr := make([]byte, hdrV0Size)
	copy(hdr[0:magicSize], magic)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(kernel)))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(len(ramdisk)))
	binary.LittleEndian.PutUint32(hdr[36:], pageSize)
	copy(hdr[48:48+16], "myboard")

	pad := func(b []byte) []byte {
		n := (len(b) + pageSize - 1) / pageSize * pageSize
		out := make([]byte, n)
		copy(out, b)
		return out
	}

	var buf []byte
	buf = append(buf, pad(hdr)...)
	buf = append(buf, pad(kernel)...)
	buf = append(buf, pad(ramdisk)...)

	f, err := os.CreateTemp(t.TempDir(), "boot*.img")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(buf); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func TestDetectAndUnpack(t *testing.T) {
	kernel := []byte("fake-kernel-data")
	ramdisk := []byte("fake-ramdisk-data")
	path := buildImage(t, kernel, ramdisk)

	fh, err := vfile.Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()

	ctx := imgedit.NewContext()
	st := Editor.NewState()
	if err := Editor.Detect(ctx, st, fh, true, false); err != nil {
		t.Fatalf("Detect: %v", err)
	}

	h := st.(*State).Header
	if h.Name != "myboard" {
		t.Fatalf("Name = %q, want myboard", h.Name)
	}
	if h.KernelSize != uint32(len(kernel)) || h.RamdiskSize != uint32(len(ramdisk)) {
		t.Fatalf("unexpected sizes: kernel=%d ramdisk=%d", h.KernelSize, h.RamdiskSize)
	}

	outDir := t.TempDir()
	if err := Editor.Unpack(ctx, st, fh, outDir); err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	gotKernel, err := os.ReadFile(outDir + "/kernel.bin")
	if err != nil {
		t.Fatalf("reading unpacked kernel: %v", err)
	}
	if string(gotKernel) != string(kernel) {
		t.Fatalf("unpacked kernel = %q, want %q", gotKernel, kernel)
	}

	metaRaw, err := os.ReadFile(outDir + "/abootimg.json")
	if err != nil {
		t.Fatalf("reading abootimg.json: %v", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		t.Fatalf("parsing abootimg.json: %v", err)
	}
	if meta["name"] != "myboard" {
		t.Fatalf("abootimg.json name = %v, want myboard", meta["name"])
	}
	id, _ := meta["id"].(string)
	if len(id) != 40 {
		t.Fatalf("abootimg.json id = %q, want a 40-char sha1 hex digest", id)
	}
}

func TestPackRoundTrip(t *testing.T) {
	kernel := []byte("fake-kernel-data")
	ramdisk := []byte("fake-ramdisk-data")
	path := buildImage(t, kernel, ramdisk)

	fh, err := vfile.Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()

	ctx := imgedit.NewContext()
	st := Editor.NewState()
	if err := Editor.Detect(ctx, st, fh, true, false); err != nil {
		t.Fatalf("Detect: %v", err)
	}

	outDir := t.TempDir()
	if err := Editor.Unpack(ctx, st, fh, outDir); err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	repacked := path + ".repacked"
	out, err := vfile.OpenForWrite(repacked)
	if err != nil {
		t.Fatal(err)
	}
	if err := Editor.Pack(ctx, Editor.NewState(), outDir, out); err != nil {
		out.Close()
		t.Fatalf("Pack: %v", err)
	}
	out.Close()

	repackedFh, err := vfile.Open(repacked, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer repackedFh.Close()

	st2 := Editor.NewState()
	if err := Editor.Detect(ctx, st2, repackedFh, true, false); err != nil {
		t.Fatalf("Detect on repacked image: %v", err)
	}
	h2 := st2.(*State).Header
	if h2.Name != "myboard" {
		t.Fatalf("repacked Name = %q, want myboard", h2.Name)
	}
	if h2.KernelSize != uint32(len(kernel)) || h2.RamdiskSize != uint32(len(ramdisk)) {
		t.Fatalf("repacked sizes: kernel=%d ramdisk=%d", h2.KernelSize, h2.RamdiskSize)
	}
}
