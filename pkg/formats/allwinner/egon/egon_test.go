package egon

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

func buildImage(t *testing.T, bodyExtra int) string {
	t.Helper()
	total := headerSize + bodyExtra
	buf := make([]byte, total)

	le := binary.LittleEndian
	copy(buf[4:12], "eGON.BT0")
	le.PutUint32(buf[16:20], uint32(total))
	le.PutUint32(buf[20:24], headerSize)
	le.PutUint32(buf[24:28], 0x10000)

	for i := headerSize; i < total; i++ {
		buf[i] = byte(i)
	}

	// stamp the checksum field before summing, as the real boot0 does
	le.PutUint32(buf[12:16], stampValue)
	sum := Checksum32(stampValue, buf)
	le.PutUint32(buf[12:16], sum)

	f, err := os.CreateTemp(t.TempDir(), "boot0*.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(buf); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func TestDetectVerifiesChecksum(t *testing.T) {
	path := buildImage(t, 64)
	fh, err := vfile.Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()

	ctx := imgedit.NewContext()
	st := Editor.NewState()
	if err := Editor.Detect(ctx, st, fh, false, false); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if st.(*State).Header.Version != 0x10000 {
		t.Fatalf("version = 0x%x, want 0x10000", st.(*State).Header.Version)
	}
}

func TestDetectRejectsCorruptChecksum(t *testing.T) {
	path := buildImage(t, 64)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[headerSize] ^= 0xff
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatal(err)
	}

	fh, err := vfile.Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()

	ctx := imgedit.NewContext()
	st := Editor.NewState()
	if err := Editor.Detect(ctx, st, fh, false, false); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}
