package mbr

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

func buildImage(t *testing.T) string {
	t.Helper()
	buf := make([]byte, sectorSize)
	binary.LittleEndian.PutUint32(buf[440:444], 0xaabbccdd)

	e := buf[tableOffset : tableOffset+entrySize]
	e[0] = 0x80
	e[4] = 0x83
	binary.LittleEndian.PutUint32(e[8:12], 2048)
	binary.LittleEndian.PutUint32(e[12:16], 4096)

	buf[510] = bootSigByte0
	buf[511] = bootSigByte1

	f, err := os.CreateTemp(t.TempDir(), "mbr*.img")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(buf); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func TestDetectParsesOnePartition(t *testing.T) {
	path := buildImage(t)
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

	s := st.(*State)
	if len(s.Partitions) != 1 {
		t.Fatalf("expected 1 partition, got %d", len(s.Partitions))
	}
	if s.Partitions[0].StartLBA != 2048 || s.Partitions[0].SizeSectors != 4096 {
		t.Fatalf("unexpected partition: %+v", s.Partitions[0])
	}
	if s.DiskSignature != 0xaabbccdd {
		t.Fatalf("disk signature = 0x%x, want 0xaabbccdd", s.DiskSignature)
	}
}

func TestDetectRejectsMissingBootSignature(t *testing.T) {
	path := buildImage(t)
	raw, _ := os.ReadFile(path)
	raw[511] = 0
	os.WriteFile(path, raw, 0644)

	fh, err := vfile.Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()

	ctx := imgedit.NewContext()
	st := Editor.NewState()
	if err := Editor.Detect(ctx, st, fh, false, false); err == nil {
		t.Fatal("expected detect to fail without boot signature")
	}
}
