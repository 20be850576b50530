package gpt

import (
	"os"
	"testing"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/primitives/crc"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

func buildImage(t *testing.T) string {
	t.Helper()

	const diskSectors = 256
	buf := make([]byte, diskSectors*sectorSize)

	h := Header{
		Revision:             0x00010000,
		HeaderSize:           headerSize,
		MyLBA:                1,
		AlternateLBA:         diskSectors - 1,
		FirstUsableLBA:       34,
		LastUsableLBA:        diskSectors - 34,
		PartitionEntryLBA:    2,
		NumPartitionEntries:  128,
		SizeofPartitionEntry: entrySize,
	}
	copy(h.Signature[:], signature)

	e := Entry{
		StartLBA: 40,
		EndLBA:   100,
		Name:     "rootfs",
	}
	entryTable := make([]byte, int(h.NumPartitionEntries)*entrySize)
	copy(entryTable[0:entrySize], encodeEntry(e))

	arrayCRC := crc.Checksum32(crc.CRC32ISOHDLC, entryTable)
	h.PartitionEntryArrayCRC32 = arrayCRC

	hb := h.encode()
	check := crc.NewCRC32(crc.CRC32ISOHDLC)
	check.Update(hb)
	h.HeaderCRC32 = check.Finish()
	hb = h.encode()

	copy(buf[1*sectorSize:], hb)
	copy(buf[2*sectorSize:], entryTable)

	f, err := os.CreateTemp(t.TempDir(), "gpt*.img")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(buf); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func TestDetectAndListRoundTrip(t *testing.T) {
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
	if len(s.Entries) != 1 {
		t.Fatalf("expected 1 partition entry, got %d", len(s.Entries))
	}
	if s.Entries[0].Name != "rootfs" {
		t.Fatalf("entry name = %q, want rootfs", s.Entries[0].Name)
	}
	if s.Entries[0].StartLBA != 40 || s.Entries[0].EndLBA != 100 {
		t.Fatalf("entry LBA range = [%d,%d], want [40,100]", s.Entries[0].StartLBA, s.Entries[0].EndLBA)
	}
}

func TestDetectRejectsBadSignature(t *testing.T) {
	path := buildImage(t)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[512] = 'X'
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
		t.Fatal("expected detect to fail on corrupted signature")
	}
}
