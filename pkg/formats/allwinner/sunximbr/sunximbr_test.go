package sunximbr

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/primitives/crc"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

func buildImage(t *testing.T) string {
	t.Helper()
	buf := make([]byte, mbrSize)
	le := binary.LittleEndian

	le.PutUint32(buf[4:8], 0x100)
	copy(buf[8:16], magic[:])
	le.PutUint32(buf[16:20], 4)
	le.PutUint32(buf[20:24], 0)
	le.PutUint32(buf[24:28], 1)

	part := buf[headerFixed : headerFixed+partSize]
	le.PutUint32(part[0:4], 0)
	le.PutUint32(part[4:8], 0x8000)
	le.PutUint32(part[8:12], 0)
	le.PutUint32(part[12:16], 0x10000)
	copy(part[16:32], "DISK")
	copy(part[32:48], "boot")
	le.PutUint32(part[48:52], 1)

	check := crc.Checksum32(crc.CRC32ISOHDLC, buf[4:])
	le.PutUint32(buf[0:4], check)

	f, err := os.CreateTemp(t.TempDir(), "sunxi_mbr*.fex")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(buf); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func TestDetectParsesPartition(t *testing.T) {
	path := buildImage(t)
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

	m := st.(*State).MBR
	if len(m.Partitions) != 1 || m.Partitions[0].Name != "boot" {
		t.Fatalf("unexpected partitions: %+v", m.Partitions)
	}
	if m.Partitions[0].Addr != 0x8000 {
		t.Fatalf("Addr = 0x%x, want 0x8000", m.Partitions[0].Addr)
	}
}
