package fdt

import (
	"encoding/binary"
	"os"
	"strings"
	"testing"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

// buildDtb assembles a minimal valid dtb: root node with one string
// property and one cell property, no reserve map entries.
func buildDtb(t *testing.T) string {
	t.Helper()
	be := binary.BigEndian

	var structBuf []byte
	putTag := func(tag uint32) {
		b := make([]byte, 4)
		be.PutUint32(b, tag)
		structBuf = append(structBuf, b...)
	}
	putTag(tagBeginNode)
	structBuf = append(structBuf, 0) // root node name "": single NUL, then align

	var strBuf []byte
	putProp := func(name string, value []byte) {
		nameoff := uint32(len(strBuf))
		strBuf = append(strBuf, []byte(name)...)
		strBuf = append(strBuf, 0)

		putTag(tagProp)
		lenB := make([]byte, 4)
		be.PutUint32(lenB, uint32(len(value)))
		structBuf = append(structBuf, lenB...)
		offB := make([]byte, 4)
		be.PutUint32(offB, nameoff)
		structBuf = append(structBuf, offB...)
		structBuf = append(structBuf, value...)
		for len(structBuf)%4 != 0 {
			structBuf = append(structBuf, 0)
		}
	}
	putProp("compatible", append([]byte("acme,board"), 0))
	putProp("#address-cells", []byte{0, 0, 0, 1})

	putTag(tagEndNode)
	putTag(tagEnd)

	const hdrSz = headerSize
	offStruct := uint32(hdrSz)
	offStrings := offStruct + uint32(len(structBuf))
	total := offStrings + uint32(len(strBuf))

	hdr := make([]byte, hdrSz)
	be.PutUint32(hdr[0:4], magic)
	be.PutUint32(hdr[4:8], total)
	be.PutUint32(hdr[8:12], offStruct)
	be.PutUint32(hdr[12:16], offStrings)
	be.PutUint32(hdr[16:20], hdrSz)
	be.PutUint32(hdr[20:24], 17)
	be.PutUint32(hdr[24:28], 16)
	be.PutUint32(hdr[32:36], uint32(len(strBuf)))
	be.PutUint32(hdr[36:40], uint32(len(structBuf)))

	var buf []byte
	buf = append(buf, hdr...)
	buf = append(buf, structBuf...)
	buf = append(buf, strBuf...)

	f, err := os.CreateTemp(t.TempDir(), "tree*.dtb")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(buf); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func TestDetectAndDecompile(t *testing.T) {
	path := buildDtb(t)
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

	dts, err := Decompile(fh, st.(*State).Header)
	if err != nil {
		t.Fatalf("Decompile: %v", err)
	}
	if !strings.Contains(dts, `compatible = "acme,board"`) {
		t.Fatalf("missing compatible property in output:\n%s", dts)
	}
	if !strings.Contains(dts, "#address-cells = <0x00000001>") {
		t.Fatalf("missing address-cells property in output:\n%s", dts)
	}
}
