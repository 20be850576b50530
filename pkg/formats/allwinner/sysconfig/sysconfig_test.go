package sysconfig

import (
	"os"
	"strings"
	"testing"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

func buildBinary(t *testing.T) string {
	t.Helper()

	cfg := Config{
		VersionMajor: 1,
		VersionMinor: 2,
		Sections: []Section{
			{
				Name: "product",
				Properties: []Property{
					{Name: "version", Type: typeSingleWord, Data: leU32(3)},
					{Name: "name", Type: typeString, Data: cPad("mydevice")},
				},
			},
		},
	}
	blob := encode(cfg)

	f, err := os.CreateTemp(t.TempDir(), "sysconfig*.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(blob); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func leU32(v uint32) []byte {
	b := make([]byte, 4)
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	return b
}

func cPad(s string) []byte {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func TestDetectAndDump(t *testing.T) {
	path := buildBinary(t)
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

	var b strings.Builder
	Dump(&b, st.(*State).Config)
	out := b.String()
	if !strings.Contains(out, "[product]") {
		t.Fatalf("missing section header:\n%s", out)
	}
	if !strings.Contains(out, "version = 3") {
		t.Fatalf("missing version property:\n%s", out)
	}
	if !strings.Contains(out, `name = "mydevice"`) {
		t.Fatalf("missing name property:\n%s", out)
	}
}

func TestPackRoundTrips(t *testing.T) {
	ini := "[product]\nversion = 3\nname = \"mydevice\"\n"
	iniFile, err := os.CreateTemp(t.TempDir(), "sysconfig*.fex")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := iniFile.WriteString(ini); err != nil {
		t.Fatal(err)
	}
	iniFile.Close()

	outPath := t.TempDir() + "/out.bin"
	out, err := vfile.OpenForWrite(outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	ctx := imgedit.NewContext()
	st := Editor.NewState()
	if err := Editor.Pack(ctx, st, iniFile.Name(), out); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	raw, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) < headSize {
		t.Fatalf("packed output too small: %d bytes", len(raw))
	}
	c, err := decode(raw)
	if err != nil {
		t.Fatalf("decoding packed output: %v", err)
	}
	if len(c.Sections) != 1 || c.Sections[0].Name != "product" || len(c.Sections[0].Properties) != 2 {
		t.Fatalf("packed output decodes to %+v, want one [product] section with 2 properties", c.Sections)
	}
}
