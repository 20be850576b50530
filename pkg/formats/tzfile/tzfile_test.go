package tzfile

import (
	"os"
	"testing"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/vfile"
)

// buildV1Only builds a minimal version-1-only tzfile: a bare header with
// every count zero, so the data block that follows is empty.
func buildV1Only(t *testing.T) string {
	t.Helper()
	hdr := make([]byte, headerSize)
	copy(hdr[0:4], magic)
	hdr[4] = 0 // version 1

	f, err := os.CreateTemp(t.TempDir(), "tzif*.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write(hdr); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func TestDetectV1Only(t *testing.T) {
	path := buildV1Only(t)
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
	if st.(*State).Version != 1 {
		t.Fatalf("Version = %d, want 1", st.(*State).Version)
	}
	if st.(*State).HVHeaderValid {
		t.Fatal("v1-only file should not have a high-version header")
	}
}

func TestDetectRejectsBadMagic(t *testing.T) {
	hdr := make([]byte, headerSize)
	copy(hdr[0:4], "nope")
	f, err := os.CreateTemp(t.TempDir(), "bad*.bin")
	if err != nil {
		t.Fatal(err)
	}
	f.Write(hdr)
	f.Close()

	fh, err := vfile.Open(f.Name(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()

	ctx := imgedit.NewContext()
	st := Editor.NewState()
	if err := Editor.Detect(ctx, st, fh, false, false); err == nil {
		t.Fatal("expected bad magic error")
	}
}
