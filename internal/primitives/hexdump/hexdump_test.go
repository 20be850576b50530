package hexdump

import (
	"strings"
	"testing"
)

func TestFprintBasicLine(t *testing.T) {
	var b strings.Builder
	Fprint(&b, []byte("hello"), 0, "")
	out := b.String()

	if !strings.HasPrefix(out, "00000000 ") {
		t.Fatalf("missing address column, got %q", out)
	}
	if !strings.Contains(out, "68 65 6c 6c 6f") {
		t.Fatalf("missing hex bytes, got %q", out)
	}
	if !strings.Contains(out, "|hello") {
		t.Fatalf("missing ascii column, got %q", out)
	}
}

func TestFprintCollapsesRepeatedLines(t *testing.T) {
	buf := make([]byte, perLine*3)
	var b strings.Builder
	Fprint(&b, buf, 0, "")
	out := b.String()

	if strings.Count(out, "*") != 1 {
		t.Fatalf("expected exactly one collapse marker, got:\n%s", out)
	}
}
