package rc4

import "testing"

func TestXORIsSymmetric(t *testing.T) {
	key := []byte("0123456789abcdef")
	plain := []byte("the quick brown fox jumps over the lazy dog")

	buf := append([]byte(nil), plain...)
	if err := XOR(buf, key); err != nil {
		t.Fatalf("XOR encrypt: %v", err)
	}
	if err := XOR(buf, key); err != nil {
		t.Fatalf("XOR decrypt: %v", err)
	}

	if string(buf) != string(plain) {
		t.Fatalf("XOR(XOR(x)) = %q, want %q", buf, plain)
	}
}
