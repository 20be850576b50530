package bitmask

import "testing"

func TestSetGetNextOneNextZero(t *testing.T) {
	m := New(16)
	m.Set(2)
	m.Set(3)
	m.Set(4)
	m.Set(9)

	if !m.Get(3) {
		t.Fatal("expected bit 3 set")
	}
	if m.Get(5) {
		t.Fatal("expected bit 5 clear")
	}
	if got := m.NextOne(0); got != 2 {
		t.Fatalf("NextOne(0) = %d, want 2", got)
	}
	if got := m.NextOne(3); got != 3 {
		t.Fatalf("NextOne(3) = %d, want 3", got)
	}
	if got := m.NextZero(2); got != 5 {
		t.Fatalf("NextZero(2) = %d, want 5", got)
	}
	if got := m.NextOne(10); got != -1 {
		t.Fatalf("NextOne(10) = %d, want -1", got)
	}
}

func TestRuns(t *testing.T) {
	m := New(16)
	m.SetRange(2, 3) // bits 2,3,4
	m.Set(9)

	runs := m.Runs()
	want := []Run{{Start: 2, Bits: 3}, {Start: 9, Bits: 1}}
	if len(runs) != len(want) {
		t.Fatalf("Runs() = %v, want %v", runs, want)
	}
	for i := range runs {
		if runs[i] != want[i] {
			t.Fatalf("Runs()[%d] = %v, want %v", i, runs[i], want[i])
		}
	}
}

func TestNot(t *testing.T) {
	m := New(4)
	m.Set(0)
	m.Set(2)
	m.Not()
	if m.Get(0) || !m.Get(1) || m.Get(2) || !m.Get(3) {
		t.Fatalf("Not() produced unexpected mask")
	}
}

func TestXor(t *testing.T) {
	a := New(8)
	a.Set(0)
	a.Set(1)
	b := New(8)
	b.Set(1)
	b.Set(2)

	x := Xor(a, b)
	if !x.Get(0) || x.Get(1) || !x.Get(2) {
		t.Fatalf("Xor produced unexpected mask")
	}
}
