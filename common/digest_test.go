package common

import "testing"

func TestWordBytesRoundTrip(t *testing.T) {
	w := NewWord(1, 2, 0xdeadbeef, FeltModulus-1)
	got := WordFromBytes(w.Bytes())
	if got != w {
		t.Fatalf("round trip mismatch: %v != %v", got, w)
	}
}

func TestDigestHexRoundTrip(t *testing.T) {
	d := NewDigest(0x1111, 0x2222, 0x3333, 0x4444)
	parsed, err := HexToDigest(d.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != d {
		t.Fatalf("parsed %v, want %v", parsed, d)
	}
	if _, err := HexToDigest("zz"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDigestCmp(t *testing.T) {
	a := NewDigest(1, 0, 0, 0)
	b := NewDigest(0, 1, 0, 0) // higher limb, larger as an integer
	if a.Cmp(b) >= 0 {
		t.Errorf("expected %v < %v", a, b)
	}
	if a.Cmp(a) != 0 {
		t.Error("self comparison should be 0")
	}
}

func TestDigestText(t *testing.T) {
	d := NewDigest(7, 8, 9, 10)
	text, err := d.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	var back Digest
	if err := back.UnmarshalText(text); err != nil {
		t.Fatal(err)
	}
	if back != d {
		t.Fatalf("text round trip: %v != %v", back, d)
	}
}
