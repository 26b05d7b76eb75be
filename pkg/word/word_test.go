package word

import "testing"

func TestGetSetRangeRoundTrip(t *testing.T) {
	var w Word
	w.SetRange(4, 12, 0xAB)
	if got := w.GetRange(4, 12); got != 0xAB {
		t.Fatalf("GetRange(4,12) = %#x, want 0xab", got)
	}
	// Bits outside the range must be untouched.
	if w.GetRange(0, 4) != 0 || w.GetRange(12, 16) != 0 {
		t.Fatalf("SetRange leaked outside [4,12): %v", w)
	}
}

func TestSetRangePreservesOtherBits(t *testing.T) {
	var w Word
	w.SetBit(0)
	w.SetBit(15)
	w.SetRange(4, 8, 0xF)
	if !w.bit(0) || !w.bit(15) {
		t.Fatalf("SetRange clobbered unrelated bits: %v", w)
	}
	if w.GetRange(4, 8) != 0xF {
		t.Fatalf("GetRange(4,8) = %d, want 15", w.GetRange(4, 8))
	}
}

func TestToggleBit(t *testing.T) {
	var w Word
	w.ToggleBit(3)
	if !w.bit(3) {
		t.Fatal("ToggleBit(3) did not set bit 3")
	}
	w.ToggleBit(3)
	if w.bit(3) {
		t.Fatal("ToggleBit(3) twice did not clear bit 3")
	}
}

func TestCrossByteRange(t *testing.T) {
	var w Word
	w.SetRange(6, 10, 0xF) // spans byte 0 and byte 1
	if got := w.GetRange(6, 10); got != 0xF {
		t.Fatalf("cross-byte GetRange = %#x, want 0xf", got)
	}
	if w[0]&0xC0 != 0xC0 {
		t.Fatalf("byte 0 high bits not set: %08b", w[0])
	}
	if w[1]&0x3 != 0x3 {
		t.Fatalf("byte 1 low bits not set: %08b", w[1])
	}
}

func TestHexLowercase(t *testing.T) {
	var w Word
	w[0] = 0xAB
	w[1] = 0xCD
	if got := w.Hex()[:4]; got != "abcd" {
		t.Fatalf("Hex() = %q, want lowercase abcd prefix", got)
	}
}

func TestGetRangePanicsOutOfBounds(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on out-of-bounds range")
		}
	}()
	var w Word
	w.GetRange(120, 129)
}
