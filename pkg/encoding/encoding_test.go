package encoding

import "testing"

func TestEncodeOperandZeroAccumulates(t *testing.T) {
	// Operand 0 split across two ranges: bits [0,4) low nibble, bits
	// [4,8) high nibble. A value of 0xBA (186): the low range takes 0xA,
	// and the high range takes 0xB after shifting right by the 4 bits
	// already written.
	rs := Ranges{Ranges: []Range{
		NewOperandRange(0, 4, 0),
		NewOperandRange(4, 4, 0),
	}}
	w := rs.Encode(EncodeArgs{SubOperands: []int64{0xBA}})
	if got := w.GetRange(0, 8); got != 0xBA {
		t.Fatalf("encode with operand index 0 split across ranges = %#x, want 0xba", got)
	}
}

func TestEncodeOperandNonZeroAccumulates(t *testing.T) {
	rs := Ranges{Ranges: []Range{
		NewOperandRange(0, 4, 1),
		NewOperandRange(4, 4, 1),
	}}
	w := rs.Encode(EncodeArgs{SubOperands: []int64{0, 0xBA}})
	if got := w.GetRange(0, 8); got != 0xBA {
		t.Fatalf("encode with operand index 1 split across ranges = %#x, want 0xba", got)
	}
}

func TestEncodeConstant(t *testing.T) {
	rs := Ranges{Ranges: []Range{
		{Type: RangeConstant, Start: 0, Length: 8, OperandIndex: noOperand, Constant: 0x5A},
	}}
	w := rs.Encode(DefaultEncodeArgs())
	if got := w.GetRange(0, 8); got != 0x5A {
		t.Fatalf("encode constant = %#x, want 0x5a", got)
	}
}

func TestEncodePredicateDefault(t *testing.T) {
	rs := Ranges{Ranges: []Range{NewRange(RangePredicate, 12, 3)}}
	w := rs.Encode(DefaultEncodeArgs())
	if got := w.GetRange(12, 15); got != 7 {
		t.Fatalf("default predicate = %d, want 7 (PT)", got)
	}
}

func TestEncodeFlag(t *testing.T) {
	rs := Ranges{Ranges: []Range{
		{Type: RangeFlag, Start: 0, Length: 1, OperandIndex: noOperand, Name: "NEG"},
	}}
	args := DefaultEncodeArgs()
	args.Flags = map[string]bool{"NEG": true}
	w := rs.Encode(args)
	if w.GetRange(0, 1) != 1 {
		t.Fatal("flag NEG not set")
	}
}

func TestEncodeInverseAndShift(t *testing.T) {
	rs := Ranges{Ranges: []Range{
		{Type: RangeOperand, Start: 0, Length: 4, OperandIndex: 0, Inverse: true, Shift: 2},
	}}
	w := rs.Encode(EncodeArgs{SubOperands: []int64{0x3C}})
	// Inverted over 4 bits first: 0x3C ^ 0xF = 0x33, then (0x33 >> 2) = 0xC.
	if got := w.GetRange(0, 4); got != 0xC {
		t.Fatalf("encode inverse+shift = %#x, want 0xc", got)
	}
}

func TestOperandCountAndModifierCount(t *testing.T) {
	rs := Ranges{Ranges: []Range{
		NewOperandRange(0, 4, 0),
		NewOperandRange(4, 4, 2),
		NewRange(RangeModifier, 8, 2),
		NewRange(RangeModifier, 10, 2),
	}}
	if rs.OperandCount() != 3 {
		t.Fatalf("OperandCount() = %d, want 3", rs.OperandCount())
	}
	if rs.ModifierCount() != 2 {
		t.Fatalf("ModifierCount() = %d, want 2", rs.ModifierCount())
	}
}

func TestRangesJSONRoundTrip(t *testing.T) {
	rs := Ranges{Ranges: []Range{
		NewOperandRange(0, 4, 0),
		{Type: RangeConstant, Start: 4, Length: 4, OperandIndex: noOperand, Constant: 9},
	}}
	data, err := rs.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var back Ranges
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if len(back.Ranges) != 2 {
		t.Fatalf("round-tripped %d ranges, want 2", len(back.Ranges))
	}
	if back.Ranges[0].OperandIndex != 0 || !back.Ranges[0].HasOperand() {
		t.Fatalf("operand index 0 lost across JSON round trip: %+v", back.Ranges[0])
	}
	if back.Ranges[1].HasOperand() {
		t.Fatalf("constant range should have no operand index: %+v", back.Ranges[1])
	}
}
