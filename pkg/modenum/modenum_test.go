package modenum

import (
	"testing"

	"github.com/gpuisa/solver/pkg/encoding"
	"github.com/gpuisa/solver/pkg/oracle"
	"github.com/gpuisa/solver/pkg/word"
)

// buildRanges constructs a trivial one-modifier-field instruction: bits
// [0,2) select among four rounding modifiers.
func buildRanges() encoding.Ranges {
	return encoding.Ranges{Ranges: []encoding.Range{
		encoding.NewRange(encoding.RangeModifier, 0, 2),
	}}
}

func mockForModifierValues(names map[int64]string) oracle.Disassembler {
	responses := map[word.Word]string{}
	for v, name := range names {
		rs := buildRanges()
		args := encoding.DefaultEncodeArgs()
		args.SubOperands = []int64{}
		args.Modifiers = []int64{v}
		w := rs.Encode(args)
		text := "FADD R0, R1, R2"
		if name != "" {
			text = "FADD." + name + " R0, R1, R2"
		}
		responses[w] = text
	}
	return &oracle.MockDisassembler{Responses: responses}
}

func TestIsInvalid(t *testing.T) {
	if !isInvalid("INVALID") || !isInvalid("??") {
		t.Fatal("expected INVALID and ?? to be recognized as invalid")
	}
	if isInvalid("RN") {
		t.Fatal("RN should not be considered invalid")
	}
}

func TestEnumerateModifiersNamesEachValue(t *testing.T) {
	d := mockForModifierValues(map[int64]string{
		0: "",
		1: "RM",
		2: "RP",
		3: "RZ",
	})
	rs := buildRanges()

	result, err := EnumerateModifiers(d, rs, nil)
	if err != nil {
		t.Fatalf("EnumerateModifiers: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("got %d modifier fields, want 1", len(result))
	}
	if len(result[0]) != 4 {
		t.Fatalf("got %d enumerated values, want 4", len(result[0]))
	}
}

func TestCartesianProduct(t *testing.T) {
	got := cartesianProduct([][]int64{{0, 1}, {2, 3}})
	want := [][]int64{{0, 2}, {0, 3}, {1, 2}, {1, 3}}
	if len(got) != len(want) {
		t.Fatalf("got %d combinations, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i][0] != want[i][0] || got[i][1] != want[i][1] {
			t.Fatalf("combination %d = %v, want %v", i, got[i], want[i])
		}
	}
}
