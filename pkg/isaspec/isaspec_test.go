package isaspec

import (
	"testing"

	"github.com/gpuisa/solver/pkg/asmparse"
	"github.com/gpuisa/solver/pkg/encoding"
	"github.com/gpuisa/solver/pkg/modenum"
)

func mustParse(t *testing.T, asm string) *asmparse.Instruction {
	t.Helper()
	inst, err := asmparse.Parse(asm)
	if err != nil {
		t.Fatalf("Parse(%q): %v", asm, err)
	}
	return inst
}

func oneModifierSpec(t *testing.T) *InstructionSpec {
	parsed := mustParse(t, "FADD R0, R1, R2")
	ranges := encoding.Ranges{Ranges: []encoding.Range{
		encoding.NewRange(encoding.RangeModifier, 0, 2),
	}}
	modifiers := [][]modenum.Value{
		{
			{Value: 0, Name: ""},
			{Value: 1, Name: "RM"},
			{Value: 2, Name: "RP"},
			{Value: 3, Name: "RZ"},
		},
	}
	return New("FADD R0, R1, R2", parsed, ranges, modifiers, nil)
}

func TestGetModifierValuesPicksRequestedToken(t *testing.T) {
	spec := oneModifierSpec(t)
	values, flags, ok := spec.GetModifierValues([]string{"RZ"})
	if !ok {
		t.Fatal("GetModifierValues reported failure for a satisfiable request")
	}
	if len(values) != 1 || values[0] != 3 {
		t.Fatalf("values = %v, want [3]", values)
	}
	if len(flags) != 0 {
		t.Fatalf("flags = %v, want none", flags)
	}
}

func TestGetModifierValuesDefaultsToZeroWhenUnrequested(t *testing.T) {
	spec := oneModifierSpec(t)
	values, _, ok := spec.GetModifierValues(nil)
	if !ok {
		t.Fatal("GetModifierValues reported failure for an empty request")
	}
	if values[0] != 0 {
		t.Fatalf("values[0] = %d, want 0 (unrequested field stays at its zero encoding)", values[0])
	}
}

func TestGetModifierValuesDefaultsToEmptyOptionEncoding(t *testing.T) {
	parsed := mustParse(t, "FADD R0, R1, R2")
	ranges := encoding.Ranges{Ranges: []encoding.Range{
		encoding.NewRange(encoding.RangeModifier, 0, 2),
	}}
	modifiers := [][]modenum.Value{
		{
			{Value: 3, Name: ""},
			{Value: 1, Name: "RM"},
			{Value: 2, Name: "RP"},
		},
	}
	spec := New("FADD R0, R1, R2", parsed, ranges, modifiers, nil)

	values, _, ok := spec.GetModifierValues(nil)
	if !ok {
		t.Fatal("GetModifierValues reported failure for an empty request")
	}
	if len(values) != 1 || values[0] != 3 {
		t.Fatalf("values = %v, want [3] (unrequested field defaults to its empty-token encoding)", values)
	}
}

func TestGetModifierValuesFailsOnUnknownToken(t *testing.T) {
	spec := oneModifierSpec(t)
	if _, _, ok := spec.GetModifierValues([]string{"NOSUCHTOKEN"}); ok {
		t.Fatal("GetModifierValues should fail when a requested token matches nothing")
	}
}

func TestGetMinimalModifiersKeepsOpcodeModisOnly(t *testing.T) {
	parsed := mustParse(t, "FADD.FTZ R0, R1, R2")
	ranges := encoding.Ranges{Ranges: []encoding.Range{
		encoding.NewRange(encoding.RangeModifier, 0, 1),
	}}
	modifiers := [][]modenum.Value{
		{
			{Value: 0, Name: ""},
			{Value: 1, Name: "SAT"},
		},
	}
	spec := New("FADD R0, R1, R2", parsed, ranges, modifiers, nil)

	got := spec.GetMinimalModifiers()
	found := false
	for _, m := range got {
		if m == "FTZ" {
			found = true
		}
	}
	if !found {
		t.Fatalf("GetMinimalModifiers() = %v, want it to include the opcode modifier FTZ", got)
	}
}

func TestFindInstructionPrefersBestModifierCoverage(t *testing.T) {
	plain := mustParse(t, "FADD R0, R1, R2")
	ftz := mustParse(t, "FADD.FTZ R0, R1, R2")
	ranges := encoding.Ranges{}

	isa := &ISASpec{Instructions: map[string]*InstructionSpec{
		"plain": New("FADD R0, R1, R2", plain, ranges, nil, nil),
		"ftz":   New("FADD.FTZ R0, R1, R2", ftz, ranges, nil, nil),
	}}

	got, ok := isa.FindInstruction(plain.Key(), []string{"FTZ"})
	if !ok {
		t.Fatal("FindInstruction found no match")
	}
	if got.CanonicalName != ftz.BaseName+".FTZ" {
		t.Fatalf("FindInstruction picked %q, want the FTZ-covering instruction", got.CanonicalName)
	}
}

func TestFindInstructionReturnsFalseWhenKeyUnknown(t *testing.T) {
	isa := &ISASpec{Instructions: map[string]*InstructionSpec{}}
	if _, ok := isa.FindInstruction("no-such-key", nil); ok {
		t.Fatal("FindInstruction should report false for an empty ISASpec")
	}
}

func TestSpecJSONRoundTrip(t *testing.T) {
	spec := oneModifierSpec(t)
	data, err := spec.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	got, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if got.Disasm != spec.Disasm {
		t.Errorf("Disasm = %q, want %q", got.Disasm, spec.Disasm)
	}
	if got.CanonicalName != spec.CanonicalName {
		t.Errorf("CanonicalName = %q, want %q", got.CanonicalName, spec.CanonicalName)
	}
	if len(got.Modifiers) != len(spec.Modifiers) {
		t.Fatalf("Modifiers len = %d, want %d", len(got.Modifiers), len(spec.Modifiers))
	}
}

func TestISASpecJSONRoundTrip(t *testing.T) {
	spec := oneModifierSpec(t)
	isa := &ISASpec{Instructions: map[string]*InstructionSpec{
		spec.Disasm: spec,
	}}

	data, err := isa.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	got, err := ISASpecFromJSON(data)
	if err != nil {
		t.Fatalf("ISASpecFromJSON: %v", err)
	}
	if len(got.Instructions) != 1 {
		t.Fatalf("got %d instructions, want 1", len(got.Instructions))
	}
	if _, ok := got.Instructions[spec.Disasm]; !ok {
		t.Fatalf("round-tripped ISASpec missing key %q", spec.Disasm)
	}
}
