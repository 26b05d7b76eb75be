package refine

import (
	"testing"

	"github.com/gpuisa/solver/pkg/classify"
	"github.com/gpuisa/solver/pkg/oracle"
	"github.com/gpuisa/solver/pkg/word"
)

func TestSameModifiers(t *testing.T) {
	if !sameModifiers([]string{"E", "128"}, []string{"128", "E"}) {
		t.Fatal("sameModifiers should be order-independent")
	}
	if sameModifiers([]string{"E"}, []string{"E", "128"}) {
		t.Fatal("sameModifiers should notice an added token")
	}
}

func TestContainsModifier(t *testing.T) {
	if !containsModifier([]string{"E", "128"}, "128") {
		t.Fatal("expected 128 to be found")
	}
	if containsModifier([]string{"E"}, "128") {
		t.Fatal("did not expect 128 to be found")
	}
}

func TestRunToFixedPointStopsWhenPassReportsNoChange(t *testing.T) {
	calls := 0
	pass := func(d oracle.Disassembler, ms *classify.MutationSet) (bool, error) {
		calls++
		return calls < 3, nil
	}
	var ms classify.MutationSet
	if err := RunToFixedPoint(&oracle.MockDisassembler{}, &ms, pass); err != nil {
		t.Fatalf("RunToFixedPoint: %v", err)
	}
	if calls != 3 {
		t.Fatalf("pass invoked %d times, want 3 (stops on first false)", calls)
	}
}

func TestDisambiguateFlagsNoCandidatesIsNoop(t *testing.T) {
	ms := &classify.MutationSet{
		Inst:                       word.Word{},
		Key:                        "NOP",
		InstructionModifierBitFlag: map[int]string{},
	}
	changed, err := DisambiguateFlags(&oracle.MockDisassembler{}, ms)
	if err != nil {
		t.Fatalf("DisambiguateFlags: %v", err)
	}
	if changed {
		t.Fatal("expected no change with zero flag candidates")
	}
}

func TestDisambiguateFlagsWithdrawsFalsePositive(t *testing.T) {
	base := word.Word{}
	withBit5 := base
	withBit5.ToggleBit(5)

	// Flipping bit 5 together with bit 6 produces text that no longer
	// contains the candidate flag name "FTZ" -- meaning the flag's real
	// extent includes bit 6, not just bit 5.
	mutated56 := withBit5
	mutated56.ToggleBit(6)
	mutated54 := withBit5
	mutated54.ToggleBit(4)

	mock := &oracle.MockDisassembler{Responses: map[word.Word]string{
		mutated56: "FADD R0, R1, R2",
		mutated54: "FADD.FTZ R0, R1, R2",
	}}

	ms := &classify.MutationSet{
		Inst:                       base,
		Key:                        "FADD,R,R,R",
		InstructionModifierBitFlag: map[int]string{5: "FTZ"},
		ModifierBits:               map[int]bool{},
		ModifierGroups:             map[int]int{},
	}

	changed, err := DisambiguateFlags(mock, ms)
	if err != nil {
		t.Fatalf("DisambiguateFlags: %v", err)
	}
	if !changed {
		t.Fatal("expected DisambiguateFlags to withdraw the flag hypothesis")
	}
	if !ms.ModifierBits[6] {
		t.Fatal("expected bit 6 to be folded into modifier_bits")
	}
	if _, ok := ms.InstructionModifierBitFlag[5]; ok {
		t.Fatal("expected the flag hypothesis for bit 5 to be withdrawn")
	}
}
