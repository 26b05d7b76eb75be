package oracle

import (
	"testing"

	"github.com/gpuisa/solver/pkg/word"
)

func TestFindUniqueInstructionsDedupesByKey(t *testing.T) {
	w1 := word.Word{0: 1}
	w2 := word.Word{0: 2}
	w3 := word.Word{0: 3}
	w4 := word.Word{0: 4}

	d := &ProcessDisassembler{
		cache: map[word.Word]string{
			w1: "FADD R0, R1, R2",
			w2: "FADD R3, R4, R5", // same key as w1, only one should survive
			w3: "FMUL R0, R1, R2", // distinct key
			w4: "",                // refused outright, must be skipped
		},
	}

	out, err := d.FindUniqueInstructions()
	if err != nil {
		t.Fatalf("FindUniqueInstructions: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d unique keys, want 2: %v", len(out), out)
	}

	seen := map[word.Word]bool{}
	for _, w := range out {
		seen[w] = true
	}
	if !(seen[w1] || seen[w2]) {
		t.Error("expected exactly one of w1/w2 (same key) to be present")
	}
	if seen[w1] && seen[w2] {
		t.Error("expected only one representative word per key, got both w1 and w2")
	}
	if !seen[w3] {
		t.Error("expected w3 (distinct key) to be present")
	}
	if seen[w4] {
		t.Error("expected w4 (empty disassembly) to be skipped")
	}
}

func TestFindUniqueInstructionsSkipsUnparseable(t *testing.T) {
	w1 := word.Word{0: 1}
	d := &ProcessDisassembler{
		cache: map[word.Word]string{
			w1: "????",
		},
	}

	out, err := d.FindUniqueInstructions()
	if err != nil {
		t.Fatalf("FindUniqueInstructions: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("got %d keys, want 0 for unparseable text", len(out))
	}
}
