package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gpuisa/solver/pkg/asmparse"
	"github.com/gpuisa/solver/pkg/encoding"
	"github.com/gpuisa/solver/pkg/isaspec"
	"github.com/gpuisa/solver/pkg/oracle"
	"github.com/gpuisa/solver/pkg/word"
)

// erroringDisassembler fails DistillInstruction for every word in Bad,
// letting AnalyzeAll's per-seed error isolation be tested without driving
// a full seed through every downstream analysis stage.
type erroringDisassembler struct {
	mu  sync.Mutex
	Bad map[word.Word]bool
}

func (d *erroringDisassembler) DistillInstruction(w word.Word) (word.Word, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Bad[w] {
		return word.Word{}, fmt.Errorf("erroringDisassembler: refused %s", w.Hex())
	}
	return w, nil
}

func (d *erroringDisassembler) Disassemble(w word.Word) (string, error) { return "", nil }
func (d *erroringDisassembler) DisassembleBatch(ws []word.Word) ([]string, error) {
	return make([]string, len(ws)), nil
}
func (d *erroringDisassembler) MutateInst(w word.Word, endBit int) ([]oracle.Mutation, error) {
	return nil, errors.New("erroringDisassembler: MutateInst not wired in this test")
}

func TestAnalyzeAllIsolatesPerSeedErrors(t *testing.T) {
	var seeds []word.Word
	bad := map[word.Word]bool{}
	for i := 0; i < 5; i++ {
		var w word.Word
		w[0] = byte(i)
		seeds = append(seeds, w)
		bad[w] = true // force every seed to fail at the first stage
	}
	d := &erroringDisassembler{Bad: bad}
	e := &Engine{Disassembler: d}

	var mu sync.Mutex
	progressCalls := 0
	results := e.AnalyzeAll(context.Background(), seeds, 2, func(completed, total int, _ time.Duration) {
		mu.Lock()
		progressCalls++
		mu.Unlock()
	})

	if len(results) != len(seeds) {
		t.Fatalf("got %d results, want %d", len(results), len(seeds))
	}
	for i, r := range results {
		if r.Err == nil {
			t.Errorf("result %d: expected an error, got none", i)
		}
		if r.Seed != seeds[i] {
			t.Errorf("result %d: seed mismatch", i)
		}
	}
	if progressCalls != len(seeds) {
		t.Fatalf("progress callback fired %d times, want %d", progressCalls, len(seeds))
	}
}

// stubSource returns a fixed sequence of candidate rounds, then an empty
// round forever, modelling the oracle cache converging on a fixed set of
// opcodes.
type stubSource struct {
	rounds [][]word.Word
	call   int
}

func (s *stubSource) FindUniqueInstructions() (map[string]word.Word, error) {
	if s.call >= len(s.rounds) {
		return map[string]word.Word{}, nil
	}
	round := s.rounds[s.call]
	s.call++
	out := map[string]word.Word{}
	for i, w := range round {
		out[fmt.Sprintf("key-%d", i)] = w
	}
	return out, nil
}

func TestAnalyzeNewSeedsStopsWhenNothingNew(t *testing.T) {
	w1 := word.Word{0: 1}
	w2 := word.Word{0: 2}
	source := &stubSource{rounds: [][]word.Word{{w1, w2}, {w1, w2}}}
	d := &erroringDisassembler{Bad: map[word.Word]bool{w1: true, w2: true}}
	e := &Engine{Disassembler: d}

	_, failures, err := e.AnalyzeNewSeeds(context.Background(), source, 2, nil)
	if err != nil {
		t.Fatalf("AnalyzeNewSeeds: %v", err)
	}
	if len(failures) != 2 {
		t.Fatalf("got %d failures, want 2 (one per distinct key, second round has nothing new)", len(failures))
	}
	if source.call != 2 {
		t.Fatalf("source queried %d times, want exactly 2 (second round repeats the same keys and ends the loop)", source.call)
	}
}

func TestSuccessfulAndFailuresFilter(t *testing.T) {
	parsed, err := asmparse.Parse("FADD R0, R1, R2")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	okSpec := isaspec.New("FADD R0, R1, R2", parsed, encoding.Ranges{}, nil, nil)
	results := []SeedResult{
		{Seed: word.Word{0: 1}, Spec: okSpec, Err: nil},
		{Seed: word.Word{0: 2}, Spec: nil, Err: errors.New("boom")},
	}

	isa := Successful(results)
	if len(isa.Instructions) != 1 {
		t.Fatalf("Successful: got %d instructions, want 1", len(isa.Instructions))
	}

	failed := Failures(results)
	if len(failed) != 1 || failed[0].Err == nil {
		t.Fatalf("Failures: got %v, want exactly one errored result", failed)
	}
}
