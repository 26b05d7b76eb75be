// Package pipeline runs the full per-seed analysis — classify, refine,
// enumerate, live-range, assemble — and fans it out across a bounded pool
// of concurrent workers, except every seed's failure is independent: one
// seed erroring never cancels its siblings (spec §5 "Concurrency model").
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gpuisa/solver/pkg/asmparse"
	"github.com/gpuisa/solver/pkg/classify"
	"github.com/gpuisa/solver/pkg/isaspec"
	"github.com/gpuisa/solver/pkg/liverange"
	"github.com/gpuisa/solver/pkg/modenum"
	"github.com/gpuisa/solver/pkg/oracle"
	"github.com/gpuisa/solver/pkg/refine"
	"github.com/gpuisa/solver/pkg/word"
)

// mutationEndBit mirrors the Python pipeline's "end=14*8-2" probe bound:
// bits 110 and above (most of the control-code region, which starts at bit
// 105, and the top of the word) are never mutated.
const mutationEndBit = 14*8 - 2

// Engine drives the full per-seed pipeline against a disassembler oracle
// and, optionally, a live-range oracle.
type Engine struct {
	Disassembler oracle.Disassembler
	LiveRange    liverange.Oracle
	ArchCode     int
}

// AnalyzeSeed runs every analysis stage for a single seed word and returns
// its assembled InstructionSpec (spec §5 "instruction_analysis_pipeline").
func (e *Engine) AnalyzeSeed(seed word.Word) (*isaspec.InstructionSpec, error) {
	distilled, err := e.Disassembler.DistillInstruction(seed)
	if err != nil {
		return nil, fmt.Errorf("pipeline: distilling seed %s: %w", seed.Hex(), err)
	}
	asm, err := e.Disassembler.Disassemble(distilled)
	if err != nil {
		return nil, fmt.Errorf("pipeline: disassembling %s: %w", distilled.Hex(), err)
	}

	rawMutations, err := e.Disassembler.MutateInst(distilled, mutationEndBit)
	if err != nil {
		return nil, fmt.Errorf("pipeline: mutating %s: %w", distilled.Hex(), err)
	}
	mutations := make([]classify.Mutation, len(rawMutations))
	for i, m := range rawMutations {
		mutations[i] = classify.Mutation{Bit: m.Bit, Word: m.Word, Disasm: m.Text}
	}

	ms, err := classify.Analyse(distilled, asm, mutations)
	if err != nil {
		return nil, fmt.Errorf("pipeline: classifying %s: %w", asm, err)
	}

	if err := refine.RunToFixedPoint(e.Disassembler, ms, refine.DisambiguateFlags); err != nil {
		return nil, fmt.Errorf("pipeline: disambiguating flags for %s: %w", asm, err)
	}
	if _, err := refine.DisambiguateOperandFlags(e.Disassembler, ms); err != nil {
		return nil, fmt.Errorf("pipeline: disambiguating operand flags for %s: %w", asm, err)
	}
	if err := refine.FixOperandWidths(e.Disassembler, ms); err != nil {
		return nil, fmt.Errorf("pipeline: fixing operand widths for %s: %w", asm, err)
	}
	if err := refine.RunToFixedPoint(e.Disassembler, ms, refine.ExtendModifiers); err != nil {
		return nil, fmt.Errorf("pipeline: extending modifiers for %s: %w", asm, err)
	}
	if err := refine.RunToFixedPoint(e.Disassembler, ms, refine.SplitModifiers); err != nil {
		return nil, fmt.Errorf("pipeline: splitting modifiers for %s: %w", asm, err)
	}

	ranges := ms.ComputeEncodingRanges()
	if err := refine.FixPredicatePolarity(e.Disassembler, ms, &ranges); err != nil {
		return nil, fmt.Errorf("pipeline: fixing predicate polarity for %s: %w", asm, err)
	}

	modifierValues, err := modenum.EnumerateModifiers(e.Disassembler, ranges, nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: enumerating modifiers for %s: %w", asm, err)
	}
	operandModifierValues, err := modenum.EnumerateOperandModifiers(e.Disassembler, ranges)
	if err != nil {
		return nil, fmt.Errorf("pipeline: enumerating operand modifiers for %s: %w", asm, err)
	}

	parsed, err := asmparse.Parse(asm)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parsing %q: %w", asm, err)
	}

	spec := isaspec.New(asm, parsed, ranges, modifierValues, operandModifierValues)

	if e.LiveRange != nil {
		if err := spec.AnalyseOperandInteractions(e.LiveRange, e.ArchCode); err != nil {
			return nil, fmt.Errorf("pipeline: analysing operand interactions for %s: %w", asm, err)
		}
	}

	return spec, nil
}

// SeedResult pairs a seed with its outcome so a failed seed never
// silently disappears from the batch.
type SeedResult struct {
	Seed word.Word
	Spec *isaspec.InstructionSpec
	Err  error
}

// Progress is called after every seed completes, successfully or not.
type Progress func(completed, total int, elapsed time.Duration)

// AnalyzeAll runs AnalyzeSeed for every seed under a bounded number of
// concurrent workers, admission-controlled by a weighted semaphore rather
// than a fixed goroutine pool (spec §5: "workers admitted up to
// num_parallel at a time"). One seed's error is recorded in its own
// SeedResult and never cancels any other seed's analysis — this is why
// a semaphore is used here instead of errgroup.Group, whose first error
// cancels the shared context for every in-flight goroutine.
func (e *Engine) AnalyzeAll(ctx context.Context, seeds []word.Word, numParallel int, progress Progress) []SeedResult {
	if numParallel <= 0 {
		numParallel = runtime.NumCPU()
	}
	sem := semaphore.NewWeighted(int64(numParallel))

	results := make([]SeedResult, len(seeds))
	var wg sync.WaitGroup
	var completed atomic.Int64
	start := time.Now()

	for i, seed := range seeds {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = SeedResult{Seed: seed, Err: fmt.Errorf("pipeline: acquiring worker slot: %w", err)}
			completed.Add(1)
			continue
		}
		wg.Add(1)
		go func(i int, seed word.Word) {
			defer wg.Done()
			defer sem.Release(1)

			// A panic (e.g. a pkg/word bounds violation) fails this seed only.
			spec, err := func() (spec *isaspec.InstructionSpec, err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("pipeline: analyzing seed %s: panic: %v", seed.Hex(), r)
					}
				}()
				return e.AnalyzeSeed(seed)
			}()
			results[i] = SeedResult{Seed: seed, Spec: spec, Err: err}

			n := completed.Add(1)
			if progress != nil {
				progress(int(n), len(seeds), time.Since(start))
			}
		}(i, seed)
	}
	wg.Wait()

	return results
}

// Successful filters a result slice down to the specs that analyzed
// cleanly, keyed by disassembly text the way ISASpec.Instructions is.
func Successful(results []SeedResult) *isaspec.ISASpec {
	isa := &isaspec.ISASpec{Instructions: map[string]*isaspec.InstructionSpec{}}
	for _, r := range results {
		if r.Err != nil || r.Spec == nil {
			continue
		}
		isa.Instructions[r.Spec.Disasm] = r.Spec
	}
	return isa
}

// Failures filters a result slice down to the seeds that errored, for
// reporting at the end of a run.
func Failures(results []SeedResult) []SeedResult {
	var out []SeedResult
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// UniqueSeedSource supplies the next round of candidate seed words, keyed
// by instruction signature — the oracle's accumulated response cache,
// grouped by parsed key (spec §5 "find_uniques_from_cache").
type UniqueSeedSource interface {
	FindUniqueInstructions() (map[string]word.Word, error)
}

// AnalyzeNewSeeds repeats seed-set discovery until a round finds no key
// it hasn't already analyzed, analyzing each round's new seeds under
// AnalyzeAll (spec §5 "iterative find-new-uniques driver loop"). Seed
// *discovery itself* is the source's responsibility; this only decides
// when to stop asking.
func (e *Engine) AnalyzeNewSeeds(ctx context.Context, source UniqueSeedSource, numParallel int, progress Progress) (*isaspec.ISASpec, []SeedResult, error) {
	isa := &isaspec.ISASpec{Instructions: map[string]*isaspec.InstructionSpec{}}
	seenKeys := map[string]bool{}
	var failures []SeedResult

	for {
		candidates, err := source.FindUniqueInstructions()
		if err != nil {
			return isa, failures, fmt.Errorf("pipeline: finding unique instructions: %w", err)
		}

		var seeds []word.Word
		for key, w := range candidates {
			if seenKeys[key] {
				continue
			}
			seenKeys[key] = true
			seeds = append(seeds, w)
		}
		if len(seeds) == 0 {
			return isa, failures, nil
		}

		for _, r := range e.AnalyzeAll(ctx, seeds, numParallel, progress) {
			if r.Err != nil {
				failures = append(failures, r)
				continue
			}
			isa.Instructions[r.Spec.Disasm] = r.Spec
		}
	}
}
