// Package refine implements the fixed-point refinement passes that turn a
// classify.MutationSet's first-pass guesses into a clean bit layout (spec
// §4.3 "Refinement passes"). Every pass takes the mutation set it refines
// in place and reports whether it changed anything, so RunToFixedPoint can
// iterate a pass until it stops finding new evidence.
package refine

import (
	"math"
	"strings"

	"github.com/gpuisa/solver/pkg/asmparse"
	"github.com/gpuisa/solver/pkg/classify"
	"github.com/gpuisa/solver/pkg/encoding"
	"github.com/gpuisa/solver/pkg/oracle"
	"github.com/gpuisa/solver/pkg/word"
)

// Pass is a single refinement analysis: it may issue oracle probes and
// mutates ms in place, reporting whether anything changed.
type Pass func(d oracle.Disassembler, ms *classify.MutationSet) (bool, error)

// RunToFixedPoint repeatedly invokes fn until it reports no further change
// (spec §4.3 "fixed-point iterative refinement ... terminating because
// classification space per bit is finite").
func RunToFixedPoint(d oracle.Disassembler, ms *classify.MutationSet, fn Pass) error {
	for {
		changed, err := fn(d, ms)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
	}
}

func flipped(w word.Word, bits ...int) word.Word {
	out := w
	for _, b := range bits {
		out.ToggleBit(b)
	}
	return out
}

// DisambiguateFlags resolves, for each bit classified as an instruction
// modifier-flag candidate, whether an adjacent bit actually belongs to the
// same field (spec §4.3 "analysis_disambiguate_flags"): flip the candidate
// bit together with a neighbor; if the flag name vanishes from the result,
// the neighbor is folded into modifier_bits and the flag hypothesis for
// this bit is withdrawn.
func DisambiguateFlags(d oracle.Disassembler, ms *classify.MutationSet) (bool, error) {
	type probe struct {
		bit, adj int
		w        word.Word
	}
	var probes []probe
	for bit := range ms.InstructionModifierBitFlag {
		probes = append(probes, probe{bit, bit + 1, flipped(ms.Inst, bit, bit+1)})
		if _, ok := ms.InstructionModifierBitFlag[bit-1]; !ok {
			probes = append(probes, probe{bit, bit - 1, flipped(ms.Inst, bit, bit-1)})
		}
	}
	if len(probes) == 0 {
		return false, nil
	}

	words := make([]word.Word, len(probes))
	for i, p := range probes {
		words[i] = p.w
	}
	texts, err := d.DisassembleBatch(words)
	if err != nil {
		return false, err
	}

	changed := false
	for i, p := range probes {
		flagName, stillCandidate := ms.InstructionModifierBitFlag[p.bit]
		if !stillCandidate {
			continue // already eliminated by an earlier probe this round
		}
		text := texts[i]
		if text == "" {
			continue
		}
		parsed, err := asmparse.Parse(text)
		if err != nil {
			continue
		}
		if parsed.Key() != ms.Key {
			continue
		}
		if !containsModifier(parsed.Modifiers, flagName) {
			changed = true
			ms.ModifierBits[p.adj] = true
			delete(ms.InstructionModifierBitFlag, p.bit)
			delete(ms.InstructionModifierBitFlag, p.adj)
			ms.ResetModifierGroups()
		}
	}
	return changed, nil
}

func containsModifier(mods []string, name string) bool {
	for _, m := range mods {
		if m == name {
			return true
		}
	}
	return false
}

// DisambiguateOperandFlags is the operand-scoped counterpart of
// DisambiguateFlags (spec §4.3 "analysis_disambiguate_operand_flags").
//
// The original left the empty-probe-set case an implicit `return` (Python
// None), which callers then treated as falsy — indistinguishable from "ran
// a full pass and found nothing to change" (spec §9 Open Question #2).
// Here the empty-probe-set case returns an explicit (false, nil), the same
// result as a full pass that found nothing to change; changed is always a
// real bool.
func DisambiguateOperandFlags(d oracle.Disassembler, ms *classify.MutationSet) (bool, error) {
	type probe struct {
		bit, adj int
		w        word.Word
	}
	var probes []probe
	for bit := range ms.OperandModifierBitFlag {
		probes = append(probes, probe{bit, bit + 1, flipped(ms.Inst, bit, bit+1)})
		if _, ok := ms.OperandModifierBitFlag[bit-1]; !ok {
			probes = append(probes, probe{bit, bit - 1, flipped(ms.Inst, bit, bit-1)})
		}
	}
	if len(probes) == 0 {
		return false, nil
	}

	words := make([]word.Word, len(probes))
	for i, p := range probes {
		words[i] = p.w
	}
	texts, err := d.DisassembleBatch(words)
	if err != nil {
		return false, err
	}

	changed := false
	for i, p := range probes {
		flagName, stillCandidate := ms.OperandModifierBitFlag[p.bit]
		if !stillCandidate {
			continue
		}
		text := texts[i]
		if text == "" {
			continue
		}
		parsed, err := asmparse.Parse(text)
		if err != nil {
			continue
		}
		if parsed.Key() != ms.Key {
			continue
		}
		operandIndex, ok := ms.BitToOperand[p.bit]
		if !ok {
			continue
		}
		flat := parsed.FlatOperands()
		if operandIndex >= len(flat) {
			continue
		}
		if !containsModifier(flat[operandIndex].Modifiers(), flagName) {
			changed = true
			delete(ms.OperandModifierBitFlag, p.bit)
			delete(ms.OperandModifierBitFlag, p.adj)
		}
	}
	return changed, nil
}

// isPredicateOperand reports whether op is a register operand from the
// predicate file.
func isPredicateOperand(op asmparse.Operand) bool {
	r, ok := op.(asmparse.RegOperand)
	return ok && r.Class == asmparse.RegClassPred
}

// disasmValue writes value into rng's bit span (shifted by offset) of
// ms.Inst, disassembles the result, and returns the resulting operand's
// numeric value (spec §4.3 "disasm_value").
func disasmValue(d oracle.Disassembler, ms *classify.MutationSet, rng encoding.Range, value int64, offset int) (int64, bool, error) {
	code := ms.Inst
	code.SetRange(rng.Start-offset, rng.Start+rng.Length, uint64(value))
	text, err := d.Disassemble(code)
	if err != nil {
		return 0, false, err
	}
	if text == "" {
		return 0, false, nil
	}
	parsed, err := asmparse.Parse(text)
	if err != nil {
		return 0, false, nil
	}
	flat := parsed.FlatOperands()
	if rng.OperandIndex < 0 || rng.OperandIndex >= len(flat) {
		return 0, false, nil
	}
	v, ok := flat[rng.OperandIndex].(interface{ OperandValue() int64 })
	if !ok {
		return 0, false, nil
	}
	return v.OperandValue(), true, nil
}

// FixOperandWidths detects operand fields whose width is wider than the
// bits so far classified, by comparing the decoded value at field=0 versus
// field=1 and checking whether the jump is a clean power of two larger
// than expected — the signature of a field that is missing its low bits
// because they were absorbed into an adjacent constant (spec §4.3
// "analysis_operand_fix").
func FixOperandWidths(d oracle.Disassembler, ms *classify.MutationSet) error {
	ranges := ms.ComputeEncodingRanges()
	flat := ms.Parsed.FlatOperands()
	seen := map[int]bool{}

	for _, rng := range ranges.Ranges {
		if rng.Type != encoding.RangeOperand {
			continue
		}
		if rng.OperandIndex >= len(flat) {
			continue
		}
		oper := flat[rng.OperandIndex]
		_, isIntImm := oper.(asmparse.IntImmOperand)
		isPred := isPredicateOperand(oper)
		if !isIntImm && !isPred {
			continue
		}
		if (rng.Length <= 2 && !isPred) || seen[rng.OperandIndex] {
			continue
		}
		seen[rng.OperandIndex] = true

		valZero, okZero, err := disasmValue(d, ms, rng, 0, 0)
		if err != nil {
			return err
		}
		valOne, okOne, err := disasmValue(d, ms, rng, 1, 0)
		if err != nil {
			return err
		}
		if !okZero || !okOne {
			continue
		}

		var diff int64
		if isPred {
			diff = valOne - valZero
			if diff < 0 {
				diff = -diff
			}
		} else {
			diff = valOne - valZero
		}
		if diff < 1 {
			continue
		}
		missingF := math.Log2(float64(diff))
		if missingF != math.Trunc(missingF) || missingF < 1 {
			continue
		}
		missing := int(missingF)

		shift := 0
		var offsets []int64
		if !isPred {
			failure := false
			for i := 0; i < rng.Length; i++ {
				encVal := int64(1) << uint(i)
				v, ok, err := disasmValue(d, ms, rng, encVal, missing)
				if err != nil {
					return err
				}
				if !ok {
					failure = true
					break
				}
				offsets = append(offsets, v-encVal)
				if v == encVal {
					ms.BitToShift[rng.Start] = i
					shift = i
					break
				}
			}
			if failure {
				continue
			}
		}

		if len(offsets) >= 8 && countEq(offsets, offsets[len(offsets)-1]) >= len(offsets)/2 && offsets[len(offsets)-1] != 0 {
			off := offsets[len(offsets)-1]
			ms.BitToOffset[rng.Start] = off
			idx := indexOfZero(offsets, off)
			if idx != 0 {
				ms.BitToShift[rng.Start] = idx
				shift = idx
			}
		} else if len(offsets) > 0 && offsets[len(offsets)-1] != 0 {
			continue
		}

		ext := missing - shift + 1
		for i := 1; i < ext; i++ {
			ms.OperandValueBits[rng.Start-i] = true
			ms.BitToOperand[rng.Start-i] = rng.OperandIndex
		}
	}
	return nil
}

func countEq(vs []int64, target int64) int {
	n := 0
	for _, v := range vs {
		if v == target {
			n++
		}
	}
	return n
}

func indexOfZero(vs []int64, off int64) int {
	for i, v := range vs {
		if v-off == 0 {
			return i
		}
	}
	return 0
}

// FixPredicatePolarity sets Inverse on any OPERAND range whose operand is
// a predicate register and whose decoded value at field=1 is 6: the
// disassembler's `!PT` convention for an inverted predicate bit (spec §4.3
// "analysis_predicate_fix" and GLOSSARY "Predicate polarity").
func FixPredicatePolarity(d oracle.Disassembler, ms *classify.MutationSet, ranges *encoding.Ranges) error {
	flat := ms.Parsed.FlatOperands()
	for i := range ranges.Ranges {
		rng := &ranges.Ranges[i]
		if rng.Type != encoding.RangeOperand {
			continue
		}
		if rng.OperandIndex >= len(flat) || !isPredicateOperand(flat[rng.OperandIndex]) {
			continue
		}
		code := ms.Inst
		code.SetRange(rng.Start, rng.Start+rng.Length, 1)
		text, err := d.Disassemble(code)
		if err != nil {
			return err
		}
		if text == "" {
			continue
		}
		parsed, err := asmparse.Parse(text)
		if err != nil {
			continue
		}
		parsedFlat := parsed.FlatOperands()
		if rng.OperandIndex >= len(parsedFlat) {
			continue
		}
		if v, ok := parsedFlat[rng.OperandIndex].(interface{ OperandValue() int64 }); ok && v.OperandValue() == 6 {
			rng.Inverse = true
		}
	}
	return nil
}

// ExtendModifiers probes one bit to either side of each modifier range to
// see whether it actually belongs to the field (spec §4.3
// "analysis_extend_modifiers").
func ExtendModifiers(d oracle.Disassembler, ms *classify.MutationSet) (bool, error) {
	ranges := ms.ComputeEncodingRanges()
	changed := false

	analyseAdj := func(modiBit, adj int) error {
		if _, isFlag := ms.InstructionModifierBitFlag[adj]; isFlag {
			return nil
		}
		base := flipped(ms.Inst, modiBit)
		origText, err := d.Disassemble(base)
		if err != nil {
			return err
		}
		if origText == "" {
			return nil
		}
		origParsed, err := asmparse.Parse(origText)
		if err != nil {
			return nil
		}

		mutated := flipped(base, adj)
		modiText, err := d.Disassemble(mutated)
		if err != nil {
			return err
		}
		if modiText == "" {
			return nil
		}
		modiParsed, err := asmparse.Parse(modiText)
		if err != nil {
			return nil
		}

		if modiParsed.Key() != origParsed.Key() {
			return nil
		}
		if !sameModifiers(modiParsed.Modifiers, origParsed.Modifiers) {
			if !ms.ModifierBits[adj] {
				changed = true
			}
			ms.ModifierBits[adj] = true
			delete(ms.InstructionModifierBitFlag, adj)
		}
		return nil
	}

	for _, rng := range ranges.Ranges {
		if rng.Type != encoding.RangeModifier {
			continue
		}
		if err := analyseAdj(rng.Start, rng.Start-1); err != nil {
			return false, err
		}
		if err := analyseAdj(rng.Start, rng.Start+rng.Length); err != nil {
			return false, err
		}
	}
	if changed {
		ms.ResetModifierGroups()
	}
	return changed, nil
}

func sameModifiers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	am, bm := asmparse.NewMultiset(a), asmparse.NewMultiset(b)
	diff := am.Sub(bm)
	diff.RemoveZeros()
	return len(diff) == 0
}

// CoalesceModifiers merges a short constant range sandwiched between two
// modifier ranges back into the modifier field either side of it (spec
// §4.3 "analysis_modifier_coalescing") — a defensive pass against the
// classifier over-splitting a single field around a value that happens to
// decode as a constant at the seed's particular bit pattern.
func CoalesceModifiers(d oracle.Disassembler, ms *classify.MutationSet) (bool, error) {
	ranges := ms.ComputeEncodingRanges()
	changed := false

	for i := 0; i+2 < len(ranges.Ranges); i++ {
		mid := ranges.Ranges[i+1]
		if mid.Length > 2 {
			continue
		}
		if ranges.Ranges[i].Type != encoding.RangeModifier || mid.Type != encoding.RangeConstant {
			continue
		}
		if ranges.Ranges[i+2].Type != encoding.RangeModifier {
			continue
		}
		for b := mid.Start; b < mid.Start+mid.Length; b++ {
			changed = true
			ms.ModifierBits[b] = true
		}
	}
	if changed {
		ms.ResetModifierGroups()
	}
	return changed, nil
}

// SplitModifiers detects independence between two sub-fields of one
// modifier range by probing whether flipping a later bit together with the
// earlier bit keeps the token that the earlier bit alone introduced, while
// still decoding differently from both the seed and the single flip, and
// if so splits the range
// into two modifier groups at that boundary (spec §4.3
// "analysis_modifier_splitting").
func SplitModifiers(d oracle.Disassembler, ms *classify.MutationSet) (bool, error) {
	ranges := ms.ComputeEncodingRanges()

	analyseAdj := func(modiBit, adj int) (bool, error) {
		words := []word.Word{ms.Inst, flipped(ms.Inst, modiBit), flipped(ms.Inst, modiBit, adj)}
		texts, err := d.DisassembleBatch(words)
		if err != nil {
			return false, err
		}
		for _, t := range texts {
			if t == "" {
				return false, nil
			}
		}
		orig, err1 := asmparse.Parse(texts[0])
		modi, err2 := asmparse.Parse(texts[1])
		adjI, err3 := asmparse.Parse(texts[2])
		if err1 != nil || err2 != nil || err3 != nil {
			return false, nil
		}
		if !(orig.Key() == modi.Key() && modi.Key() == adjI.Key()) {
			return false, nil
		}

		origDifference := asmparse.ModifierDifference(orig.Modifiers, modi.Modifiers)
		if len(origDifference) == 0 {
			return false, nil
		}
		withoutTrailingDot := origDifference[:len(origDifference)-1]
		if strings.Contains(withoutTrailingDot, ".") || strings.HasPrefix(origDifference, "INVALID") {
			return false, nil
		}
		trimmed := withoutTrailingDot

		if containsModifier(adjI.Modifiers, trimmed) &&
			!sameModifiers(adjI.Modifiers, modi.Modifiers) &&
			!sameModifiers(adjI.Modifiers, orig.Modifiers) {
			countOrig := countToken(modi.Modifiers, trimmed)
			countAdj := countToken(adjI.Modifiers, trimmed)
			return countOrig == countAdj, nil
		}
		return false, nil
	}

	for _, rng := range ranges.Ranges {
		if rng.Type != encoding.RangeModifier {
			continue
		}
		for i := 1; i < rng.Length; i++ {
			hit, err := analyseAdj(rng.Start, rng.Start+i)
			if err != nil {
				return false, err
			}
			if !hit {
				hit, err = analyseAdj(rng.Start+i-1, rng.Start+i)
				if err != nil {
					return false, err
				}
			}
			if hit {
				splitRange(ms, rng, i)
				return true, nil
			}
		}
	}
	return false, nil
}

func splitRange(ms *classify.MutationSet, rng encoding.Range, i int) {
	maxGroup := 0
	for _, g := range ms.ModifierGroups {
		if g > maxGroup {
			maxGroup = g
		}
	}
	nextGroup := maxGroup + 1
	for b := i; b < rng.Length; b++ {
		ms.ModifierGroups[rng.Start+b] = nextGroup
	}
}

func countToken(mods []string, token string) int {
	n := 0
	for _, m := range mods {
		if m == token {
			n++
		}
	}
	return n
}

