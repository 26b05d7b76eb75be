// Package classify builds the initial per-bit classification of an
// instruction from a batch of single-bit mutations (spec §4.2 "Initial
// classifier / MutationSet").
package classify

import (
	"sort"
	"strings"

	"github.com/gpuisa/solver/pkg/asmparse"
	"github.com/gpuisa/solver/pkg/encoding"
	"github.com/gpuisa/solver/pkg/word"
)

// ModifierSearchStartBit is the bit index marking the opcode field's upper
// edge: a bit at or below it is never considered for instruction-modifier
// classification, since a flip there is assumed to change the opcode
// itself rather than a modifier (spec §9 Open Question #3). The original
// left this as a bare literal (`if i_bit > 12`); it is promoted here to a
// named, documented constant instead, with the same value, since every
// architecture sampled in the reference corpus shares this opcode-field
// width.
const ModifierSearchStartBit = 12

// Mutation is one observed single-bit flip: the bit index flipped, the
// mutated word, and what the oracle disassembled it to (empty if the
// disassembler rejected it outright).
type Mutation struct {
	Bit   int
	Word  word.Word
	Disasm string
}

// MutationSet is the per-bit classification of one seed instruction built
// from a batch of Mutations (spec §3 "InstructionMutationSet").
type MutationSet struct {
	Inst   word.Word
	Disasm string
	Parsed *asmparse.Instruction
	Key    string

	OperandValueBits    map[int]bool
	OpcodeBits          map[int]bool
	OperandModifierBits map[int]bool
	PredicateBits       map[int]bool
	ModifierBits        map[int]bool

	OperandModifierBitFlag    map[int]string
	InstructionModifierBitFlag map[int]string
	BitToOperand              map[int]int
	BitToShift                map[int]int
	BitToOffset               map[int]int64

	ModifierGroups map[int]int
}

// Analyse builds a MutationSet from a seed instruction and its observed
// mutations (spec §4.2 "InstructionMutationSet._analyse").
func Analyse(inst word.Word, disasm string, mutations []Mutation) (*MutationSet, error) {
	parsed, err := asmparse.Parse(disasm)
	if err != nil {
		return nil, err
	}

	ms := &MutationSet{
		Inst:                       inst,
		Disasm:                     disasm,
		Parsed:                     parsed,
		Key:                        parsed.Key(),
		OperandValueBits:           map[int]bool{},
		OpcodeBits:                 map[int]bool{},
		OperandModifierBits:        map[int]bool{},
		PredicateBits:              map[int]bool{},
		ModifierBits:               map[int]bool{},
		OperandModifierBitFlag:     map[int]string{},
		InstructionModifierBitFlag: map[int]string{},
		BitToOperand:               map[int]int{},
		BitToShift:                 map[int]int{},
		BitToOffset:                map[int]int64{},
		ModifierGroups:             map[int]int{},
	}

	parsedOperands := parsed.FlatOperands()

	for _, m := range mutations {
		asm := strings.TrimSpace(m.Disasm)
		if asm == "" {
			ms.OpcodeBits[m.Bit] = true
			continue
		}

		mutatedParsed, err := asmparse.Parse(asm)
		if err != nil {
			// A mutation the oracle accepted but this parser cannot
			// read is not fatal to the whole analysis: skip it, same
			// as the original's best-effort continue on parse failure.
			continue
		}
		if ms.Key != mutatedParsed.Key() {
			ms.OpcodeBits[m.Bit] = true
			continue
		}

		mutatedOperands := mutatedParsed.FlatOperands()

		if parsed.Predicate != mutatedParsed.Predicate || parsed.PredicateNegated != mutatedParsed.PredicateNegated {
			ms.PredicateBits[m.Bit] = true
		}

		operandEffected := false
		n := len(parsedOperands)
		if len(mutatedOperands) < n {
			n = len(mutatedOperands)
		}
		for i := 0; i < n; i++ {
			a, b := mutatedOperands[i], parsedOperands[i]
			if !asmparse.CompareOperands(a, b) {
				ms.OperandValueBits[m.Bit] = true
				ms.BitToOperand[m.Bit] = i
				operandEffected = true
				continue
			}
			effected, flag, isFlag := asmparse.AnalyseModifiers(b.Modifiers(), a.Modifiers())
			if effected {
				ms.BitToOperand[m.Bit] = i
				ms.OperandModifierBits[m.Bit] = true
				operandEffected = true
			}
			if isFlag {
				ms.OperandModifierBitFlag[m.Bit] = flag
			}
		}
		if operandEffected {
			continue
		}

		if m.Bit > ModifierSearchStartBit {
			effected, flag, isFlag := asmparse.AnalyseModifiers(parsed.Modifiers, mutatedParsed.Modifiers)
			if effected {
				ms.ModifierBits[m.Bit] = true
			}
			if isFlag {
				ms.InstructionModifierBitFlag[m.Bit] = flag
			}
		}
	}

	return ms, nil
}

// ResetModifierGroups discards any previously assigned modifier groups.
func (ms *MutationSet) ResetModifierGroups() {
	ms.ModifierGroups = map[int]int{}
}

// CanonicalizeModifierGroups assigns a contiguous, stable group id to every
// modifier bit that does not already carry one: runs of adjacent bits with
// no group get the same new id, and all group ids are then renumbered in
// bit order starting at 1 (spec §4.2
// "canonicalize_modifier_groups").
func (ms *MutationSet) CanonicalizeModifierGroups() {
	bits := sortedKeys(ms.ModifierBits)

	fillMode := false
	fillID := 0
	for i, bit := range bits {
		if _, ok := ms.ModifierGroups[bit]; ok {
			continue
		}
		if fillMode && i != 0 && bits[i-1] != bit-1 {
			fillMode = false
		}
		if !fillMode {
			maxGroup := 0
			for _, g := range ms.ModifierGroups {
				if g > maxGroup {
					maxGroup = g
				}
			}
			fillID = maxGroup + 1
			fillMode = true
		}
		ms.ModifierGroups[bit] = fillID
	}

	numMap := map[int]int{}
	maxNum := 0
	for _, bit := range bits {
		gid := ms.ModifierGroups[bit]
		if _, ok := numMap[gid]; !ok {
			maxNum++
			numMap[gid] = maxNum
		}
		ms.ModifierGroups[bit] = numMap[gid]
	}
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// controlCodeField is one field of the fixed control-code block that
// follows the opcode+operand region on every architecture the oracle
// targets (spec §3 "control code fields").
type controlCodeField struct {
	typ    encoding.RangeType
	length int
}

var controlCodeLayout = []controlCodeField{
	{encoding.RangeStallCycles, 4},
	{encoding.RangeYieldFlag, 1},
	{encoding.RangeReadBarrier, 3},
	{encoding.RangeWriteBarrier, 3},
	{encoding.RangeBarrierMask, 6},
	{encoding.RangeReuseMask, 4},
}

const controlCodeOffset = 13*8 + 1

// ComputeEncodingRanges walks every bit of the instruction word in order
// and assembles the contiguous Range list this mutation set implies (spec
// §4.4 "Range construction" / "compute_encoding_ranges").
func (ms *MutationSet) ComputeEncodingRanges() encoding.Ranges {
	ms.CanonicalizeModifierGroups()

	var result []encoding.Range
	var current *encoding.Range

	push := func() {
		if current != nil {
			result = append(result, *current)
		}
		current = nil
	}

	for i := 0; i < word.Bits; i++ {
		var newRange *encoding.Range

		switch {
		case ms.ModifierBits[i]:
			if flag, ok := ms.InstructionModifierBitFlag[i]; ok {
				push()
				current = &encoding.Range{Type: encoding.RangeFlag, Start: i, Length: 1, OperandIndex: -1, Name: flag}
				push()
				continue
			}
			newRange = &encoding.Range{Type: encoding.RangeModifier, Start: i, Length: 1, OperandIndex: -1, GroupID: ms.ModifierGroups[i]}

		case ms.PredicateBits[i]:
			newRange = &encoding.Range{Type: encoding.RangePredicate, Start: i, Length: 1, OperandIndex: -1}

		case ms.OperandValueBits[i]:
			newRange = &encoding.Range{Type: encoding.RangeOperand, Start: i, Length: 1, OperandIndex: ms.BitToOperand[i]}

		case ms.OperandModifierBits[i]:
			operandIndex := ms.BitToOperand[i]
			if flag, ok := ms.OperandModifierBitFlag[i]; ok {
				push()
				current = &encoding.Range{Type: encoding.RangeOperandFlag, Start: i, Length: 1, OperandIndex: operandIndex, Name: flag}
				push()
				continue
			}
			newRange = &encoding.Range{Type: encoding.RangeOperandModifier, Start: i, Length: 1, OperandIndex: operandIndex}
		}

		if newRange == nil {
			offset := controlCodeOffset
			for _, field := range controlCodeLayout {
				if i >= offset && i < offset+field.length && ms.Inst.GetRange(offset, offset+field.length) == 0 {
					newRange = &encoding.Range{Type: field.typ, Start: i, Length: 1, OperandIndex: -1}
					break
				}
				offset += field.length
			}
		}

		if newRange == nil {
			newRange = &encoding.Range{Type: encoding.RangeConstant, Start: i, Length: 1, OperandIndex: -1}
		}

		extend := current != nil &&
			newRange.Type == current.Type &&
			newRange.OperandIndex == current.OperandIndex &&
			(newRange.Type != encoding.RangeConstant || i != word.Bits/2) &&
			(newRange.Type != encoding.RangeModifier || newRange.GroupID == current.GroupID)

		if extend {
			current.Length++
		} else {
			push()
			current = newRange
		}

		if current.Shift == 0 {
			if shift, ok := ms.BitToShift[i]; ok {
				current.Shift = shift
			}
		}
		if current.Offset == 0 {
			if offset, ok := ms.BitToOffset[i]; ok {
				current.Offset = offset
			}
		}

		if current.Type == encoding.RangeConstant {
			if ms.Inst.GetRange(i, i+1) != 0 {
				current.Constant |= int64(1) << uint(current.Length-1)
			}
		}
	}
	push()

	return encoding.Ranges{Ranges: result, Inst: ms.Inst}
}
