// Package isaspec assembles the per-instruction results of every earlier
// stage (classification, refinement, modifier enumeration, live-range
// analysis) into the persisted InstructionSpec, and solves the inverse
// problem: given a set of desired modifier names, which field values
// produce them (spec §4.7 "Modifier-value solver").
package isaspec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gpuisa/solver/pkg/asmparse"
	"github.com/gpuisa/solver/pkg/encoding"
	"github.com/gpuisa/solver/pkg/liverange"
	"github.com/gpuisa/solver/pkg/modenum"
	"github.com/gpuisa/solver/pkg/word"
)

// allModifier is one (token-group, field-index, encoded-value) triple
// flattened out of Modifiers, the shape the greedy solver in
// GetModifierValues searches over (spec §4.7 "all_modifiers").
type allModifier struct {
	Group string // dot-joined token group, trailing dot stripped
	Index int    // which modifier field this value belongs to
	Value int64
}

// InstructionSpec is the fully assembled per-instruction result (spec §3
// "InstructionSpec").
type InstructionSpec struct {
	Disasm              string
	Parsed              *asmparse.Instruction
	Ranges              encoding.Ranges
	Modifiers           [][]modenum.Value
	OperandModifiers    map[int][]modenum.Value
	OperandInteractions map[liverange.RegFile][]liverange.Interaction

	allModifiers  []allModifier
	OpcodeModis   []string
	CanonicalName string
}

// New builds an InstructionSpec and derives OpcodeModis/CanonicalName from
// the enumerated modifier tables (spec §4.7 "_get_opcode_modis").
func New(disasm string, parsed *asmparse.Instruction, ranges encoding.Ranges, modifiers [][]modenum.Value, operandModifiers map[int][]modenum.Value) *InstructionSpec {
	spec := &InstructionSpec{
		Disasm:           disasm,
		Parsed:           parsed,
		Ranges:           ranges,
		Modifiers:        modifiers,
		OperandModifiers: operandModifiers,
	}

	for i, field := range modifiers {
		for _, v := range field {
			group := strings.TrimSuffix(v.Name, ".")
			spec.allModifiers = append(spec.allModifiers, allModifier{Group: group, Index: i, Value: v.Value})
		}
	}
	spec.OpcodeModis = spec.computeOpcodeModis()
	spec.CanonicalName = strings.Join(append([]string{parsed.BaseName}, spec.OpcodeModis...), ".")
	return spec
}

func (s *InstructionSpec) computeOpcodeModis() []string {
	remaining := asmparse.NewMultiset(s.Parsed.Modifiers)
	for _, am := range s.allModifiers {
		if remaining[am.Group] > 0 {
			delete(remaining, am.Group)
		}
	}
	out := make([]string, 0, len(remaining))
	for name := range remaining {
		out = append(out, name)
	}
	return out
}

// GetModifierValues solves the inverse problem: given a requested modifier
// token multiset, greedily pick, for each modifier field, the encoded
// value whose token group consumes the most of the remaining multiset,
// until every token has been accounted for by either a field value or a
// bare flag — or report failure (spec §4.7 "get_modifier_values").
func (s *InstructionSpec) GetModifierValues(modifiers []string) ([]int64, map[string]bool, bool) {
	counts := asmparse.NewMultiset(modifiers)

	for _, modi := range s.OpcodeModis {
		counts[modi]--
		if counts[modi] < 0 {
			return nil, nil, false
		}
	}

	scoreMatch := func(group []string) int {
		trial := counts.Clone()
		for _, tok := range group {
			if tok == "" {
				continue
			}
			if _, ok := counts[tok]; !ok {
				return 0
			}
		}
		total := 0
		for _, tok := range group {
			trial[tok]--
			if trial[tok] < 0 {
				return 0
			}
			total++
		}
		trial.RemoveZeros()
		before := sumCounts(counts)
		after := sumCounts(trial)
		_ = total
		return before - after
	}

	usedFields := map[int]bool{}
	modiValues := make([]int64, len(s.Modifiers))
	change := true
	for len(nonZero(counts)) != 0 && change {
		change = false
		bestIndex := -1
		bestValue := int64(-1)
		bestGroup := []string(nil)
		bestScore := 0

		for _, am := range s.allModifiers {
			if usedFields[am.Index] {
				continue
			}
			group := splitNonEmpty(am.Group, ".")
			score := scoreMatch(group)
			if score > bestScore {
				bestIndex = am.Index
				bestValue = am.Value
				bestGroup = group
				bestScore = score
			}
		}
		if bestScore != 0 {
			change = true
			modiValues[bestIndex] = bestValue
			usedFields[bestIndex] = true
			for _, tok := range bestGroup {
				counts[tok]--
			}
			counts.RemoveZeros()
		}
	}

	for _, am := range s.allModifiers {
		if am.Group != "" || usedFields[am.Index] {
			continue
		}
		modiValues[am.Index] = am.Value
		usedFields[am.Index] = true
	}

	flags := s.Ranges.Flags()
	usedFlags := map[string]bool{}
	for name := range nonZero(counts) {
		if containsString(flags, name) {
			usedFlags[name] = true
			counts[name]--
		}
	}
	counts.RemoveZeros()

	if len(nonZero(counts)) != 0 {
		return nil, nil, false
	}

	return modiValues, usedFlags, true
}

func sumCounts(m asmparse.Multiset) int {
	total := 0
	for _, v := range m {
		total += v
	}
	return total
}

func nonZero(m asmparse.Multiset) asmparse.Multiset {
	out := asmparse.Multiset{}
	for k, v := range m {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// GetMinimalModifiers returns the opcode-implied modifiers plus, for every
// modifier field none of whose decoded values has an empty name, the tokens
// of that field's first value — the smallest modifier set that still encodes
// to a valid instruction (spec §4.7 "get_minimal_modifiers").
func (s *InstructionSpec) GetMinimalModifiers() []string {
	modifiers := append([]string{}, s.OpcodeModis...)
	for _, field := range s.Modifiers {
		if len(field) == 0 {
			continue
		}
		hasEmpty := false
		for _, v := range field {
			if v.Name == "" {
				hasEmpty = true
				break
			}
		}
		if hasEmpty {
			continue
		}
		modifiers = append(modifiers, splitNonEmpty(strings.TrimSuffix(field[0].Name, "."), ".")...)
	}
	return modifiers
}

// EncodeForLiveRange assigns canonical registers to every operand, solves
// the requested modifiers, and encodes the result — the word the
// live-range oracle is asked to analyze (spec §4.8
// "encode_for_life_range").
func (s *InstructionSpec) EncodeForLiveRange(modifiers []string) (map[liverange.RegFile][]liverange.Slot, word.Word, bool) {
	operands := s.Parsed.FlatOperands()
	modiValues, flags, ok := s.GetModifierValues(modifiers)
	if !ok {
		return nil, word.Word{}, false
	}

	regFiles, operandValues := liverange.AssignCanonicalRegisters(operands)

	args := encoding.DefaultEncodeArgs()
	args.SubOperands = operandValues
	args.Modifiers = modiValues
	args.Flags = flags
	args.YieldFlag = false
	args.ReadBarrier = 0
	args.WriteBarrier = 0

	return regFiles, s.Ranges.Encode(args), true
}

// AnalyseOperandInteractions runs the live-range oracle against this
// instruction's minimal-modifier encoding and records, per register file,
// which operand each reported interaction belongs to (spec §4.8
// "analyse_operand_interactions").
func (s *InstructionSpec) AnalyseOperandInteractions(o liverange.Oracle, archCode int) error {
	regFiles, encoded, ok := s.EncodeForLiveRange(s.GetMinimalModifiers())
	if !ok {
		return nil
	}
	_, perFile, err := o.AnalyseLiveRanges(encoded, archCode)
	if err != nil {
		return err
	}
	s.OperandInteractions = liverange.MapInteractions(regFiles, perFile)
	return nil
}

type specJSON struct {
	Disasm              string                              `json:"disasm"`
	Parsed              json.RawMessage                     `json:"parsed"`
	Ranges              encoding.Ranges                     `json:"ranges"`
	Modifiers           [][]modenum.Value                   `json:"modifiers"`
	OperandModifiers    map[int][]modenum.Value             `json:"operand_modifiers"`
	OperandInteractions map[string][]liverange.Interaction  `json:"operand_interactions,omitempty"`
	OpcodeModis         []string                            `json:"opcode_modis"`
	CanonicalName       string                              `json:"canonical_name"`
}

// ToJSON matches the on-disk isa.json per-instruction object (spec §6
// "Persisted JSON output").
func (s *InstructionSpec) ToJSON() ([]byte, error) {
	parsedJSON, err := json.Marshal(parsedInstructionJSON(s.Parsed))
	if err != nil {
		return nil, err
	}
	interactions := map[string][]liverange.Interaction{}
	for file, list := range s.OperandInteractions {
		interactions[string(file)] = list
	}
	return json.Marshal(specJSON{
		Disasm:              s.Disasm,
		Parsed:              parsedJSON,
		Ranges:              s.Ranges,
		Modifiers:           s.Modifiers,
		OperandModifiers:    s.OperandModifiers,
		OperandInteractions: interactions,
		OpcodeModis:         s.OpcodeModis,
		CanonicalName:       s.CanonicalName,
	})
}

// FromJSON reconstructs an InstructionSpec from the bytes ToJSON produced.
// Operands are re-derived from Disasm via asmparse.Parse rather than
// round-tripped through the persisted parsed-instruction summary, since
// that summary intentionally drops the full operand tree.
func FromJSON(data []byte) (*InstructionSpec, error) {
	var sj specJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return nil, err
	}
	parsed, err := asmparse.Parse(sj.Disasm)
	if err != nil {
		return nil, err
	}

	spec := New(sj.Disasm, parsed, sj.Ranges, sj.Modifiers, sj.OperandModifiers)
	for file, list := range sj.OperandInteractions {
		if spec.OperandInteractions == nil {
			spec.OperandInteractions = map[liverange.RegFile][]liverange.Interaction{}
		}
		spec.OperandInteractions[liverange.RegFile(file)] = list
	}
	return spec, nil
}

// parsedInstructionJSON renders an Instruction's base name, modifiers and
// predicate. The operand tree is not written, so the key cannot be rebuilt
// from this summary alone; every consumer of a persisted spec re-derives
// operands from Disasm via asmparse.Parse.
func parsedInstructionJSON(inst *asmparse.Instruction) map[string]any {
	return map[string]any{
		"base_name":         inst.BaseName,
		"modifiers":         inst.Modifiers,
		"predicate":         inst.Predicate,
		"predicate_negated": inst.PredicateNegated,
	}
}

// ISASpec is the full, persisted collection of every instruction this
// engine has analyzed, keyed by disassembly text (spec §3 "ISASpec").
type ISASpec struct {
	Instructions map[string]*InstructionSpec
}

// ToJSON renders the full isa.json document: every instruction's own
// ToJSON object, keyed by disassembly text.
func (isa *ISASpec) ToJSON() ([]byte, error) {
	raw := make(map[string]json.RawMessage, len(isa.Instructions))
	for key, spec := range isa.Instructions {
		b, err := spec.ToJSON()
		if err != nil {
			return nil, err
		}
		raw[key] = b
	}
	return json.MarshalIndent(raw, "", "  ")
}

// ISASpecFromJSON reads back an isa.json document written by ToJSON.
func ISASpecFromJSON(data []byte) (*ISASpec, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	isa := &ISASpec{Instructions: make(map[string]*InstructionSpec, len(raw))}
	for key, b := range raw {
		spec, err := FromJSON(b)
		if err != nil {
			return nil, fmt.Errorf("isaspec: decoding %q: %w", key, err)
		}
		isa.Instructions[key] = spec
	}
	return isa, nil
}

// FindInstruction returns the InstructionSpec whose parsed key matches
// targetKey and whose opcode-implied modifiers are most fully covered by
// the requested modifiers multiset (spec §4.7/§9 "ISASpec.find_instruction").
func (isa *ISASpec) FindInstruction(targetKey string, modifiers []string) (*InstructionSpec, bool) {
	requested := asmparse.NewMultiset(modifiers)

	bestScore := -1
	var best *InstructionSpec
	for _, inst := range isa.Instructions {
		if inst.Parsed.Key() != targetKey {
			continue
		}
		trial := requested.Clone()
		match := true
		for _, modi := range inst.OpcodeModis {
			trial[modi]--
			if trial[modi] < 0 {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		score := sumCounts(requested) - sumCounts(trial)
		if score > bestScore {
			best = inst
			bestScore = score
		}
	}
	return best, best != nil
}
