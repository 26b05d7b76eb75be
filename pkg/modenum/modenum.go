// Package modenum enumerates the discrete named values of every modifier
// and operand-modifier field once its bit span is known (spec §4.5
// "Modifier enumeration").
package modenum

import (
	"strings"

	"github.com/gpuisa/solver/pkg/asmparse"
	"github.com/gpuisa/solver/pkg/encoding"
	"github.com/gpuisa/solver/pkg/oracle"
	"github.com/gpuisa/solver/pkg/word"
)

// Value is one enumerated (encoded value, textual name) pair for a
// modifier field.
type Value struct {
	Value int64
	Name  string
}

// isInvalid reports whether a decoded name is a disassembler placeholder
// rather than a real modifier token (spec §4.5 "If any decoded name
// contains INVALID or ??").
func isInvalid(name string) bool {
	return strings.Contains(name, "INVALID") || strings.Contains(name, "??")
}

// EnumerateModifiers enumerates every MODIFIER-typed range, falling back
// to dependent enumeration (EnumerateDependentModifier) for any field whose
// independent enumeration yields an INVALID/?? name at some value (spec
// §4.5). initialValues seeds every other field's held-constant value;
// nil means "read it from the seed word".
func EnumerateModifiers(d oracle.Disassembler, rs encoding.Ranges, initialValues []int64) ([][]Value, error) {
	modifiers := findType(rs, encoding.RangeModifier)

	values := initialValues
	if values == nil {
		values = make([]int64, len(modifiers))
		for i, rng := range modifiers {
			values[i] = int64(rs.Inst.GetRange(rng.Start, rng.Start+rng.Length))
		}
	} else {
		values = append([]int64{}, values...)
	}

	var result [][]Value
	for i, modifier := range modifiers {
		modResult, err := enumerateMod(d, rs, append([]int64{}, values...), modifier, i)
		if err != nil {
			return nil, err
		}
		if modResult == nil {
			result = append(result, nil)
			continue
		}
		needsDependent := false
		for _, mv := range modResult {
			if isInvalid(mv.Name) {
				needsDependent = true
				break
			}
		}
		if needsDependent {
			dep, err := EnumerateDependentModifier(d, rs, modifiers, i)
			if err != nil {
				return nil, err
			}
			result = append(result, dep)
			continue
		}
		result = append(result, modResult)
	}
	return result, nil
}

// EnumerateDependentModifier enumerates modifier field idx once under
// every combination of the other modifier fields' values, and for each
// encoded value of idx picks the first basis that decodes to a non-invalid
// name (spec §4.5 "dependent enumeration").
func EnumerateDependentModifier(d oracle.Disassembler, rs encoding.Ranges, modifiers []encoding.Range, idx int) ([]Value, error) {
	valRanges := make([][]int64, len(modifiers))
	for i, m := range modifiers {
		if i == idx {
			valRanges[i] = []int64{0}
			continue
		}
		n := int64(1) << uint(m.Length)
		vs := make([]int64, n)
		for v := int64(0); v < n; v++ {
			vs[v] = v
		}
		valRanges[i] = vs
	}

	var results [][]Value
	for _, basis := range cartesianProduct(valRanges) {
		mods, err := enumerateMod(d, rs, append([]int64{}, basis...), modifiers[idx], idx)
		if err != nil {
			return nil, err
		}
		if mods != nil {
			results = append(results, mods)
		}
	}

	target := modifiers[idx]
	n := int64(1) << uint(target.Length)
	var realMods []Value
	for probeVal := int64(0); probeVal < n; probeVal++ {
	resultLoop:
		for _, res := range results {
			for _, mv := range res {
				if mv.Value == probeVal && !isInvalid(mv.Name) {
					realMods = append(realMods, mv)
					break resultLoop
				}
			}
		}
	}
	return realMods, nil
}

// enumerateMod encodes every value 0..2^length-1 of modifier (holding
// every other modifier at initialValues, every operand at 0), disassembles
// the batch, and names each result as the positive token-multiset
// difference from a basis derived from the first two results (spec §4.5
// "enumerate_mod").
func enumerateMod(d oracle.Disassembler, rs encoding.Ranges, initialValues []int64, modifier encoding.Range, idx int) ([]Value, error) {
	operandValues := make([]int64, rs.OperandCount())
	n := int64(1) << uint(modifier.Length)

	ws := make([]word.Word, n)
	for v := int64(0); v < n; v++ {
		initialValues[idx] = v
		a := encoding.DefaultEncodeArgs()
		a.SubOperands = operandValues
		a.Modifiers = append([]int64{}, initialValues...)
		ws[v] = rs.Encode(a)
	}
	texts, err := d.DisassembleBatch(ws)
	if err != nil {
		return nil, err
	}

	if len(texts) < 2 {
		return nil, nil
	}
	firstParsed, err1 := asmparse.Parse(texts[0])
	secondParsed, err2 := asmparse.Parse(texts[1])
	if err1 != nil || err2 != nil {
		return nil, nil
	}

	firstDifference := asmparse.ModifierDifference(secondParsed.Modifiers, firstParsed.Modifiers)

	basis := asmparse.NewMultiset(firstParsed.Modifiers)
	for _, tok := range strings.Split(firstDifference, ".") {
		if tok == "" {
			continue
		}
		basis[tok]--
	}
	basis.RemoveZeros()

	var ret []Value
	for i, asm := range texts {
		parsed, err := asmparse.Parse(asm)
		if err != nil {
			continue
		}
		name := asmparse.BasisModifierDifference(basis, parsed.Modifiers)
		ret = append(ret, Value{Value: int64(i), Name: name})
	}
	return ret, nil
}

// EnumerateOperandModifiers enumerates every OPERAND_MODIFIER-typed range
// (spec §4.5 "Operand modifiers follow the same protocol per operand"),
// keyed by operand index.
func EnumerateOperandModifiers(d oracle.Disassembler, rs encoding.Ranges) (map[int][]Value, error) {
	operandModifiers := findType(rs, encoding.RangeOperandModifier)
	modifiers := findType(rs, encoding.RangeModifier)

	modiValues := make([]int64, len(modifiers))
	for i, rng := range modifiers {
		modiValues[i] = int64(rs.Inst.GetRange(rng.Start, rng.Start+rng.Length))
	}
	operandValues := make([]int64, rs.OperandCount())

	result := map[int][]Value{}
	for _, modifier := range operandModifiers {
		n := int64(1) << uint(modifier.Length)
		ws := make([]word.Word, n)
		for i := int64(0); i < n; i++ {
			a := encoding.DefaultEncodeArgs()
			a.SubOperands = operandValues
			a.Modifiers = modiValues
			a.OperandModifiers = map[int]int64{modifier.OperandIndex: i}
			ws[i] = rs.Encode(a)
		}
		disasms, err := d.DisassembleBatch(ws)
		if err != nil {
			return nil, err
		}
		if len(disasms) < 2 {
			result[modifier.OperandIndex] = nil
			continue
		}

		var current []Value
		comp := disasms[1]
		for i, asm := range disasms {
			compParsed, err1 := asmparse.Parse(comp)
			asmParsed, err2 := asmparse.Parse(asm)
			if err1 != nil || err2 != nil {
				continue
			}
			compOperands := compParsed.FlatOperands()
			asmOperands := asmParsed.FlatOperands()
			if modifier.OperandIndex >= len(compOperands) || modifier.OperandIndex >= len(asmOperands) {
				continue
			}
			name := asmparse.ModifierDifference(
				compOperands[modifier.OperandIndex].Modifiers(),
				asmOperands[modifier.OperandIndex].Modifiers(),
			)
			comp = asm
			current = append(current, Value{Value: int64(i), Name: name})
		}
		result[modifier.OperandIndex] = current
	}
	return result, nil
}

func findType(rs encoding.Ranges, t encoding.RangeType) []encoding.Range {
	var out []encoding.Range
	for _, r := range rs.Ranges {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

func cartesianProduct(dims [][]int64) [][]int64 {
	result := [][]int64{{}}
	for _, dim := range dims {
		var next [][]int64
		for _, prefix := range result {
			for _, v := range dim {
				entry := append(append([]int64{}, prefix...), v)
				next = append(next, entry)
			}
		}
		result = next
	}
	return result
}
