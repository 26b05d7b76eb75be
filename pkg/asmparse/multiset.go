package asmparse

import "strings"

// Multiset is a token multiset, the Go rendering of the Python Counter
// used pervasively by the original to diff modifier lists (spec §9
// "Dynamic multiset arithmetic"). Zero-count entries are never left
// behind by the helpers below.
type Multiset map[string]int

// NewMultiset builds a Multiset from an ordered token list.
func NewMultiset(tokens []string) Multiset {
	m := make(Multiset, len(tokens))
	for _, t := range tokens {
		m[t]++
	}
	return m
}

// RemoveZeros deletes every zero-count entry in place.
func (m Multiset) RemoveZeros() {
	for name, count := range m {
		if count == 0 {
			delete(m, name)
		}
	}
}

// Clone returns an independent copy.
func (m Multiset) Clone() Multiset {
	out := make(Multiset, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Sub computes m - other, entry by entry, without mutating either input.
func (m Multiset) Sub(other Multiset) Multiset {
	out := m.Clone()
	for k, v := range other {
		out[k] -= v
	}
	out.RemoveZeros()
	return out
}

// ModifierDifference computes the multiset difference mutated - original
// and renders it the way find_modifier_difference does: a dot-joined
// string of every token whose count increased, repeated `count` times,
// with a trailing dot. Returns "" if nothing increased.
func ModifierDifference(original, mutated []string) string {
	diff := NewMultiset(mutated).Sub(NewMultiset(original))
	return renderPositiveDifference(diff)
}

// BasisModifierDifference is the same rendering, but diffing against an
// already-built basis multiset (basis_find_modifier_difference).
func BasisModifierDifference(basis Multiset, mutated []string) string {
	diff := NewMultiset(mutated).Sub(basis)
	return renderPositiveDifference(diff)
}

func renderPositiveDifference(diff Multiset) string {
	var b strings.Builder
	for name, count := range diff {
		if len(name) == 0 || count <= 0 {
			continue
		}
		for i := 0; i < count; i++ {
			b.WriteString(name)
			b.WriteByte('.')
		}
	}
	return b.String()
}

// AnalyseModifiers determines whether a modifier bit can be a flag
// (spec §4.2 "analyse_modifiers(original, mutated) contract"): effected
// reports whether any token's count changed; isFlag/flagName report
// whether a single-flag hypothesis survives — exactly one token has count
// +1 and no token has a negative count. The check is order-independent by
// construction (unlike iterating a live Counter), which is safe because
// a false positive here is self-correcting in a later refinement pass
// (analysis_disambiguate_flags) — this routine only needs to avoid false
// negatives.
func AnalyseModifiers(original, mutated []string) (effected bool, flagName string, isFlag bool) {
	diff := NewMultiset(mutated).Sub(NewMultiset(original))

	notFlag := false
	positiveOnes := 0
	var candidate string
	for name, count := range diff {
		if count == 0 {
			continue
		}
		effected = true
		if count < 0 {
			notFlag = true
			continue
		}
		if count == 1 {
			positiveOnes++
			candidate = name
		} else {
			notFlag = true
		}
	}
	if !notFlag && positiveOnes == 1 {
		return effected, candidate, true
	}
	return effected, "", false
}
