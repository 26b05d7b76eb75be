// Package asmparse is the domain-specific parser for one line of
// disassembled GPU instruction text (spec §6 "Assembly parser"), plus the
// multiset arithmetic used throughout classification and enumeration to
// diff modifier token lists.
package asmparse

import "strings"

// RegClass is the register-file tag carried by a RegOperand.
type RegClass string

const (
	RegClassGPR    RegClass = "R"
	RegClassUGPR   RegClass = "UR"
	RegClassPred   RegClass = "P"
	RegClassUPred  RegClass = "UP"
	RegClassUnknown RegClass = ""
)

// Operand is the sum type over every operand shape the grammar supports
// (spec §3 "ParsedInstruction"). Container variants (address, constant
// memory, descriptor, attribute) hold ordered sub-operands; leaf variants
// (register, integer immediate, float immediate) do not.
type Operand interface {
	// Modifiers returns this operand's own dot-suffixed modifier tokens,
	// in the order they appeared in the text (duplicates significant).
	Modifiers() []string
	// SubOperands returns the ordered child operands, or nil for a leaf.
	SubOperands() []Operand
	// isOperand is an unexported marker restricting the sum type to the
	// variants declared in this package.
	isOperand()
}

// baseOperand factors the modifier-list storage shared by every variant.
type baseOperand struct {
	modifiers []string
}

func (b baseOperand) Modifiers() []string { return b.modifiers }
func (baseOperand) isOperand()            {}

// RegOperand is a bare register reference, e.g. "R4", "UR10", "!P0", "RZ".
type RegOperand struct {
	baseOperand
	Class    RegClass
	Number   int
	Name     string // the literal text, e.g. "RZ", "PT" for special registers
	Negated  bool   // leading "!" — used for predicate-as-source-operand negation
}

func (r RegOperand) SubOperands() []Operand { return nil }

// OperandValue returns the numeric register index, matching
// get_operand_value() in the original parser — used by the refinement
// passes to detect numeric drift (e.g. predicate-inverse detection).
func (r RegOperand) OperandValue() int64 { return int64(r.Number) }

// Compare reports whether two operands have the same value, ignoring
// modifiers — the comparison InstructionMutationSet._analyse performs
// per-leaf to decide "operand value changed" vs. "operand modifiers
// changed" (spec §4.2 step 5).
func (r RegOperand) Compare(other Operand) bool {
	o, ok := other.(RegOperand)
	if !ok {
		return false
	}
	return r.Class == o.Class && r.Number == o.Number && r.Name == o.Name && r.Negated == o.Negated
}

func (r RegOperand) OperandKey() string {
	if r.Negated {
		return "!" + string(r.Class) + r.Name
	}
	return string(r.Class) + r.Name
}

// IntImmOperand is an integer immediate, decimal or hex.
type IntImmOperand struct {
	baseOperand
	Value int64
}

func (i IntImmOperand) SubOperands() []Operand { return nil }
func (i IntImmOperand) OperandValue() int64     { return i.Value }
func (i IntImmOperand) Compare(other Operand) bool {
	o, ok := other.(IntImmOperand)
	return ok && o.Value == i.Value
}

// FloatImmOperand is a floating point immediate, either a decimal literal
// or a raw hex encoding (e.g. "0f3F800000").
type FloatImmOperand struct {
	baseOperand
	Value float64
	Raw   string // original text, preserved for exact round-trip of special values (+INF, QNAN, ...)
}

func (f FloatImmOperand) SubOperands() []Operand { return nil }
func (f FloatImmOperand) OperandValue() int64     { return int64(f.Value) }
func (f FloatImmOperand) Compare(other Operand) bool {
	o, ok := other.(FloatImmOperand)
	return ok && o.Raw == f.Raw
}

// AddressOperand is a "[sub+sub+...]" memory address expression.
type AddressOperand struct {
	baseOperand
	Sub []Operand
}

func (a AddressOperand) SubOperands() []Operand { return a.Sub }

// ConstMemOperand is a "c[bank][offset]" or "cx[bank][offset]" constant
// memory reference.
type ConstMemOperand struct {
	baseOperand
	CX     bool
	Bank   Operand
	Offset Operand
}

func (c ConstMemOperand) SubOperands() []Operand { return []Operand{c.Bank, c.Offset} }

// DescOperand is a "desc[...]" (optionally "gdesc[...]") descriptor
// wrapper, optionally followed by a second bracketed sub-operand.
type DescOperand struct {
	baseOperand
	G   bool
	Sub []Operand
}

func (d DescOperand) SubOperands() []Operand { return d.Sub }

// AttributeOperand is an "a[...]" attribute wrapper.
type AttributeOperand struct {
	baseOperand
	Sub []Operand
}

func (a AttributeOperand) SubOperands() []Operand { return a.Sub }

// FlattenOperand performs the pre-order leaf traversal described in spec
// §3 ("A flat_operands traversal yields leaves left-to-right"): container
// variants recurse into their sub-operands, leaf variants return
// themselves.
func FlattenOperand(op Operand) []Operand {
	switch op.(type) {
	case RegOperand, IntImmOperand, FloatImmOperand:
		return []Operand{op}
	}
	var out []Operand
	for _, sub := range op.SubOperands() {
		out = append(out, FlattenOperand(sub)...)
	}
	return out
}

// CompareOperands compares two operands' values, ignoring modifiers. Used
// by the classifier to decide whether a bit mutation changed an operand's
// value or only its modifiers. Container operands compare structurally by
// comparing their flattened leaves pairwise.
func CompareOperands(a, b Operand) bool {
	type valueComparer interface {
		Compare(Operand) bool
	}
	if ac, ok := a.(valueComparer); ok {
		return ac.Compare(b)
	}
	fa, fb := FlattenOperand(a), FlattenOperand(b)
	if len(fa) != len(fb) {
		return false
	}
	for i := range fa {
		if !CompareOperands(fa[i], fb[i]) {
			return false
		}
	}
	return true
}

// OperandShapeKey returns a signature of an operand's *shape* — its
// variant and, recursively, its children's shapes and register classes —
// independent of specific register numbers or immediate values. Used to
// build Instruction.Key().
func OperandShapeKey(op Operand) string {
	var b strings.Builder
	writeShapeKey(&b, op)
	return b.String()
}

func writeShapeKey(b *strings.Builder, op Operand) {
	switch o := op.(type) {
	case RegOperand:
		b.WriteString(string(o.Class))
	case IntImmOperand:
		b.WriteString("I")
	case FloatImmOperand:
		b.WriteString("F")
	case AddressOperand:
		b.WriteString("[")
		for i, s := range o.Sub {
			if i != 0 {
				b.WriteString("+")
			}
			writeShapeKey(b, s)
		}
		b.WriteString("]")
	case ConstMemOperand:
		if o.CX {
			b.WriteString("cx[")
		} else {
			b.WriteString("c[")
		}
		writeShapeKey(b, o.Bank)
		b.WriteString("][")
		writeShapeKey(b, o.Offset)
		b.WriteString("]")
	case DescOperand:
		if o.G {
			b.WriteString("g")
		}
		b.WriteString("desc[")
		for i, s := range o.Sub {
			if i != 0 {
				b.WriteString(",")
			}
			writeShapeKey(b, s)
		}
		b.WriteString("]")
	case AttributeOperand:
		b.WriteString("a[")
		for i, s := range o.Sub {
			if i != 0 {
				b.WriteString(",")
			}
			writeShapeKey(b, s)
		}
		b.WriteString("]")
	default:
		b.WriteString("?")
	}
}
