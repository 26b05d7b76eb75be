package asmparse

import "strings"

// Instruction is the ParsedInstruction of spec §3: base opcode name,
// ordered modifier token multiset, predicate index, and a tree of
// operands.
type Instruction struct {
	BaseName         string
	Modifiers        []string // ordered; duplicates significant
	Predicate        int      // 7 == PT (always-true), the convention encode() defaults to
	PredicateNegated bool
	Operands         []Operand
}

// FlatOperands returns the left-to-right leaf traversal of every
// top-level operand (spec §3 "A flat_operands traversal yields leaves
// left-to-right").
func (i *Instruction) FlatOperands() []Operand {
	var out []Operand
	for _, op := range i.Operands {
		out = append(out, FlattenOperand(op)...)
	}
	return out
}

// Key returns the stable operand-shape signature used to decide whether a
// mutation preserved the opcode (spec GLOSSARY "Operand key / instruction
// key"): base name plus the shape (not values) of every operand.
func (i *Instruction) Key() string {
	var b strings.Builder
	b.WriteString(i.BaseName)
	for _, op := range i.Operands {
		b.WriteString(",")
		b.WriteString(OperandShapeKey(op))
	}
	return b.String()
}
