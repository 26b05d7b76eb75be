package asmparse

import "testing"

func TestParseBasicThreeOperand(t *testing.T) {
	inst, err := Parse("IADD3 R4, R0, R1, RZ")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if inst.BaseName != "IADD3" {
		t.Fatalf("BaseName = %q, want IADD3", inst.BaseName)
	}
	if len(inst.Operands) != 4 {
		t.Fatalf("got %d operands, want 4", len(inst.Operands))
	}
	if inst.Predicate != 7 || inst.PredicateNegated {
		t.Fatalf("default predicate should be PT(7), got %d negated=%v", inst.Predicate, inst.PredicateNegated)
	}
	last, ok := inst.Operands[3].(RegOperand)
	if !ok || last.Name != "RZ" || last.Class != RegClassGPR {
		t.Fatalf("last operand = %+v, want RegOperand{GPR,RZ}", inst.Operands[3])
	}
}

func TestParseIntegerImmediate(t *testing.T) {
	inst, err := Parse("MOV R0, 0x1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	imm, ok := inst.Operands[1].(IntImmOperand)
	if !ok || imm.Value != 1 {
		t.Fatalf("operand 1 = %+v, want IntImmOperand{1}", inst.Operands[1])
	}
}

func TestParseAddressing(t *testing.T) {
	inst, err := Parse("LDG.E R0, [R2]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(inst.Modifiers) != 1 || inst.Modifiers[0] != "E" {
		t.Fatalf("Modifiers = %v, want [E]", inst.Modifiers)
	}
	addr, ok := inst.Operands[1].(AddressOperand)
	if !ok || len(addr.Sub) != 1 {
		t.Fatalf("operand 1 = %+v, want single-term AddressOperand", inst.Operands[1])
	}
	reg, ok := addr.Sub[0].(RegOperand)
	if !ok || reg.Name != "R2" {
		t.Fatalf("address base = %+v, want R2", addr.Sub[0])
	}
}

func TestParseAddressWithOffset(t *testing.T) {
	inst, err := Parse("LDG.E.128 R4, [R2+0x10]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	addr := inst.Operands[1].(AddressOperand)
	if len(addr.Sub) != 2 {
		t.Fatalf("address terms = %d, want 2", len(addr.Sub))
	}
	off, ok := addr.Sub[1].(IntImmOperand)
	if !ok || off.Value != 0x10 {
		t.Fatalf("offset term = %+v, want IntImmOperand{0x10}", addr.Sub[1])
	}
}

func TestParsePredicatedNOP(t *testing.T) {
	inst, err := Parse("@P0 NOP")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if inst.Predicate != 0 || inst.PredicateNegated {
		t.Fatalf("predicate = %d negated=%v, want 0 false", inst.Predicate, inst.PredicateNegated)
	}
	if inst.BaseName != "NOP" || len(inst.Operands) != 0 {
		t.Fatalf("got %+v, want bare NOP", inst)
	}
}

func TestParseNegatedPredicate(t *testing.T) {
	inst, err := Parse("@!P3 FSETP.GEU.AND P0, PT, R0, R1, PT")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if inst.Predicate != 3 || !inst.PredicateNegated {
		t.Fatalf("predicate = %d negated=%v, want 3 true", inst.Predicate, inst.PredicateNegated)
	}
	if len(inst.Modifiers) != 2 || inst.Modifiers[0] != "GEU" || inst.Modifiers[1] != "AND" {
		t.Fatalf("Modifiers = %v, want [GEU AND]", inst.Modifiers)
	}
	if len(inst.Operands) != 5 {
		t.Fatalf("got %d operands, want 5", len(inst.Operands))
	}
	pt, ok := inst.Operands[1].(RegOperand)
	if !ok || pt.Name != "PT" || pt.Class != RegClassPred {
		t.Fatalf("operand 1 = %+v, want RegOperand{Pred,PT}", inst.Operands[1])
	}
}

func TestParseConstantMemory(t *testing.T) {
	inst, err := Parse("FADD R0, R1, c[0x0][0x160]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cmem, ok := inst.Operands[2].(ConstMemOperand)
	if !ok || cmem.CX {
		t.Fatalf("operand 2 = %+v, want non-cx ConstMemOperand", inst.Operands[2])
	}
	bank := cmem.Bank.(IntImmOperand)
	offset := cmem.Offset.(IntImmOperand)
	if bank.Value != 0 || offset.Value != 0x160 {
		t.Fatalf("bank/offset = %d/%d, want 0/0x160", bank.Value, offset.Value)
	}
}

func TestParseDescriptorWrapper(t *testing.T) {
	inst, err := Parse("LDG.E.SYS R0, desc[UR4][R2+0x0]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	desc, ok := inst.Operands[1].(DescOperand)
	if !ok || desc.G {
		t.Fatalf("operand 1 = %+v, want non-g DescOperand", inst.Operands[1])
	}
	if len(desc.Sub) != 2 {
		t.Fatalf("desc sub-operands = %d, want 2 (descriptor reg + address)", len(desc.Sub))
	}
}

func TestParseTrailingOperandModifier(t *testing.T) {
	inst, err := Parse("IADD3 R4.reuse, R0, R1, RZ")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	reg := inst.Operands[0].(RegOperand)
	if len(reg.Modifiers()) != 1 || reg.Modifiers()[0] != "reuse" {
		t.Fatalf("operand 0 modifiers = %v, want [reuse]", reg.Modifiers())
	}
}

func TestParseNegatedRegisterOperand(t *testing.T) {
	inst, err := Parse("SEL R0, R1, R2, !P0")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p, ok := inst.Operands[3].(RegOperand)
	if !ok || !p.Negated || p.Class != RegClassPred {
		t.Fatalf("operand 3 = %+v, want negated Pred operand", inst.Operands[3])
	}
}

func TestParseFloatImmediate(t *testing.T) {
	inst, err := Parse("FADD R0, R1, 0.5")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f, ok := inst.Operands[2].(FloatImmOperand)
	if !ok || f.Value != 0.5 {
		t.Fatalf("operand 2 = %+v, want FloatImmOperand{0.5}", inst.Operands[2])
	}
}

func TestParseRawHexFloat(t *testing.T) {
	inst, err := Parse("FADD R0, R1, 0f3F800000")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f, ok := inst.Operands[2].(FloatImmOperand)
	if !ok || f.Raw != "0f3F800000" {
		t.Fatalf("operand 2 = %+v, want raw hex float 0f3F800000", inst.Operands[2])
	}
}

func TestInstructionKeyStableUnderValueChange(t *testing.T) {
	a, err := Parse("IADD3 R4, R0, R1, RZ")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := Parse("IADD3 R7, R2, R3, RZ")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.Key() != b.Key() {
		t.Fatalf("Key() differs across register renumbering: %q vs %q", a.Key(), b.Key())
	}
}

func TestInstructionKeyDiffersAcrossShape(t *testing.T) {
	a, err := Parse("MOV R0, 0x1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := Parse("MOV R0, R1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.Key() == b.Key() {
		t.Fatalf("Key() should differ between immediate and register operand shapes, both %q", a.Key())
	}
}

func TestFlatOperandsDescendsIntoAddress(t *testing.T) {
	inst, err := Parse("LDG.E.128 R4, [R2+0x10]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	flat := inst.FlatOperands()
	if len(flat) != 3 {
		t.Fatalf("FlatOperands() = %d leaves, want 3 (R4, R2, 0x10)", len(flat))
	}
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	if _, err := Parse("IADD3 R4, R0 R1"); err == nil {
		t.Fatal("expected error for missing comma between operands")
	}
}
