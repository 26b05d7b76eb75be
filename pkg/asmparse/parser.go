package asmparse

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser turns one disassembled instruction line into an Instruction tree
// (spec §6 "Assembly parser"). It is deliberately small and line-oriented:
// the oracle always hands back one instruction per call, never a block.
type Parser struct {
	toks []Token
	pos  int
	line string
}

// Parse is the package entry point: lex then parse a single disassembly
// line, e.g. "@!P0 IADD3 R4, R0, R1, RZ" or "LDG.E.128 R4, [R2+0x10]".
func Parse(line string) (*Instruction, error) {
	lx, err := NewLexer(strings.TrimSpace(line))
	if err != nil {
		return nil, err
	}
	p := &Parser{toks: lx.toks, line: line}
	return p.parseInstruction()
}

func (p *Parser) peek() Token  { return p.toks[p.pos] }
func (p *Parser) at(k TokenKind) bool { return p.peek().Kind == k }

func (p *Parser) next() Token {
	t := p.toks[p.pos]
	if t.Kind != TokEOF {
		p.pos++
	}
	return t
}

func (p *Parser) expect(k TokenKind) (Token, error) {
	if !p.at(k) {
		return Token{}, fmt.Errorf("asmparse: expected %s, got %s in %q", k, p.peek(), p.line)
	}
	return p.next(), nil
}

func (p *Parser) parseInstruction() (*Instruction, error) {
	inst := &Instruction{Predicate: 7} // PT: always-true, the convention encode() defaults to

	if p.at(TokAt) {
		p.next()
		if p.at(TokBang) {
			p.next()
			inst.PredicateNegated = true
		}
		idTok, err := p.expect(TokIdent)
		if err != nil {
			return nil, err
		}
		n, ok := parsePredicateRegister(idTok.Text)
		if !ok {
			return nil, fmt.Errorf("asmparse: bad predicate register %q in %q", idTok.Text, p.line)
		}
		inst.Predicate = n
	}

	nameTok, err := p.expect(TokIdent)
	if err != nil {
		return nil, err
	}
	inst.BaseName = nameTok.Text

	for p.at(TokDot) {
		p.next()
		// Numeric modifiers such as the "128" of "LDG.E.128" lex as numbers.
		modTok := p.next()
		if modTok.Kind != TokIdent && modTok.Kind != TokNum {
			return nil, fmt.Errorf("asmparse: expected modifier, got %s in %q", modTok, p.line)
		}
		inst.Modifiers = append(inst.Modifiers, modTok.Text)
	}

	if p.at(TokEOF) {
		return inst, nil
	}

	for {
		op, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		inst.Operands = append(inst.Operands, op)
		if p.at(TokComma) {
			p.next()
			continue
		}
		break
	}

	if !p.at(TokEOF) {
		return nil, fmt.Errorf("asmparse: trailing input %q in %q", p.peek(), p.line)
	}
	return inst, nil
}

// parsePredicateRegister accepts "P0".."P7" or "PT" (== 7, always true).
func parsePredicateRegister(text string) (int, bool) {
	if text == "PT" {
		return 7, true
	}
	if !strings.HasPrefix(text, "P") {
		return 0, false
	}
	n, err := strconv.Atoi(text[1:])
	if err != nil || n < 0 || n > 7 {
		return 0, false
	}
	return n, true
}

// parseOperand parses one comma-separated operand, including any trailing
// dot-modifiers attached directly to it (e.g. "R4.reuse").
func (p *Parser) parseOperand() (Operand, error) {
	op, err := p.parseOperandCore()
	if err != nil {
		return nil, err
	}
	var mods []string
	for p.at(TokDot) {
		p.next()
		modTok, err := p.expect(TokIdent)
		if err != nil {
			return nil, err
		}
		mods = append(mods, modTok.Text)
	}
	if len(mods) > 0 {
		op = withModifiers(op, mods)
	}
	return op, nil
}

// withModifiers rebuilds an operand with its modifier list populated. Each
// variant is a plain value embedding baseOperand, so this is a type switch
// rather than a generic field-set.
func withModifiers(op Operand, mods []string) Operand {
	switch o := op.(type) {
	case RegOperand:
		o.modifiers = mods
		return o
	case IntImmOperand:
		o.modifiers = mods
		return o
	case FloatImmOperand:
		o.modifiers = mods
		return o
	case AddressOperand:
		o.modifiers = mods
		return o
	case ConstMemOperand:
		o.modifiers = mods
		return o
	case DescOperand:
		o.modifiers = mods
		return o
	case AttributeOperand:
		o.modifiers = mods
		return o
	default:
		return op
	}
}

func (p *Parser) parseOperandCore() (Operand, error) {
	switch {
	case p.at(TokBang):
		p.next()
		inner, err := p.parseOperandCore()
		if err != nil {
			return nil, err
		}
		reg, ok := inner.(RegOperand)
		if !ok {
			return nil, fmt.Errorf("asmparse: '!' only valid before a register operand in %q", p.line)
		}
		reg.Negated = true
		return reg, nil

	case p.at(TokLBrk):
		return p.parseAddress()

	case p.at(TokNum):
		return p.parseImmediate()

	case p.at(TokIdent):
		return p.parseIdentOperand()
	}
	return nil, fmt.Errorf("asmparse: unexpected token %s in %q", p.peek(), p.line)
}

// parseIdentOperand dispatches on the leading identifier: "c"/"cx" start a
// constant-memory reference, "desc"/"gdesc" a descriptor wrapper, "a" an
// attribute wrapper, anything else a bare register.
func (p *Parser) parseIdentOperand() (Operand, error) {
	idTok := p.peek()
	switch idTok.Text {
	case "c", "cx":
		return p.parseConstMem()
	case "desc", "gdesc":
		return p.parseDesc()
	case "a":
		if p.pos+1 < len(p.toks) && p.toks[p.pos+1].Kind == TokLBrk {
			return p.parseAttribute()
		}
	}
	return p.parseRegister()
}

func (p *Parser) parseRegister() (Operand, error) {
	idTok, err := p.expect(TokIdent)
	if err != nil {
		return nil, err
	}
	class, numText := splitRegClass(idTok.Text)
	reg := RegOperand{Class: class, Name: idTok.Text}
	if n, err := strconv.Atoi(numText); err == nil {
		reg.Number = n
	}
	return reg, nil
}

// splitRegClass splits a register name into its class prefix and the
// remaining digits, e.g. "UR10" -> (UGPR, "10"), "RZ" -> (GPR, "Z").
func splitRegClass(name string) (RegClass, string) {
	switch {
	case strings.HasPrefix(name, "UR"):
		return RegClassUGPR, name[2:]
	case strings.HasPrefix(name, "UP"):
		return RegClassUPred, name[2:]
	case strings.HasPrefix(name, "R"):
		return RegClassGPR, name[1:]
	case strings.HasPrefix(name, "P"):
		return RegClassPred, name[1:]
	}
	return RegClassUnknown, ""
}

func (p *Parser) parseImmediate() (Operand, error) {
	numTok, err := p.expect(TokNum)
	if err != nil {
		return nil, err
	}
	text := numTok.Text
	lower := strings.ToLower(text)
	if strings.HasPrefix(lower, "0f") {
		// Raw hex-encoded float, e.g. "0f3F800000".
		bits, err := strconv.ParseUint(text[2:], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("asmparse: bad float literal %q in %q: %w", text, p.line, err)
		}
		return FloatImmOperand{Value: float64(int32(bits)), Raw: text}, nil
	}
	if strings.Contains(lower, ".") || (strings.ContainsAny(lower, "e") && !strings.HasPrefix(lower, "0x")) {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("asmparse: bad float literal %q in %q: %w", text, p.line, err)
		}
		return FloatImmOperand{Value: f, Raw: text}, nil
	}
	v, err := strconv.ParseInt(text, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("asmparse: bad integer literal %q in %q: %w", text, p.line, err)
	}
	return IntImmOperand{Value: v}, nil
}

// parseAddress parses "[sub+sub+...]".
func (p *Parser) parseAddress() (Operand, error) {
	if _, err := p.expect(TokLBrk); err != nil {
		return nil, err
	}
	var subs []Operand
	for {
		sub, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
		if p.at(TokPlus) {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(TokRBrk); err != nil {
		return nil, err
	}
	return AddressOperand{Sub: subs}, nil
}

// parseConstMem parses "c[bank][offset]" or "cx[bank][offset]".
func (p *Parser) parseConstMem() (Operand, error) {
	idTok, _ := p.expect(TokIdent)
	cx := idTok.Text == "cx"

	if _, err := p.expect(TokLBrk); err != nil {
		return nil, err
	}
	bank, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokRBrk); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokLBrk); err != nil {
		return nil, err
	}
	offset, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TokRBrk); err != nil {
		return nil, err
	}
	return ConstMemOperand{CX: cx, Bank: bank, Offset: offset}, nil
}

// parseDesc parses "desc[a,b,...]" or "gdesc[a,b,...]", optionally followed
// by a bracketed address expression such as "[R2+0x0]", which is appended
// to Sub as one AddressOperand.
func (p *Parser) parseDesc() (Operand, error) {
	idTok, _ := p.expect(TokIdent)
	g := idTok.Text == "gdesc"

	subs, err := p.parseBracketedList()
	if err != nil {
		return nil, err
	}
	if p.at(TokLBrk) {
		addr, err := p.parseAddress()
		if err != nil {
			return nil, err
		}
		subs = append(subs, addr)
	}
	return DescOperand{G: g, Sub: subs}, nil
}

// parseAttribute parses "a[sub,sub,...]".
func (p *Parser) parseAttribute() (Operand, error) {
	p.next() // "a"
	subs, err := p.parseBracketedList()
	if err != nil {
		return nil, err
	}
	return AttributeOperand{Sub: subs}, nil
}

func (p *Parser) parseBracketedList() ([]Operand, error) {
	if _, err := p.expect(TokLBrk); err != nil {
		return nil, err
	}
	var subs []Operand
	if !p.at(TokRBrk) {
		for {
			sub, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
			if p.at(TokComma) {
				p.next()
				continue
			}
			break
		}
	}
	if _, err := p.expect(TokRBrk); err != nil {
		return nil, err
	}
	return subs, nil
}
