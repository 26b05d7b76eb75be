// Package encoding models the bit-layout of a single instruction: which
// fields exist, what they mean, and how to render a set of operand/modifier
// values back into the 16-byte word they came from.
package encoding

import (
	"encoding/json"
	"fmt"

	"github.com/gpuisa/solver/pkg/word"
)

// RangeType is the kind of value a Range carries (spec §3 "EncodingRange").
type RangeType string

const (
	RangeConstant        RangeType = "constant"
	RangeOperand         RangeType = "operand"
	RangeOperandFlag     RangeType = "operand_flag"
	RangeOperandModifier RangeType = "operand_modifier"
	RangeFlag            RangeType = "flag"
	RangeModifier        RangeType = "modifier"
	RangePredicate       RangeType = "predicate"
	RangeStallCycles     RangeType = "stall"
	RangeYieldFlag       RangeType = "y"
	RangeReadBarrier     RangeType = "r-bar"
	RangeWriteBarrier    RangeType = "w-bar"
	RangeBarrierMask     RangeType = "b-mask"
	RangeReuseMask       RangeType = "reuse"
)

// noOperand marks a Range that is not tied to any operand index. Using a
// negative sentinel (rather than a pointer or Go's zero int) is what fixes
// the operand-index-0 accumulator bug: index 0 is a legitimate operand and
// must not be indistinguishable from "no operand".
const noOperand = -1

// Range is one field of an instruction's bit layout (spec §3
// "EncodingRange"). OperandIndex is noOperand when Type does not carry an
// operand association.
type Range struct {
	Type         RangeType
	Start        int
	Length       int
	OperandIndex int
	GroupID      int
	Name         string
	Constant     int64
	Inverse      bool
	Shift        int
	Offset       int64
}

// HasOperand reports whether this range is associated with an operand.
func (r Range) HasOperand() bool { return r.OperandIndex != noOperand }

// NewOperandRange builds a Range of type OPERAND for the given operand,
// defaulting OperandIndex the way every other constructor in this package
// does, so callers never hand-write the noOperand sentinel.
func NewOperandRange(start, length, operandIndex int) Range {
	return Range{Type: RangeOperand, Start: start, Length: length, OperandIndex: operandIndex}
}

// NewRange builds a Range with no operand association (flags, constants,
// predicate, control-code fields).
func NewRange(t RangeType, start, length int) Range {
	return Range{Type: t, Start: start, Length: length, OperandIndex: noOperand}
}

type rangeJSON struct {
	Type         RangeType `json:"type"`
	Start        int       `json:"start"`
	Length       int       `json:"length"`
	OperandIndex *int      `json:"operand_index,omitempty"`
	GroupID      *int      `json:"group_id,omitempty"`
	Name         string    `json:"name,omitempty"`
	Constant     *int64    `json:"constant,omitempty"`
	Inverse      bool      `json:"inverse,omitempty"`
	Shift        int       `json:"shift,omitempty"`
	Offset       int64     `json:"offset,omitempty"`
}

// MarshalJSON matches EncodingRange.to_json_obj's field names.
func (r Range) MarshalJSON() ([]byte, error) {
	out := rangeJSON{
		Type:    r.Type,
		Start:   r.Start,
		Length:  r.Length,
		Name:    r.Name,
		Inverse: r.Inverse,
		Shift:   r.Shift,
		Offset:  r.Offset,
	}
	if r.HasOperand() {
		idx := r.OperandIndex
		out.OperandIndex = &idx
	}
	if r.Type == RangeConstant {
		c := r.Constant
		out.Constant = &c
	}
	if r.GroupID != 0 {
		g := r.GroupID
		out.GroupID = &g
	}
	return json.Marshal(out)
}

func (r *Range) UnmarshalJSON(data []byte) error {
	var in rangeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Range{
		Type:         in.Type,
		Start:        in.Start,
		Length:       in.Length,
		OperandIndex: noOperand,
		Name:         in.Name,
		Inverse:      in.Inverse,
		Shift:        in.Shift,
		Offset:       in.Offset,
	}
	if in.OperandIndex != nil {
		r.OperandIndex = *in.OperandIndex
	}
	if in.Constant != nil {
		r.Constant = *in.Constant
	}
	if in.GroupID != nil {
		r.GroupID = *in.GroupID
	}
	return nil
}

// Ranges is the full bit layout of one instruction plus the sample word it
// was derived from (spec §3 "EncodingRanges").
type Ranges struct {
	Ranges []Range
	Inst   word.Word
}

type rangesJSON struct {
	Ranges []Range `json:"ranges"`
	Inst   string  `json:"inst"`
}

func (rs Ranges) MarshalJSON() ([]byte, error) {
	return json.Marshal(rangesJSON{Ranges: rs.Ranges, Inst: rs.Inst.Hex()})
}

func (rs *Ranges) UnmarshalJSON(data []byte) error {
	var in rangesJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	w, err := word.FromHex(in.Inst)
	if err != nil {
		return fmt.Errorf("encoding: decoding inst word: %w", err)
	}
	rs.Ranges = in.Ranges
	rs.Inst = w
	return nil
}

func (rs Ranges) find(t RangeType) []Range {
	var out []Range
	for _, r := range rs.Ranges {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

// OperandCount returns one past the highest operand index referenced by an
// OPERAND range — the number of positional operands this instruction takes.
func (rs Ranges) OperandCount() int {
	n := 0
	for _, r := range rs.Ranges {
		if r.Type == RangeOperand && r.OperandIndex+1 > n {
			n = r.OperandIndex + 1
		}
	}
	return n
}

// ModifierCount returns the number of MODIFIER-typed ranges.
func (rs Ranges) ModifierCount() int { return len(rs.find(RangeModifier)) }

// Flags returns the names of every FLAG-typed range.
func (rs Ranges) Flags() []string {
	var names []string
	for _, r := range rs.find(RangeFlag) {
		names = append(names, r.Name)
	}
	return names
}

// EncodeArgs bundles every value encode needs to render a word (spec §4.6
// "encode(...)"). Its zero value encodes predicate 0 and stall cycles 0;
// DefaultEncodeArgs supplies predicate PT=7 and stall_cycles=15, everything
// else 0/empty.
type EncodeArgs struct {
	SubOperands      []int64
	Modifiers        []int64
	Flags            map[string]bool
	OperandModifiers map[int]int64
	OperandFlags     map[int]map[string]bool
	Predicate        int64
	StallCycles      int64
	YieldFlag        bool
	ReadBarrier      int64
	WriteBarrier     int64
	BarrierMask      int64
}

// DefaultEncodeArgs matches the Python encode() keyword defaults.
func DefaultEncodeArgs() EncodeArgs {
	return EncodeArgs{Predicate: 7, StallCycles: 15}
}

// Encode renders this instruction's ranges into a fresh 16-byte word (spec
// §4.6). Ranges are applied in declaration order; for a given operand index,
// later ranges are right-shifted by the total length already written for
// that operand in this pass — this is what lets a wide operand value be
// split across multiple non-contiguous bit ranges.
//
// The accumulator keys on OperandIndex presence (HasOperand), not on
// OperandIndex being non-zero: truthiness-checking the index would treat
// operand 0 the same as "no operand", so a second range for operand 0
// would be encoded unshifted instead of continuing from where the first
// range left off.
func (rs Ranges) Encode(args EncodeArgs) word.Word {
	var out word.Word
	modifierI := 0
	written := map[int]int{}

	rangeVal := func(r Range) (int64, bool) {
		switch r.Type {
		case RangeConstant:
			return r.Constant, true
		case RangeOperand:
			if r.OperandIndex < 0 || r.OperandIndex >= len(args.SubOperands) {
				return 0, false
			}
			v := args.SubOperands[r.OperandIndex]
			if r.Offset != 0 {
				v -= r.Offset
			}
			if r.Inverse {
				v ^= (int64(1) << uint(r.Length)) - 1
			}
			if r.Shift != 0 {
				v >>= uint(r.Shift)
			}
			return v, true
		case RangeModifier:
			if modifierI < len(args.Modifiers) {
				v := args.Modifiers[modifierI]
				modifierI++
				return v, true
			}
			return 0, false
		case RangeFlag:
			if args.Flags[r.Name] {
				return 1, true
			}
			return 0, true
		case RangeOperandModifier:
			if v, ok := args.OperandModifiers[r.OperandIndex]; ok {
				return v, true
			}
			return 0, false
		case RangeOperandFlag:
			if set, ok := args.OperandFlags[r.OperandIndex]; ok {
				if set[r.Name] {
					return 1, true
				}
				return 0, true
			}
			return 0, false
		case RangePredicate:
			return args.Predicate, true
		case RangeStallCycles:
			return args.StallCycles, true
		case RangeYieldFlag:
			if args.YieldFlag {
				return 1, true
			}
			return 0, true
		case RangeReadBarrier:
			return args.ReadBarrier, true
		case RangeWriteBarrier:
			return args.WriteBarrier, true
		case RangeBarrierMask:
			return args.BarrierMask, true
		}
		return 0, false
	}

	for _, r := range rs.Ranges {
		value, ok := rangeVal(r)
		if !ok || value == 0 {
			continue
		}
		key := r.OperandIndex
		value >>= uint(written[key])
		out.SetRange(r.Start, r.Start+r.Length, uint64(value))
		if r.HasOperand() {
			written[key] += r.Length
		}
	}
	return out
}
