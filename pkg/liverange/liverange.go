// Package liverange assigns canonical register numbers to an instruction's
// operands, encodes it, and hands the result to a live-range analyzer that
// reports which register slots each instruction interacts with and how
// (spec §4.8 "Operand-interaction integration").
package liverange

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/gpuisa/solver/pkg/asmparse"
	"github.com/gpuisa/solver/pkg/word"
)

// InteractionType classifies how an instruction touches a register slot
// (spec §6 "Live-range oracle").
type InteractionType int

const (
	InteractionRead InteractionType = iota
	InteractionWrite
	InteractionReadWrite
	InteractionUsed
)

func (t InteractionType) String() string {
	switch t {
	case InteractionRead:
		return "READ"
	case InteractionWrite:
		return "WRITE"
	case InteractionReadWrite:
		return "READ_WRITE"
	case InteractionUsed:
		return "USED"
	default:
		return "UNKNOWN"
	}
}

// RegFile names one of the four register files an operand can belong to.
type RegFile string

const (
	FileGPR   RegFile = "GPR"
	FilePred  RegFile = "PRED"
	FileUPred RegFile = "UPRED"
	FileUGPR  RegFile = "UGPR"
)

// Slot is one operand's assigned position within a register file.
type Slot struct {
	OperandIndex int
	Start        int64
}

// AssignCanonicalRegisters walks an instruction's flattened operands and
// assigns every register operand a distinct, file-specific slot so the
// live-range oracle can tell operands apart by register number alone
// (spec §6 "canonical register assignment"). GPRs start at 16 and step by
// 16; UGPRs start at 4 and step by 4; predicates and unified predicates
// both start at 2 and step by 2 — slot 0 is reserved in every file for
// "not one of this instruction's operands".
func AssignCanonicalRegisters(operands []asmparse.Operand) (map[RegFile][]Slot, []int64) {
	operandValues := make([]int64, len(operands))
	regFiles := map[RegFile][]Slot{FileGPR: nil, FilePred: nil, FileUPred: nil, FileUGPR: nil}

	var regCount, uregCount, predCount, upredCount int64 = 0, 0, 1, 1

	for i, op := range operands {
		reg, ok := op.(asmparse.RegOperand)
		if !ok {
			continue
		}
		switch reg.Class {
		case asmparse.RegClassGPR:
			v := regCount*16 + 16
			operandValues[i] = v
			regFiles[FileGPR] = append(regFiles[FileGPR], Slot{i, v})
			regCount++
		case asmparse.RegClassPred:
			v := predCount * 2
			operandValues[i] = v
			regFiles[FilePred] = append(regFiles[FilePred], Slot{i, v})
			predCount++
		case asmparse.RegClassUPred:
			v := upredCount * 2
			operandValues[i] = v
			regFiles[FileUPred] = append(regFiles[FileUPred], Slot{i, v})
			upredCount++
		case asmparse.RegClassUGPR:
			v := uregCount*4 + 4
			operandValues[i] = v
			regFiles[FileUGPR] = append(regFiles[FileUGPR], Slot{i, v})
			uregCount++
		}
	}
	return regFiles, operandValues
}

// Span is one observed register-slot interaction, as reported by the
// oracle before it has been mapped back to an operand index.
type Span struct {
	Start     int64
	Kind      InteractionType
	SlotCount int
}

// Interaction is a Span resolved to the operand that owns its start
// register.
type Interaction struct {
	OperandIndex int
	Kind         InteractionType
	SlotCount    int
}

// Oracle is the live-range analyzer capability (spec §6 "Live-range
// oracle"): given an already-encoded word and an architecture code, it
// reports every register-file interaction the instruction performs.
type Oracle interface {
	AnalyseLiveRanges(w word.Word, archCode int) (raw string, perFile map[string][]Span, err error)
}

// MapInteractions resolves every oracle-reported Span back to the operand
// whose canonical register assignment it starts at, discarding USED spans
// (the oracle's catch-all "touched but not classified" marker) and any
// span whose start register was never assigned to one of this
// instruction's operands (spec §4.8
// "for file_name, reg_ranges in interaction_ranges.items()").
func MapInteractions(regFiles map[RegFile][]Slot, perFile map[string][]Span) map[RegFile][]Interaction {
	result := map[RegFile][]Interaction{}
	for file, spans := range perFile {
		rf := RegFile(file)
		startToOperand := map[int64]int{}
		for _, slot := range regFiles[rf] {
			startToOperand[slot.Start] = slot.OperandIndex
		}
		var out []Interaction
		for _, span := range spans {
			if span.Kind == InteractionUsed {
				continue
			}
			operandIndex, ok := startToOperand[span.Start]
			if !ok {
				continue
			}
			out = append(out, Interaction{OperandIndex: operandIndex, Kind: span.Kind, SlotCount: span.SlotCount})
		}
		result[rf] = out
	}
	return result
}

// ProcessOracle drives a live-range-analysis binary as a long-running
// subprocess, fed a small binary protocol over stdin/stdout rather than one
// process launch per call, since live-range analysis is invoked far more
// often per seed than the disassembler is.
type ProcessOracle struct {
	Path     string
	ArchCode int

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// NewProcessOracle starts the analyzer subprocess.
func NewProcessOracle(path string, archCode int) (*ProcessOracle, error) {
	cmd := exec.Command(path, "--server")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("liverange: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("liverange: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("liverange: start %s: %w", path, err)
	}
	return &ProcessOracle{
		Path:     path,
		ArchCode: archCode,
		cmd:      cmd,
		stdin:    stdin,
		stdout:   bufio.NewReader(stdout),
	}, nil
}

// AnalyseLiveRanges sends the encoded word and reads back the raw
// diagnostic text plus structured per-register-file interaction spans.
// Wire format: request is archCode (uint32) + the 16-byte word; response
// is a raw-text length-prefixed block followed by a count of (file, start,
// kind, slot_count) structured records.
func (p *ProcessOracle) AnalyseLiveRanges(w word.Word, archCode int) (string, map[string][]Span, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := binary.Write(p.stdin, binary.LittleEndian, uint32(archCode)); err != nil {
		return "", nil, fmt.Errorf("liverange: write arch code: %w", err)
	}
	if _, err := p.stdin.Write(w.Bytes()); err != nil {
		return "", nil, fmt.Errorf("liverange: write word: %w", err)
	}

	var rawLen uint32
	if err := binary.Read(p.stdout, binary.LittleEndian, &rawLen); err != nil {
		return "", nil, fmt.Errorf("liverange: read raw length: %w", err)
	}
	rawBuf := make([]byte, rawLen)
	if _, err := io.ReadFull(p.stdout, rawBuf); err != nil {
		return "", nil, fmt.Errorf("liverange: read raw text: %w", err)
	}

	var recordCount uint32
	if err := binary.Read(p.stdout, binary.LittleEndian, &recordCount); err != nil {
		return "", nil, fmt.Errorf("liverange: read record count: %w", err)
	}

	perFile := map[string][]Span{}
	for i := uint32(0); i < recordCount; i++ {
		var fileLen uint32
		if err := binary.Read(p.stdout, binary.LittleEndian, &fileLen); err != nil {
			return "", nil, fmt.Errorf("liverange: read file name length: %w", err)
		}
		fileBuf := make([]byte, fileLen)
		if _, err := io.ReadFull(p.stdout, fileBuf); err != nil {
			return "", nil, fmt.Errorf("liverange: read file name: %w", err)
		}
		var start int64
		var kind, slotCount uint32
		if err := binary.Read(p.stdout, binary.LittleEndian, &start); err != nil {
			return "", nil, fmt.Errorf("liverange: read start: %w", err)
		}
		if err := binary.Read(p.stdout, binary.LittleEndian, &kind); err != nil {
			return "", nil, fmt.Errorf("liverange: read kind: %w", err)
		}
		if err := binary.Read(p.stdout, binary.LittleEndian, &slotCount); err != nil {
			return "", nil, fmt.Errorf("liverange: read slot count: %w", err)
		}
		file := string(fileBuf)
		perFile[file] = append(perFile[file], Span{Start: start, Kind: InteractionType(kind), SlotCount: int(slotCount)})
	}

	return string(rawBuf), perFile, nil
}

// Close shuts the analyzer subprocess down.
func (p *ProcessOracle) Close() error {
	p.stdin.Close()
	return p.cmd.Wait()
}
