// Package oracle wraps the closed-source disassembler binary behind the
// capability interface the rest of this module probes against (spec §6
// "Disassembly oracle"): process invocation, batching, and an on-disk
// response cache are concerns of this package alone — nothing upstream
// knows the oracle is a subprocess.
package oracle

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/gpuisa/solver/pkg/asmparse"
	"github.com/gpuisa/solver/pkg/word"
)

// Mutation is one single-bit-flipped variant of a seed word, paired with
// its disassembly (spec §6 "mutate_inst").
type Mutation struct {
	Bit   int
	Word  word.Word
	Text  string
}

// Disassembler is the external oracle every probing pass talks to (spec §6
// "Disassembly oracle"). Empty string means the disassembler refused the
// word outright.
type Disassembler interface {
	// Disassemble decodes a single word.
	Disassemble(w word.Word) (string, error)
	// DisassembleBatch decodes a batch of words, index-aligned with the
	// input — this ordering guarantee is load-bearing for every
	// enumeration and probing pass built on top of it (spec §5).
	DisassembleBatch(ws []word.Word) ([]string, error)
	// DistillInstruction reduces a word to its canonical minimal form
	// (spec §6), e.g. zeroing operand fields the disassembler itself
	// normalizes away.
	DistillInstruction(w word.Word) (word.Word, error)
	// MutateInst flips each bit from 0 to endBit (exclusive) one at a
	// time and disassembles the result (spec §6 "mutate_inst").
	MutateInst(w word.Word, endBit int) ([]Mutation, error)
}

// ProcessDisassembler drives a disassembler binary as a subprocess,
// invoked once per call, with an on-disk hex-keyed response cache keyed by
// the input word. This is a one-shot argv invocation rather than a
// long-lived stdin/stdout protocol, since the disassembler binary this
// module targets takes one instruction per process launch.
type ProcessDisassembler struct {
	Path string // path to the disassembler binary
	Args []string

	mu        sync.Mutex
	cache     map[word.Word]string
	cachePath string
	dirty     bool
}

// NewProcessDisassembler constructs a ProcessDisassembler, loading any
// existing on-disk cache at cachePath (a missing file is not an error —
// it simply starts with an empty cache).
func NewProcessDisassembler(path string, args []string, cachePath string) (*ProcessDisassembler, error) {
	d := &ProcessDisassembler{
		Path:      path,
		Args:      args,
		cache:     map[word.Word]string{},
		cachePath: cachePath,
	}
	if cachePath == "" {
		return d, nil
	}
	if err := d.loadCache(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *ProcessDisassembler) loadCache() error {
	f, err := os.Open(d.cachePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("oracle: opening cache %s: %w", d.cachePath, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			continue
		}
		w, err := word.FromHex(line[:tab])
		if err != nil {
			continue
		}
		d.cache[w] = line[tab+1:]
	}
	return sc.Err()
}

// Flush rewrites the cache file with the whole in-memory cache if any entry
// was added since the last Flush (or load); otherwise it does nothing.
func (d *ProcessDisassembler) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cachePath == "" || !d.dirty {
		return nil
	}
	f, err := os.OpenFile(d.cachePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("oracle: writing cache %s: %w", d.cachePath, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for word, text := range d.cache {
		fmt.Fprintf(w, "%s\t%s\n", word.Hex(), text)
	}
	d.dirty = false
	return w.Flush()
}

// Disassemble runs the disassembler binary on a single word.
func (d *ProcessDisassembler) Disassemble(w word.Word) (string, error) {
	d.mu.Lock()
	if text, ok := d.cache[w]; ok {
		d.mu.Unlock()
		return text, nil
	}
	d.mu.Unlock()

	text, err := d.invoke(w)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	d.cache[w] = text
	d.dirty = true
	d.mu.Unlock()
	return text, nil
}

func (d *ProcessDisassembler) invoke(w word.Word) (string, error) {
	args := append(append([]string{}, d.Args...), hex.EncodeToString(w.Bytes()))
	cmd := exec.Command(d.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			// A non-zero exit usually means "refused to decode" rather
			// than a broken pipeline.
			return "", nil
		}
		return "", fmt.Errorf("oracle: running %s: %w: %s", d.Path, err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// DisassembleBatch runs Disassemble for each word, preserving input order
// (spec §5 "disassemble_batch preserves input/output index correspondence").
// The oracle is free to fan these out internally; from this module's view
// they are issued together and returned index-aligned.
func (d *ProcessDisassembler) DisassembleBatch(ws []word.Word) ([]string, error) {
	out := make([]string, len(ws))
	for i, w := range ws {
		text, err := d.Disassemble(w)
		if err != nil {
			return nil, err
		}
		out[i] = text
	}
	return out, nil
}

// DistillInstruction normalizes a word by re-disassembling and re-encoding
// the operand fields the disassembler itself treats as equivalent (e.g.
// redundant immediate bits above an operand's natural width). The process
// oracle delegates this to the binary's own canonicalization, invoked with
// a "--distill" flag ahead of the instruction hex.
func (d *ProcessDisassembler) DistillInstruction(w word.Word) (word.Word, error) {
	args := append(append([]string{"--distill"}, d.Args...), hex.EncodeToString(w.Bytes()))
	cmd := exec.Command(d.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return word.Word{}, fmt.Errorf("oracle: distilling: %w: %s", err, stderr.String())
	}
	return word.FromHex(strings.TrimSpace(stdout.String()))
}

// MutateInst flips each bit 0..endBit and disassembles the result, via
// DisassembleBatch so the oracle can fan the calls out in parallel.
func (d *ProcessDisassembler) MutateInst(w word.Word, endBit int) ([]Mutation, error) {
	words := make([]word.Word, endBit)
	for bit := 0; bit < endBit; bit++ {
		mutated := w
		mutated.ToggleBit(bit)
		words[bit] = mutated
	}
	texts, err := d.DisassembleBatch(words)
	if err != nil {
		return nil, err
	}
	out := make([]Mutation, endBit)
	for bit := 0; bit < endBit; bit++ {
		out[bit] = Mutation{Bit: bit, Word: words[bit], Text: texts[bit]}
	}
	return out, nil
}

// FindUniqueInstructions groups every cached (word, disassembly) pair by
// its parsed instruction key and returns one representative word per key
// (spec §5 "find_uniques_from_cache" — the driver loop that repeatedly
// asks the oracle's accumulated cache for opcodes not yet analyzed).
// Words that fail to parse or were refused outright (empty text) are
// skipped; exactly one representative word survives per key (map
// iteration order decides which, since cache entries carry no ordering
// of their own).
func (d *ProcessDisassembler) FindUniqueInstructions() (map[string]word.Word, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := map[string]word.Word{}
	for w, text := range d.cache {
		if text == "" {
			continue
		}
		parsed, err := asmparse.Parse(text)
		if err != nil {
			continue
		}
		key := parsed.Key()
		if _, ok := out[key]; ok {
			continue
		}
		out[key] = w
	}
	return out, nil
}

// MockDisassembler is a table-driven Disassembler for tests: Responses
// maps an input word to its canned disassembly text (spec §5 "injection
// allows testing against a mock oracle that returns pre-canned responses
// for specific bit patterns").
type MockDisassembler struct {
	Responses map[word.Word]string
	Distilled map[word.Word]word.Word
}

func (m *MockDisassembler) Disassemble(w word.Word) (string, error) {
	return m.Responses[w], nil
}

func (m *MockDisassembler) DisassembleBatch(ws []word.Word) ([]string, error) {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = m.Responses[w]
	}
	return out, nil
}

func (m *MockDisassembler) DistillInstruction(w word.Word) (word.Word, error) {
	if d, ok := m.Distilled[w]; ok {
		return d, nil
	}
	return w, nil
}

func (m *MockDisassembler) MutateInst(w word.Word, endBit int) ([]Mutation, error) {
	out := make([]Mutation, endBit)
	for bit := 0; bit < endBit; bit++ {
		mutated := w
		mutated.ToggleBit(bit)
		out[bit] = Mutation{Bit: bit, Word: mutated, Text: m.Responses[mutated]}
	}
	return out, nil
}
