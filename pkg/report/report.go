// Package report renders analyzed instructions as browsable HTML, one page
// per base mnemonic plus an index, via html/template (spec §9 "HTML report
// generation").
package report

import (
	"fmt"
	"html/template"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/gpuisa/solver/pkg/asmparse"
	"github.com/gpuisa/solver/pkg/encoding"
	"github.com/gpuisa/solver/pkg/isaspec"
	"github.com/gpuisa/solver/pkg/liverange"
	"github.com/gpuisa/solver/pkg/modenum"
)

// operandColors cycles the background color assigned to each flattened
// operand's highlighted span, matching the fixed palette the Python
// renderer uses so operand N always gets the same color across pages.
var operandColors = []string{
	"#ffadad", "#ffd6a5", "#fdffb6", "#caffbf",
	"#9bf6ff", "#a0c4ff", "#bdb2ff", "#ffc6ff",
}

func operandColor(i int) string {
	return operandColors[i%len(operandColors)]
}

// DescribeInstruction renders the colorized assembly-syntax line for one
// instruction (spec §9 "InstructionDescGenerator").
func DescribeInstruction(inst *asmparse.Instruction, canonicalName string) template.HTML {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="instruction-desc"><span class="base-name">%s</span>`, template.HTMLEscapeString(canonicalName))
	b.WriteString(`<span class="operands"> &nbsp; `)

	flatIndex := 0

	for i, op := range inst.Operands {
		if i != 0 {
			b.WriteString(",")
		}
		b.WriteString(" ")
		writeOperandHTML(&b, op, &flatIndex)
	}
	b.WriteString("</span></div>")
	return template.HTML(b.String())
}

func writeOperandHTML(b *strings.Builder, op asmparse.Operand, assign *int) {
	switch o := op.(type) {
	case asmparse.DescOperand:
		if o.G {
			b.WriteString("g")
		}
		b.WriteString("desc[")
		writeOperandHTML(b, o.Sub[0], assign)
		b.WriteString("]")
		if len(o.Sub) > 1 {
			writeOperandHTML(b, o.Sub[1], assign)
		}
	case asmparse.ConstMemOperand:
		if o.CX {
			b.WriteString("cx")
		} else {
			b.WriteString("c")
		}
		b.WriteString("[")
		writeOperandHTML(b, o.Bank, assign)
		b.WriteString("]")
		writeOperandHTML(b, o.Offset, assign)
	case asmparse.IntImmOperand:
		writeSection(b, op, assign, "INT_IMM")
	case asmparse.FloatImmOperand:
		writeSection(b, op, assign, "FIMM")
	case asmparse.AddressOperand:
		b.WriteString("[")
		for i, sub := range o.Sub {
			if i != 0 {
				b.WriteString("+")
			}
			writeOperandHTML(b, sub, assign)
		}
		b.WriteString("]")
	case asmparse.AttributeOperand:
		b.WriteString("a")
		if len(o.Sub) > 0 {
			writeOperandHTML(b, o.Sub[0], assign)
		}
	case asmparse.RegOperand:
		writeSection(b, op, assign, o.OperandKey())
	default:
		b.WriteString(template.HTMLEscapeString(fmt.Sprint(op)))
	}
}

// writeSection colors one leaf operand by its running flat-operand index.
func writeSection(b *strings.Builder, op asmparse.Operand, assign *int, text string) {
	idx := *assign
	*assign++
	fmt.Fprintf(b, `<span class="flat-operand-section" style="background-color:%s">%s</span>`, operandColor(idx), template.HTMLEscapeString(text))
}

// EncodingTable renders the 64-bit-per-row bitfield table for an
// instruction's encoding ranges (spec §9 "EncodingRanges.generate_html_table").
func EncodingTable(rs encoding.Ranges) template.HTML {
	var b strings.Builder
	b.WriteString(`<table class="instviz"><tbody>`)

	writeSeparator := func() {
		b.WriteString(`<tr class="smoll">`)
		for i := 0; i < 64; i++ {
			fmt.Fprintf(&b, `<td>%d</td>`, i%8)
		}
		b.WriteString("</tr>")
	}

	writeSeparator()
	currentLength := 0
	b.WriteString("<tr>")

	writeCell := func(text string, span int, bg string, vertical bool) {
		style := ""
		if bg != "" {
			style += "background-color:" + bg + ";"
		}
		if vertical {
			style += "writing-mode:vertical-rl;"
		}
		fmt.Fprintf(&b, `<td colspan="%d" style="%s">%s</td>`, span, style, template.HTMLEscapeString(text))
	}

	for _, r := range rs.Ranges {
		if currentLength == 64 {
			b.WriteString("</tr>")
			writeSeparator()
			b.WriteString("<tr>")
			currentLength = 0
		}

		bg := ""
		if r.HasOperand() {
			bg = operandColor(r.OperandIndex)
		}
		text := r.Name
		if text == "" {
			text = string(r.Type)
			if r.Type == encoding.RangeOperandModifier || r.Type == encoding.RangeModifier {
				text = "modi"
				if r.GroupID != 0 {
					text += " " + strconv.Itoa(r.GroupID)
				}
			}
		}
		vertical := r.Type == encoding.RangeFlag || r.Type == encoding.RangeOperandFlag

		if r.Type == encoding.RangeConstant {
			bits := constantBits(r.Constant, r.Length)
			for _, c := range bits {
				writeCell(string(c), 1, bg, vertical)
			}
			currentLength += r.Length
			continue
		}
		if r.Type == encoding.RangeOperand {
			text += " " + strconv.Itoa(r.OperandIndex)
		}

		length := r.Length
		if currentLength < 64 && currentLength+length > 64 {
			diff := 64 - currentLength
			writeCell(text, diff, bg, vertical)
			b.WriteString("</tr>")
			writeSeparator()
			b.WriteString("<tr>")
			length -= diff
		}
		writeCell(text, length, bg, vertical)
		currentLength += r.Length
	}
	b.WriteString("</tr></tbody></table>")
	return template.HTML(b.String())
}

// constantBits renders a constant's bits least-significant-first, the way
// the Python renderer reverses Python's zero-padded binary string.
func constantBits(value int64, length int) string {
	bits := make([]byte, length)
	for i := 0; i < length; i++ {
		if value&(1<<uint(i)) != 0 {
			bits[i] = '1'
		} else {
			bits[i] = '0'
		}
	}
	return string(bits)
}

// ModifierTable renders one named modifier field's enumerated values
// (spec §9 "generate_modifier_table").
func ModifierTable(title string, values []modenum.Value, rng encoding.Range) template.HTML {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>%s", template.HTMLEscapeString(title))
	b.WriteString("<table><tbody>")
	for _, v := range values {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td></tr>",
			zeroPadBinary(v.Value, rng.Length), template.HTMLEscapeString(v.Name))
	}
	b.WriteString("</tbody></table></p>")
	return template.HTML(b.String())
}

func zeroPadBinary(v int64, width int) string {
	s := strconv.FormatInt(v, 2)
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s
}

var interactionNames = map[liverange.InteractionType]string{
	liverange.InteractionRead:      "READ",
	liverange.InteractionWrite:     "WRITE",
	liverange.InteractionReadWrite: "READ_WRITE",
}

type operandInteractionRow struct {
	OperandIndex int
	Color        string
	Label        string
}

// instructionPageData is the template.HTML-bearing view model fed to the
// per-mnemonic page template, assembled by InstructionPage.
type instructionPageData struct {
	Desc         template.HTML
	Interactions []operandInteractionRow
	Distilled    string
	Key          string
	EncodingHTML template.HTML
	ModifierHTML []template.HTML
}

var instructionPageTmpl = template.Must(template.New("instruction").Parse(`
{{.Desc}}
{{range .Interactions}}
<span class="flat-operand-section" style="background-color:{{.Color}}">{{.Label}}</span>
{{end}}
<p> distilled: {{.Distilled}}</p>
<p> key: {{.Key}}</p>
{{.EncodingHTML}}
{{range .ModifierHTML}}{{.}}{{end}}
`))

// InstructionPage renders one InstructionSpec's full report fragment:
// description, observed register interactions, encoding table, and every
// modifier/operand-modifier table (spec §9 "InstructionSpec.generate_html").
func InstructionPage(w io.Writer, spec *isaspec.InstructionSpec) error {
	operands := spec.Parsed.FlatOperands()

	var rows []operandInteractionRow
	type flatInteraction struct {
		operandIndex int
		file         liverange.RegFile
		kind         liverange.InteractionType
		slots        int
	}
	var flat []flatInteraction
	for file, list := range spec.OperandInteractions {
		for _, in := range list {
			flat = append(flat, flatInteraction{in.OperandIndex, file, in.Kind, in.SlotCount})
		}
	}
	sort.Slice(flat, func(i, j int) bool { return flat[i].operandIndex < flat[j].operandIndex })
	for _, in := range flat {
		regType := "reg"
		if in.operandIndex < len(operands) {
			if reg, ok := operands[in.operandIndex].(asmparse.RegOperand); ok {
				regType = string(reg.Class)
			}
		}
		rows = append(rows, operandInteractionRow{
			OperandIndex: in.operandIndex,
			Color:        operandColor(in.operandIndex),
			Label:        fmt.Sprintf("%s %s (%d slots)", interactionNames[in.kind], regType, in.slots),
		})
	}

	var modifierHTML []template.HTML
	modifierRanges := findRanges(spec.Ranges, encoding.RangeModifier)
	for i, values := range spec.Modifiers {
		if i >= len(modifierRanges) {
			break
		}
		title := fmt.Sprintf("Modifier Group %d", i+1)
		modifierHTML = append(modifierHTML, ModifierTable(title, values, modifierRanges[i]))
	}
	operandModifierRanges := map[int]encoding.Range{}
	for _, r := range findRanges(spec.Ranges, encoding.RangeOperandModifier) {
		operandModifierRanges[r.OperandIndex] = r
	}
	operandKeys := sortedOperandKeys(spec.OperandModifiers)
	for _, operandIndex := range operandKeys {
		rng, ok := operandModifierRanges[operandIndex]
		if !ok {
			continue
		}
		title := fmt.Sprintf("Operand %d operand modifiers", operandIndex)
		modifierHTML = append(modifierHTML, ModifierTable(title, spec.OperandModifiers[operandIndex], rng))
	}

	data := instructionPageData{
		Desc:         DescribeInstruction(spec.Parsed, spec.CanonicalName),
		Interactions: rows,
		Distilled:    spec.Disasm,
		Key:          spec.Parsed.Key(),
		EncodingHTML: EncodingTable(spec.Ranges),
		ModifierHTML: modifierHTML,
	}
	return instructionPageTmpl.Execute(w, data)
}

func findRanges(rs encoding.Ranges, t encoding.RangeType) []encoding.Range {
	var out []encoding.Range
	for _, r := range rs.Ranges {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

func sortedOperandKeys(m map[int][]modenum.Value) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

const pageHeader = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: Arial, sans-serif; margin: 20px; }
table.instviz td { border: 1px solid #ccc; text-align: center; font-size: 11px; padding: 2px 4px; }
tr.smoll td { font-size: 9px; color: #888; border: none; }
.instruction-desc { font-family: monospace; font-size: 14px; margin-top: 20px; }
.base-name { font-weight: bold; }
.flat-operand-section { padding: 1px 3px; border-radius: 3px; }
</style>
</head>
<body>
`

const pageFooter = `
</body>
</html>
`

// WriteMnemonicPage writes the full HTML document for every InstructionSpec
// sharing one base mnemonic (spec §9 "one output/<base>.html per mnemonic").
func WriteMnemonicPage(w io.Writer, specs []*isaspec.InstructionSpec) error {
	if _, err := io.WriteString(w, pageHeader); err != nil {
		return err
	}
	for _, spec := range specs {
		if err := InstructionPage(w, spec); err != nil {
			return fmt.Errorf("report: rendering %s: %w", spec.CanonicalName, err)
		}
	}
	_, err := io.WriteString(w, pageFooter)
	return err
}

// WriteIndex writes the top-level index page linking every mnemonic's
// page, sorted alphabetically (spec §9 "output/index.html").
func WriteIndex(w io.Writer, archName string, baseNames []string) error {
	sorted := append([]string{}, baseNames...)
	sort.Strings(sorted)

	if _, err := fmt.Fprintf(w, "<h1> %s Instruction Set Architecture</h1>\n", template.HTMLEscapeString(archName)); err != nil {
		return err
	}
	for _, base := range sorted {
		if _, err := fmt.Fprintf(w, `<a href="%s.html">%s</a><br>`+"\n", template.URLQueryEscaper(base), template.HTMLEscapeString(base)); err != nil {
			return err
		}
	}
	return nil
}
