package report

import (
	"strings"
	texttemplate "text/template"

	htmltemplate "html/template"
)

// expandTabs replaces tabs with spaces up to the next stop-column
// boundary, per spec.md §4.9 ("tabs are expanded to 4-column stops before
// annotation").
func expandTabs(s string, stop int) string {
	var b strings.Builder
	col := 0
	for _, r := range s {
		if r == '\t' {
			spaces := stop - (col % stop)
			b.WriteString(strings.Repeat(" ", spaces))
			col += spaces
			continue
		}
		b.WriteRune(r)
		col++
	}
	return b.String()
}

// annotateLine pads expanded to the fixed annotation column (inserting a
// single separating space if the line already runs past it) and appends
// note, if any.
func annotateLine(expanded, note string) string {
	if note == "" {
		return expanded
	}
	if len(expanded) < annotationColumn {
		expanded += strings.Repeat(" ", annotationColumn-len(expanded))
	} else {
		expanded += " "
	}
	return expanded + note
}

// annotatedLine is one rendered instruction line for the annotated report.
type annotatedLine struct {
	Address uint64
	Text    string // tab-expanded and annotation-padded
	Note    string
}

func annotationFor(sym SymbolView, offset uint64, isBranch bool) string {
	if sym.Map == nil {
		return ""
	}
	if !sym.Map.WasExecuted(offset) {
		return "<== NOT EXECUTED"
	}
	if !isBranch {
		return ""
	}
	info, ok := sym.Map.At(offset)
	if !ok {
		return ""
	}
	switch {
	case info.TakenCount > 0 && info.NotTakenCount == 0:
		return "<== ALWAYS TAKEN"
	case info.NotTakenCount > 0 && info.TakenCount == 0:
		return "<== NEVER TAKEN"
	default:
		return ""
	}
}

func annotatedLines(sym SymbolView) []annotatedLine {
	lines := make([]annotatedLine, 0, len(sym.Instructions))
	for _, inst := range sym.Instructions {
		if inst.Address < sym.BaseAddress {
			continue
		}
		offset := inst.Address - sym.BaseAddress
		note := annotationFor(sym, offset, inst.IsBranch)
		expanded := expandTabs(inst.Text, tabStop)
		lines = append(lines, annotatedLine{
			Address: inst.Address,
			Text:    annotateLine(expanded, note),
			Note:    note,
		})
	}
	return lines
}

type annotatedSymbol struct {
	Name  string
	Lines []annotatedLine
}

func annotatedSet(set Set) []annotatedSymbol {
	out := make([]annotatedSymbol, 0, len(set.Symbols))
	for _, sym := range set.Symbols {
		if sym.Unreferenced {
			continue
		}
		out = append(out, annotatedSymbol{Name: sym.Name, Lines: annotatedLines(sym)})
	}
	return out
}

const annotatedTextTmpl = `{{range .}}=== {{.Name}} ===
{{range .Lines}}{{printf "%#08x" .Address}}  {{.Text}}
{{end}}
{{end}}`

func writeAnnotatedText(path string, set Set) error {
	tmpl, err := texttemplate.New("annotated").Parse(annotatedTextTmpl)
	if err != nil {
		return err
	}
	return writeTextTemplateCompiled(path, tmpl, annotatedSet(set))
}

const annotatedHTMLTmpl = `<!DOCTYPE html>
<html><head><title>Annotated: {{.ProjectName}}/{{.Name}}</title></head>
<body>
{{range annotatedSet .}}
<h2>{{.Name}}</h2>
<pre>
{{range .Lines}}{{printf "%#08x" .Address}}  {{.Text}}
{{end}}</pre>
{{end}}
</body></html>
`

func writeAnnotatedHTML(path string, set Set) error {
	tmpl, err := htmltemplate.New("annotated").Funcs(htmltemplate.FuncMap{"annotatedSet": annotatedSet}).Parse(annotatedHTMLTmpl)
	if err != nil {
		return err
	}
	return writeHTMLTemplateCompiled(path, tmpl, set)
}
