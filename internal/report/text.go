package report

import (
	"sort"
	texttemplate "text/template"

	"github.com/rtems-tools/covoar/internal/analyzer"
)

var textFuncs = texttemplate.FuncMap{
	"percentUncovered": percentUncovered,
	"percentExecuted":  percentExecuted,
	"sizeBytes":        func(r rangeRow) uint64 { return r.SizeBytes() },
}

const indexTextTmpl = `Project: {{.ProjectName}}
Symbol set: {{.Name}}

Reports:
  index.txt / index.html              this page
  annotated.txt / annotated.html      per-symbol annotated disassembly
  branch.txt / branch.html            uncovered branches
  uncovered.txt / uncovered.html      uncovered ranges
  sizes.txt / sizes.html              uncovered ranges by size
  symbolSummary.txt / symbolSummary.html  per-symbol summary
  no_range_uncovered.txt / .html      symbols never referenced
  summary.txt                        aggregate statistics
`

func writeIndexText(path string, set Set) error {
	return writeTextTemplate(path, indexTextTmpl, set)
}

const branchTextTmpl = `{{range $row := .}}{{$row.Symbol}}{{"\t"}}{{$row.Range.LowSourceLine}}{{"\t"}}{{$row.File}}{{"\t"}}{{sizeBytes $row}}{{"\t"}}{{$row.Range.Reason}}{{"\t"}}{{$row.Classification}}
{{end}}`

func writeBranchText(path string, set Set) error {
	var rows []rangeRow
	for _, r := range sortedUncovered(set) {
		if r.Range.Reason != analyzer.ReasonNotExecuted {
			rows = append(rows, r)
		}
	}
	return writeTextTemplateFuncs(path, "branch", branchTextTmpl, rows)
}

const coverageTextTmpl = `{{range $row := .}}{{$row.Symbol}}{{"\t"}}{{printf "%#x" $row.Range.LowAddress}}{{"\t"}}{{printf "%#x" $row.Range.HighAddress}}{{"\t"}}{{$row.Range.Reason}}{{"\t"}}{{$row.Range.LowSourceLine}}{{"\t"}}{{$row.Classification}}
{{end}}`

func writeCoverageText(path string, set Set) error {
	return writeTextTemplateFuncs(path, "uncovered", coverageTextTmpl, sortedUncovered(set))
}

func writeSizeText(path string, set Set) error {
	rows := append([]rangeRow(nil), sortedUncovered(set)...)
	sortRowsBySizeDesc(rows)
	return writeTextTemplateFuncs(path, "sizes", coverageTextTmpl, rows)
}

const symbolSummaryTextTmpl = `{{range .Symbols}}{{.Name}}{{"\t"}}{{.Stats.SizeInBytes}}{{"\t"}}{{.Stats.SizeInInstructions}}{{"\t"}}{{.Stats.UncoveredBytes}}{{"\t"}}{{.Stats.UncoveredInstructions}}{{"\t"}}{{printf "%.2f" (percentUncovered .Stats)}}%
{{end}}`

func writeSymbolSummaryText(path string, set Set) error {
	return writeTextTemplateFuncs(path, "symbolSummary", symbolSummaryTextTmpl, set)
}

const notReferencedTextTmpl = `{{range .Symbols}}{{if .Unreferenced}}{{.Name}}
{{end}}{{end}}`

func writeNotReferencedText(path string, set Set) error {
	return writeTextTemplate(path, notReferencedTextTmpl, set)
}

const summaryTextTmpl = `Project: {{.ProjectName}}
Symbol set: {{.Name}}
Bytes analyzed:      {{.Aggregate.SizeInBytes}}
Instructions:        {{.Aggregate.SizeInInstructions}}
Percent executed:    {{printf "%.2f" (percentExecuted .Aggregate)}}%
Branches found:      {{.Aggregate.BranchesFound}}
Branches executed:   {{.Aggregate.BranchesExecuted}}
Branches not taken:  {{.Aggregate.BranchesNeverTaken}}
Branches always taken: {{.Aggregate.BranchesAlwaysTaken}}
Unreferenced symbols: {{.Aggregate.UnreferencedSymbols}}
`

func writeSummaryText(path string, set Set) error {
	return writeTextTemplateFuncs(path, "summary", summaryTextTmpl, set)
}

// writeTextTemplateFuncs parses tmplSrc with textFuncs available and
// renders it to path.
func writeTextTemplateFuncs(path, name, tmplSrc string, data any) error {
	tmpl, err := texttemplate.New(name).Funcs(textFuncs).Parse(tmplSrc)
	if err != nil {
		return err
	}
	return writeTextTemplateCompiled(path, tmpl, data)
}

func sortRowsBySizeDesc(rows []rangeRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].SizeBytes() > rows[j].SizeBytes() })
}
