package report

import (
	htmltemplate "html/template"
)

var htmlFuncs = htmltemplate.FuncMap{
	"percentUncovered": percentUncovered,
	"percentExecuted":  percentExecuted,
	"sizeBytes":        func(r rangeRow) uint64 { return r.SizeBytes() },
}

const indexHTMLTmpl = `<!DOCTYPE html>
<html><head><title>{{.ProjectName}}/{{.Name}}</title></head>
<body>
<h1>{{.ProjectName}} &mdash; {{.Name}}</h1>
<ul>
<li><a href="annotated.html">Annotated disassembly</a></li>
<li><a href="branch.html">Branches</a></li>
<li><a href="uncovered.html">Uncovered ranges</a></li>
<li><a href="sizes.html">Uncovered ranges by size</a></li>
<li><a href="symbolSummary.html">Symbol summary</a></li>
<li><a href="no_range_uncovered.html">Symbols never referenced</a></li>
</ul>
</body></html>
`

func writeIndexHTML(path string, set Set) error {
	return writeHTMLTemplate(path, indexHTMLTmpl, set)
}

const rangeTableHTMLTmpl = `<!DOCTYPE html>
<html><head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<table border="1">
<tr><th>Symbol</th><th>Low</th><th>High</th><th>Size</th><th>Reason</th><th>Source</th><th>Classification</th></tr>
{{range .Rows}}<tr>
<td>{{.Symbol}}</td>
<td>{{printf "%#x" .Range.LowAddress}}</td>
<td>{{printf "%#x" .Range.HighAddress}}</td>
<td>{{sizeBytes .}}</td>
<td>{{.Range.Reason}}</td>
<td><a href="explanation{{.Range.ID}}.html">{{.Range.LowSourceLine}}</a></td>
<td>{{.Classification}}</td>
</tr>
{{end}}</table>
</body></html>
`

type rangeTableData struct {
	Title string
	Rows  []rangeRow
}

func writeBranchHTML(path string, set Set) error {
	var rows []rangeRow
	for _, r := range sortedUncovered(set) {
		if r.Range.Reason.String() != "not_executed" {
			rows = append(rows, r)
		}
	}
	return writeRangeTableHTML(path, "Branches: "+set.Name, rows)
}

func writeCoverageHTML(path string, set Set) error {
	return writeRangeTableHTML(path, "Uncovered ranges: "+set.Name, sortedUncovered(set))
}

func writeSizeHTML(path string, set Set) error {
	rows := append([]rangeRow(nil), sortedUncovered(set)...)
	sortRowsBySizeDesc(rows)
	return writeRangeTableHTML(path, "Uncovered ranges by size: "+set.Name, rows)
}

func writeRangeTableHTML(path, title string, rows []rangeRow) error {
	tmpl, err := htmltemplate.New("rangeTable").Funcs(htmlFuncs).Parse(rangeTableHTMLTmpl)
	if err != nil {
		return err
	}
	return writeHTMLTemplateCompiled(path, tmpl, rangeTableData{Title: title, Rows: rows})
}

const symbolSummaryHTMLTmpl = `<!DOCTYPE html>
<html><head><title>Symbol summary: {{.Name}}</title></head>
<body>
<h1>Symbol summary: {{.Name}}</h1>
<table border="1">
<tr><th>Symbol</th><th>Size (bytes)</th><th>Size (instructions)</th><th>Uncovered bytes</th><th>Uncovered instructions</th><th>Percent uncovered</th></tr>
{{range .Symbols}}<tr>
<td>{{.Name}}</td>
<td>{{.Stats.SizeInBytes}}</td>
<td>{{.Stats.SizeInInstructions}}</td>
<td>{{.Stats.UncoveredBytes}}</td>
<td>{{.Stats.UncoveredInstructions}}</td>
<td>{{printf "%.2f" (percentUncovered .Stats)}}%</td>
</tr>
{{end}}</table>
</body></html>
`

func writeSymbolSummaryHTML(path string, set Set) error {
	tmpl, err := htmltemplate.New("symbolSummary").Funcs(htmlFuncs).Parse(symbolSummaryHTMLTmpl)
	if err != nil {
		return err
	}
	return writeHTMLTemplateCompiled(path, tmpl, set)
}

const notReferencedHTMLTmpl = `<!DOCTYPE html>
<html><head><title>Never referenced: {{.Name}}</title></head>
<body>
<h1>Symbols selected but never observed</h1>
<ul>
{{range .Symbols}}{{if .Unreferenced}}<li>{{.Name}}</li>
{{end}}{{end}}</ul>
</body></html>
`

func writeNotReferencedHTML(path string, set Set) error {
	return writeHTMLTemplate(path, notReferencedHTMLTmpl, set)
}
