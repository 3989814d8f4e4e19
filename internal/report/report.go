// Package report implements the Reporters component (spec.md §4.9): text
// and HTML renderings of one symbol set's analysis, all iterating the
// same ordered Symbol list and treating the analyzer's data read-only.
package report

import (
	"fmt"
	htmltemplate "html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	texttemplate "text/template"

	"github.com/rtems-tools/covoar/internal/analyzer"
	"github.com/rtems-tools/covoar/internal/coverage"
	"github.com/rtems-tools/covoar/internal/disasm"
	"github.com/rtems-tools/covoar/internal/explanations"
)

// annotationColumn is the fixed column at which "<== ..." annotations are
// placed, per spec.md §4.9.
const annotationColumn = 90

// tabStop is the tab-expansion width applied to instruction text before
// annotation, per spec.md §4.9.
const tabStop = 4

// SymbolView is one Symbol's data as reporters see it: the analyzer's
// result plus its disassembled instruction stream (for the annotated
// report) in disassembly order.
type SymbolView struct {
	Name         string
	BaseAddress  uint64
	Stats        analyzer.Statistics
	Uncovered    []*analyzer.UncoveredRange
	Instructions []disasm.Instruction
	Map          *coverage.Map
	Unreferenced bool
}

// Set is everything one symbol set's reporters need.
type Set struct {
	Name         string
	ProjectName  string
	Symbols      []SymbolView
	Aggregate    analyzer.Statistics
	Explanations *explanations.Table
}

// classificationFor returns the explanation classification for key, or
// "NONE" if no explanation matched (spec.md §8 scenario 6).
func classificationFor(exps *explanations.Table, key string) string {
	if exps == nil || key == "" {
		return "NONE"
	}
	exp := exps.Lookup(key)
	if exp == nil {
		return "NONE"
	}
	return exp.Classification
}

// percentUncovered returns the percentage of a Symbol's bytes that remain
// uncovered.
func percentUncovered(stats analyzer.Statistics) float64 {
	if stats.SizeInBytes == 0 {
		return 0
	}
	return 100 * float64(stats.UncoveredBytes) / float64(stats.SizeInBytes)
}

// percentExecuted returns the percentage of bytes executed across an
// aggregate Statistics.
func percentExecuted(stats analyzer.Statistics) float64 {
	if stats.SizeInBytes == 0 {
		return 0
	}
	covered := stats.SizeInBytes - stats.UncoveredBytes
	return 100 * float64(covered) / float64(stats.SizeInBytes)
}

// WriteAll writes every text and HTML report, plus any HTML-only
// explanation pages, for one symbol set under outputDir/set.Name. The
// top-level ExplanationsNotFound.txt is not written here; see
// WriteExplanationsNotFound.
func WriteAll(outputDir string, set Set) error {
	dir := filepath.Join(outputDir, set.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("report: mkdir %s: %w", dir, err)
	}

	writers := []struct {
		name string
		txt  func(string, Set) error
		html func(string, Set) error
	}{
		{"index", writeIndexText, writeIndexHTML},
		{"annotated", writeAnnotatedText, writeAnnotatedHTML},
		{"branch", writeBranchText, writeBranchHTML},
		{"uncovered", writeCoverageText, writeCoverageHTML},
		{"sizes", writeSizeText, writeSizeHTML},
		{"symbolSummary", writeSymbolSummaryText, writeSymbolSummaryHTML},
		{"no_range_uncovered", writeNotReferencedText, writeNotReferencedHTML},
	}

	for _, w := range writers {
		if err := w.txt(filepath.Join(dir, w.name+".txt"), set); err != nil {
			return err
		}
		if err := w.html(filepath.Join(dir, w.name+".html"), set); err != nil {
			return err
		}
	}

	if err := writeSummaryText(filepath.Join(dir, "summary.txt"), set); err != nil {
		return err
	}

	if err := writeExplanationPages(dir, set); err != nil {
		return err
	}

	return nil
}

// WriteExplanationsNotFound writes the top-level ExplanationsNotFound.txt
// listing every Explanation key never looked up across every analyzed
// symbol set, if any (spec.md §4.8/§6).
func WriteExplanationsNotFound(outputDir string, exps *explanations.Table) error {
	if exps == nil {
		return nil
	}
	notFound := exps.NotFound()
	if len(notFound) == 0 {
		return nil
	}

	path := filepath.Join(outputDir, "ExplanationsNotFound.txt")
	var b strings.Builder
	for _, key := range notFound {
		fmt.Fprintln(&b, key)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeTextTemplate(path, tmplSrc string, data any) error {
	tmpl, err := texttemplate.New(filepath.Base(path)).Parse(tmplSrc)
	if err != nil {
		return fmt.Errorf("report: parse template for %s: %w", path, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return fmt.Errorf("report: render %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

func writeTextTemplateCompiled(path string, tmpl *texttemplate.Template, data any) error {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return fmt.Errorf("report: render %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

func writeHTMLTemplateCompiled(path string, tmpl *htmltemplate.Template, data any) error {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return fmt.Errorf("report: render %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

func writeHTMLTemplate(path, tmplSrc string, data any) error {
	tmpl, err := htmltemplate.New(filepath.Base(path)).Parse(tmplSrc)
	if err != nil {
		return fmt.Errorf("report: parse template for %s: %w", path, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return fmt.Errorf("report: render %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

func sortedUncovered(set Set) []rangeRow {
	var rows []rangeRow
	for _, sym := range set.Symbols {
		for _, r := range sym.Uncovered {
			key := r.LowSourceLine
			rows = append(rows, rangeRow{
				Symbol:         sym.Name,
				Range:          r,
				File:           baseFile(r.LowSourceLine),
				Classification: classificationFor(set.Explanations, key),
			})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Range.LowAddress < rows[j].Range.LowAddress })
	return rows
}

type rangeRow struct {
	Symbol         string
	Range          *analyzer.UncoveredRange
	File           string
	Classification string
}

func (r rangeRow) SizeBytes() uint64 { return r.Range.HighAddress - r.Range.LowAddress + 1 }

func baseFile(sourceLine string) string {
	idx := strings.LastIndexByte(sourceLine, ':')
	if idx < 0 {
		return sourceLine
	}
	return filepath.Base(sourceLine[:idx])
}
