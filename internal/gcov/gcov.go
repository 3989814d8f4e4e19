// Package gcov is a best-effort reader for gcov's textual "--preserve-paths"
// line-annotated output, wired in for the "-g" flag (SPEC_FULL.md
// supplement #1): informational only. cmd/covoar writes the per-file
// tallies to a separate gcov.txt in the output directory; they are not
// part of the Summary report and never feed back into the coverage model.
package gcov

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// FileSummary is the line-hit tally for one gcov-annotated source file.
type FileSummary struct {
	Path         string
	LinesTotal   int
	LinesHit     int
	LinesMissed  int
}

// Percent returns the percentage of executable lines that were hit, or 0
// if the file has no executable lines.
func (s FileSummary) Percent() float64 {
	if s.LinesTotal == 0 {
		return 0
	}
	return 100 * float64(s.LinesHit) / float64(s.LinesTotal)
}

// ReadFile parses the gcov-annotated text file at path. Parse failures on
// individual lines are tolerated (skipped); a read failure of the file
// itself is returned, since the caller has no partial-best-effort fallback
// for a file that isn't there.
func ReadFile(path string) (FileSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileSummary{}, fmt.Errorf("gcov: open %s: %w", path, err)
	}
	defer f.Close()

	return Read(f, path)
}

// Read parses gcov's line-annotated format from r: each line looks like
// "<count-or-marker>:<lineno>:<source text>", where count is a decimal
// execution count, "-" marks a non-executable line, and "#####" or "====="
// marks an executable line that was never hit.
func Read(r io.Reader, path string) (FileSummary, error) {
	summary := FileSummary{Path: path}

	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scan.Scan() {
		fields := strings.SplitN(scan.Text(), ":", 3)
		if len(fields) < 2 {
			continue
		}
		countField := strings.TrimSpace(fields[0])

		switch countField {
		case "-":
			continue
		case "#####", "=====":
			summary.LinesTotal++
			summary.LinesMissed++
		default:
			n, err := strconv.ParseInt(countField, 10, 64)
			if err != nil {
				continue
			}
			summary.LinesTotal++
			if n > 0 {
				summary.LinesHit++
			} else {
				summary.LinesMissed++
			}
		}
	}
	if err := scan.Err(); err != nil {
		return summary, fmt.Errorf("gcov: scan %s: %w", path, err)
	}

	return summary, nil
}
