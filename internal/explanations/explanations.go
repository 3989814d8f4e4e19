// Package explanations implements the Explanations component (spec.md
// §4.8): a flat file of "starting-source-line -> classification + prose"
// records separated by a literal "+++" line, attached to uncovered ranges
// by exact key, tracking which keys were never matched.
package explanations

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// delimiter is the literal line separating records in the explanations
// file, per spec.md §6.
const delimiter = "+++"

// Explanation is one record: a key (usually "file:line", kept exact — see
// spec.md §9's "string-based source keys" design note), a classification,
// and the prose lines describing it. Found is set the first time Lookup
// returns this record.
type Explanation struct {
	Key            string
	Classification string
	Prose          []string
	Found          bool
}

// Table is the loaded, immutable-except-for-Found set of Explanations,
// keyed by exact Key (the starting source line).
type Table struct {
	byKey map[string]*Explanation
	order []string
}

// record is the participle grammar for a single "+++"-delimited block: a
// key line, a classification line, and one-or-more prose lines. Records
// are pre-split on the literal delimiter line by Load, so this grammar
// only needs to capture a flat run of lines.
type record struct {
	Key            string   `@Line`
	Classification string   `@Line`
	Prose          []string `@Line+`
}

var lineLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Line", Pattern: `[^\n]+`},
	{Name: "Newline", Pattern: `\n`},
})

var recordParser = participle.MustBuild[record](
	participle.Lexer(lineLexer),
	participle.Elide("Newline"),
)

// LoadFile opens path from disk and parses it into a Table.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("explanations: open %s: %w", path, err)
	}
	defer f.Close()

	return loadFrom(f, path)
}

// readCloser is the minimal interface loadFrom needs from an opened file;
// it lets tests supply an in-memory reader without touching the
// filesystem. *os.File satisfies it directly.
type readCloser interface {
	Read(p []byte) (int, error)
	Close() error
}

func loadFrom(r readCloser, path string) (*Table, error) {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	table := &Table{byKey: make(map[string]*Explanation)}

	var block []string
	flush := func(blockNo int) error {
		if len(block) == 0 {
			return nil
		}

		text := strings.Join(block, "\n") + "\n"
		var rec record
		parsed, err := recordParser.ParseString(path, text)
		if err != nil {
			return fmt.Errorf("explanations: %s: malformed record #%d: %w", path, blockNo, err)
		}
		rec = *parsed

		if _, exists := table.byKey[rec.Key]; exists {
			return fmt.Errorf("explanations: %s: duplicate key %q", path, rec.Key)
		}

		exp := &Explanation{Key: rec.Key, Classification: rec.Classification, Prose: rec.Prose}
		table.byKey[rec.Key] = exp
		table.order = append(table.order, rec.Key)

		block = nil
		return nil
	}

	blockNo := 0
	for scan.Scan() {
		line := scan.Text()
		if line == delimiter {
			blockNo++
			if err := flush(blockNo); err != nil {
				return nil, err
			}
			continue
		}
		block = append(block, line)
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("explanations: %s: %w", path, err)
	}

	blockNo++
	if err := flush(blockNo); err != nil {
		return nil, err
	}

	return table, nil
}

// Lookup returns the Explanation for key, marking it Found, or nil if no
// such key was ever loaded.
func (t *Table) Lookup(key string) *Explanation {
	exp := t.byKey[key]
	if exp != nil {
		exp.Found = true
	}
	return exp
}

// NotFound returns the keys of every Explanation that was never looked up,
// in load order, for the "ExplanationsNotFound.txt" report (spec.md §6).
func (t *Table) NotFound() []string {
	var out []string
	for _, k := range t.order {
		if !t.byKey[k].Found {
			out = append(out, k)
		}
	}
	return out
}
