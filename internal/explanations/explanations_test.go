package explanations

import (
	"io"
	"strings"
	"testing"
)

type stringReadCloser struct {
	io.Reader
}

func (stringReadCloser) Close() error { return nil }

func loadString(t *testing.T, body string) *Table {
	t.Helper()
	table, err := loadFrom(stringReadCloser{strings.NewReader(body)}, "test.txt")
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func TestLoadSingleRecordNoTrailingDelimiter(t *testing.T) {
	// Spec boundary behavior: a file with one record and no trailing "+++"
	// still loads that record.
	table := loadString(t, "foo.c:10\nuncovered reason\nsome prose explaining why\n")

	exp := table.Lookup("foo.c:10")
	if exp == nil {
		t.Fatal("expected record to load")
	}
	if exp.Classification != "uncovered reason" {
		t.Errorf("unexpected classification: %q", exp.Classification)
	}
	if len(exp.Prose) != 1 || exp.Prose[0] != "some prose explaining why" {
		t.Errorf("unexpected prose: %v", exp.Prose)
	}
}

func TestLoadTwoRecordsNeitherMatched(t *testing.T) {
	// Scenario 6 from spec.md §8: two explanation records, neither matching
	// any produced range.
	body := "foo.c:10\nbranch always taken\nthe else arm is unreachable on this target\n" +
		"+++\n" +
		"bar.c:22\nnever executed\ndebug-only diagnostic path\n"

	table := loadString(t, body)

	if got := table.Lookup("nope.c:1"); got != nil {
		t.Fatalf("expected no match, got %+v", got)
	}

	notFound := table.NotFound()
	if len(notFound) != 2 {
		t.Fatalf("expected both records unmatched, got %v", notFound)
	}
}

func TestLoadTracksFound(t *testing.T) {
	body := "foo.c:10\nuncovered\nexplanation text\n+++\nbar.c:22\nuncovered\nmore text\n"
	table := loadString(t, body)

	table.Lookup("foo.c:10")

	notFound := table.NotFound()
	if len(notFound) != 1 || notFound[0] != "bar.c:22" {
		t.Fatalf("expected only bar.c:22 unmatched, got %v", notFound)
	}
}

func TestLoadDuplicateKeyIsFatal(t *testing.T) {
	body := "foo.c:10\nuncovered\nexplanation one\n+++\nfoo.c:10\nuncovered\nexplanation two\n"
	if _, err := loadFrom(stringReadCloser{strings.NewReader(body)}, "test.txt"); err == nil {
		t.Fatal("expected duplicate-key load to fail")
	}
}

func TestLoadMalformedRecordMissingClassification(t *testing.T) {
	body := "foo.c:10\n"
	if _, err := loadFrom(stringReadCloser{strings.NewReader(body)}, "test.txt"); err == nil {
		t.Fatal("expected malformed record (no classification line) to fail")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	table := loadString(t, "")
	if len(table.NotFound()) != 0 {
		t.Errorf("expected no records from an empty file")
	}
}

func FuzzLoadFrom(f *testing.F) {
	f.Add("foo.c:10\nuncovered\nsome text\n")
	f.Add("foo.c:10\nuncovered\nsome text\n+++\nbar.c:1\nuncovered\nmore\n")
	f.Add("")
	f.Add("+++")
	f.Add("justonelinenodescription")

	f.Fuzz(func(t *testing.T, body string) {
		// Load must never panic, regardless of input.
		_, _ = loadFrom(stringReadCloser{strings.NewReader(body)}, "fuzz.txt")
	})
}
