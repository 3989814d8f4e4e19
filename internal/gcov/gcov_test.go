package gcov

import (
	"strings"
	"testing"
)

func TestReadTalliesHitsAndMisses(t *testing.T) {
	body := strings.Join([]string{
		"        -:    0:Source:foo.c",
		"        5:    1:int foo(void) {",
		"    #####:    2:    if (bad()) {",
		"        -:    3:        // unreachable comment",
		"        3:    4:    return 1;",
		"        0:    5:    return 2;",
		"",
	}, "\n")

	summary, err := Read(strings.NewReader(body), "foo.c")
	if err != nil {
		t.Fatal(err)
	}
	if summary.LinesTotal != 4 {
		t.Errorf("total = %d, want 4", summary.LinesTotal)
	}
	if summary.LinesHit != 2 {
		t.Errorf("hit = %d, want 2", summary.LinesHit)
	}
	if summary.LinesMissed != 2 {
		t.Errorf("missed = %d, want 2", summary.LinesMissed)
	}
}

func TestPercentOfEmptyFile(t *testing.T) {
	var summary FileSummary
	if summary.Percent() != 0 {
		t.Errorf("expected 0%% for an empty summary")
	}
}

func TestReadSkipsMalformedLines(t *testing.T) {
	summary, err := Read(strings.NewReader("not gcov output at all\n    3:   1:int x;\n"), "f.c")
	if err != nil {
		t.Fatal(err)
	}
	if summary.LinesTotal != 1 || summary.LinesHit != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}
