package diag

import (
	"strings"
	"testing"
)

func TestWarnWritesRegardlessOfVerbosity(t *testing.T) {
	var b strings.Builder
	s := New(&b, false)
	s.Warn("something went wrong")

	if !strings.Contains(b.String(), "something went wrong") {
		t.Errorf("expected warning to be written, got %q", b.String())
	}
}

func TestVerboseSuppressedWithoutFlag(t *testing.T) {
	var b strings.Builder
	s := New(&b, false)
	s.Verbose("detail")

	if b.String() != "" {
		t.Errorf("expected no output, got %q", b.String())
	}
}

func TestVerboseWritesWhenEnabled(t *testing.T) {
	var b strings.Builder
	s := New(&b, true)
	s.Verbose("detail")

	if !strings.Contains(b.String(), "detail") {
		t.Errorf("expected verbose output, got %q", b.String())
	}
}

func TestDumpSuppressedWithoutVerbose(t *testing.T) {
	var b strings.Builder
	s := New(&b, false)
	s.Dump("label", struct{ X int }{X: 1})

	if b.String() != "" {
		t.Errorf("expected no output, got %q", b.String())
	}
}

func TestDumpWritesLabelAndStructureWhenVerbose(t *testing.T) {
	var b strings.Builder
	s := New(&b, true)
	s.Dump("my-label", struct{ X int }{X: 42})

	out := b.String()
	if !strings.Contains(out, "my-label") {
		t.Errorf("expected label in output, got %q", out)
	}
	if !strings.Contains(out, "42") {
		t.Errorf("expected dumped field value in output, got %q", out)
	}
}

func TestNilSinkIsSafe(t *testing.T) {
	var s *Sink
	s.Warn("ignored")
	s.Verbose("ignored")
	s.Dump("ignored", 1)
}

func TestWarnfFormats(t *testing.T) {
	var b strings.Builder
	s := New(&b, false)
	s.Warnf("bad value %d for %s", 7, "thing")

	if !strings.Contains(b.String(), "bad value 7 for thing") {
		t.Errorf("expected formatted warning, got %q", b.String())
	}
}
