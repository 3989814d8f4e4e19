package symboltable

import (
	"testing"

	"github.com/rtems-tools/covoar/internal/coverage"
)

func TestTableLookup(t *testing.T) {
	tbl := NewTable()
	tbl.Add("foo", 0x100, 0x107, nil)
	tbl.Add("bar", 0x200, 0x20f, nil)

	if name, ok := tbl.Lookup(0x104); !ok || name != "foo" {
		t.Errorf("expected foo, got %q, %v", name, ok)
	}
	if name, ok := tbl.Lookup(0x20f); !ok || name != "bar" {
		t.Errorf("expected bar, got %q, %v", name, ok)
	}
	if _, ok := tbl.Lookup(0x150); ok {
		t.Errorf("expected no symbol at 0x150")
	}
}

func TestTableRejectsSizeMismatch(t *testing.T) {
	var warnings []string
	tbl := NewTable()
	tbl.Add("foo", 0x100, 0x107, func(s string) { warnings = append(warnings, s) })
	tbl.Add("foo", 0x300, 0x30f, func(s string) { warnings = append(warnings, s) })

	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %d: %v", len(warnings), warnings)
	}
	if _, ok := tbl.Lookup(0x305); ok {
		t.Errorf("rejected re-entry should not be looked-up-able")
	}
}

func TestDesiredSymbolsUnreferenced(t *testing.T) {
	ds := New([]string{"foo", "bar"})

	if !ds.IsDesired("foo") || ds.IsDesired("baz") {
		t.Errorf("IsDesired mismatch")
	}

	ds.Merge("foo", coverage.NewMap(4), nil)

	unref := ds.Unreferenced()
	if len(unref) != 1 || unref[0] != "bar" {
		t.Errorf("expected only bar unreferenced, got %v", unref)
	}
}

func TestDesiredSymbolsMergeUnifies(t *testing.T) {
	ds := New([]string{"G"})

	m1 := coverage.NewMap(16)
	for a := uint64(0); a < 8; a++ {
		m1.MarkStartOfInstruction(a)
		m1.RecordExecuted(a)
	}

	m2 := coverage.NewMap(16)
	for a := uint64(8); a < 16; a++ {
		m2.MarkStartOfInstruction(a)
		m2.RecordExecuted(a)
	}

	ds.Merge("G", m1, nil)
	ds.Merge("G", m2, nil)

	sym := ds.Get("G")
	for a := uint64(0); a < 16; a++ {
		if !sym.UnifiedMap.WasExecuted(a) {
			t.Fatalf("expected byte %d executed in unified map", a)
		}
	}
}

func TestMergeRejectsSmallerSize(t *testing.T) {
	var warnings []string
	ds := New([]string{"G"})

	ds.Merge("G", coverage.NewMap(16), nil)
	ds.Merge("G", coverage.NewMap(8), func(s string) { warnings = append(warnings, s) })

	if len(warnings) != 1 {
		t.Fatalf("expected one warning about smaller merge, got %v", warnings)
	}
	if ds.Get("G").UnifiedMap.Size() != 16 {
		t.Errorf("expected unified map to retain the larger size")
	}
}

func TestInstructionOwnerIsFirstWriterWins(t *testing.T) {
	ds := New([]string{"foo"})

	if !ds.SetInstructionOwner("foo", 0x100) {
		t.Fatalf("expected first owner set to succeed")
	}
	if ds.SetInstructionOwner("foo", 0x200) {
		t.Errorf("expected second owner set to be rejected")
	}
	if ds.Get("foo").BaseAddress != 0x100 {
		t.Errorf("expected base address to remain from first owner")
	}
}
