package elfreader

import (
	"debug/dwarf"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAddressFromDlinfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "libfoo.dlinfo")
	content := "libfoo.so=0x10000\nlibbar.so=0x20000\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	addr, err := LoadAddressFromDlinfo(path, "libfoo.so")
	if err != nil {
		t.Fatal(err)
	}
	if addr != 0x10000 {
		t.Errorf("expected 0x10000, got %#x", addr)
	}

	addr2, err := LoadAddressFromDlinfo(path, "unknown.so")
	if err != nil {
		t.Fatal(err)
	}
	if addr2 != 0 {
		t.Errorf("expected 0 for unknown library, got %#x", addr2)
	}
}

func TestSplitLinesAndKV(t *testing.T) {
	lines := splitLines("a=1\nb=2\nc=3")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %v", len(lines), lines)
	}

	k, v, ok := splitKV("key=value")
	if !ok || k != "key" || v != "value" {
		t.Errorf("splitKV failed: %q %q %v", k, v, ok)
	}

	if _, _, ok := splitKV("no-equals-sign"); ok {
		t.Errorf("expected no match for line without '='")
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open("/nonexistent/path/to/binary", 0); err == nil {
		t.Errorf("expected error opening nonexistent file")
	}
}

func lineEntryAt(addr uint64, file string, line int, end bool) dwarf.LineEntry {
	return dwarf.LineEntry{
		Address:     addr,
		File:        &dwarf.LineFile{Name: file},
		Line:        line,
		EndSequence: end,
	}
}

func TestResolveLineEntriesIgnoresLeadingZeroSequence(t *testing.T) {
	entries := []dwarf.LineEntry{
		lineEntryAt(0, "a.c", 1, false),
		lineEntryAt(0, "a.c", 2, false),
		lineEntryAt(0, "a.c", 0, true),
		lineEntryAt(0x1000, "a.c", 10, false),
		lineEntryAt(0x1004, "a.c", 11, true),
	}

	got := resolveLineEntries(entries, 0)
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d: %+v", len(got), got)
	}
	if got[0].addr != 0x1000 || got[0].line != 10 {
		t.Errorf("unexpected entry: %+v", got[0])
	}
}

func TestResolveLineEntriesRuleADoesNotReapplyToLaterSequences(t *testing.T) {
	entries := []dwarf.LineEntry{
		lineEntryAt(0x1000, "a.c", 10, false),
		lineEntryAt(0x1004, "a.c", 11, true),
		// A second sequence. Its first entry is genuinely address 0
		// (a valid mid-program reset, not a leading spurious one) and
		// must be biased by rule (b), not dropped by rule (a), since
		// the CU already recorded a nonzero address above.
		lineEntryAt(0, "b.c", 20, false),
		lineEntryAt(4, "b.c", 21, true),
	}

	got := resolveLineEntries(entries, 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(got), got)
	}
	if got[1].addr != 0x1004 || got[1].line != 20 {
		t.Errorf("expected second sequence's zero entry biased to 0x1004, got %+v", got[1])
	}
}

func TestResolveLineEntriesBiasAppliesToWholeSequence(t *testing.T) {
	entries := []dwarf.LineEntry{
		lineEntryAt(0x2000, "a.c", 1, false),
		lineEntryAt(0x2004, "a.c", 2, true),
		lineEntryAt(0, "a.c", 3, false),
		lineEntryAt(4, "a.c", 4, false),
		lineEntryAt(8, "a.c", 5, false),
		lineEntryAt(12, "a.c", 6, true),
	}

	got := resolveLineEntries(entries, 0)
	if len(got) != 4 {
		t.Fatalf("expected 4 entries, got %d: %+v", len(got), got)
	}
	wantAddrs := []uint64{0x2000, 0x2004, 0x2008, 0x200c}
	for i, want := range wantAddrs {
		if got[i].addr != want {
			t.Errorf("entry %d: expected addr %#x, got %#x", i, want, got[i].addr)
		}
	}
}
