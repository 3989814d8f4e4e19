package executable

import (
	"testing"

	"github.com/rtems-tools/covoar/internal/coverage"
	"github.com/rtems-tools/covoar/internal/disasm"
	"github.com/rtems-tools/covoar/internal/symboltable"
)

// fakeDisasm builds a disasm.Result-shaped Executable for the two
// post-disassembly helpers without exercising Build's ELF/objdump I/O,
// which needs a real binary and target toolchain on PATH.
func fakeDisasm(name string, base uint64, insts []disasm.Instruction) *Executable {
	return &Executable{
		Path: "fake",
		Disasm: &disasm.Result{
			Symbols: map[string]*disasm.Symbol{
				name: {Name: name, BaseAddress: base, Instructions: insts},
			},
		},
		Maps: map[string]*coverage.Map{
			name: coverage.NewMap(8),
		},
	}
}

func TestContributeInstructionsFirstWriterWins(t *testing.T) {
	desired := symboltable.New([]string{"foo"})

	a := fakeDisasm("foo", 0x1000, []disasm.Instruction{{Address: 0x1000, Text: "nop"}})
	b := fakeDisasm("foo", 0x2000, []disasm.Instruction{{Address: 0x2000, Text: "nop"}})

	gotA := a.ContributeInstructions(desired)
	if len(gotA) != 1 || gotA["foo"] == nil {
		t.Fatalf("expected first executable to claim ownership, got %v", gotA)
	}

	gotB := b.ContributeInstructions(desired)
	if len(gotB) != 0 {
		t.Errorf("expected second executable's claim to be rejected, got %v", gotB)
	}

	if desired.Get("foo").BaseAddress != 0x1000 {
		t.Errorf("expected base address from the first executable, got %#x", desired.Get("foo").BaseAddress)
	}
}

func TestContributeInstructionsIgnoresUndesiredSymbols(t *testing.T) {
	desired := symboltable.New([]string{"foo"})
	a := fakeDisasm("bar", 0x1000, []disasm.Instruction{{Address: 0x1000, Text: "nop"}})

	got := a.ContributeInstructions(desired)
	if len(got) != 0 {
		t.Errorf("expected no ownership claims for an undesired symbol, got %v", got)
	}
}

func TestMergeIntoCombinesExecutedCounts(t *testing.T) {
	desired := symboltable.New([]string{"foo"})

	a := fakeDisasm("foo", 0x1000, nil)
	a.Maps["foo"].RecordExecuted(0)
	b := fakeDisasm("foo", 0x1000, nil)
	b.Maps["foo"].RecordExecuted(0)
	b.Maps["foo"].RecordExecuted(1)

	var warnings []string
	warn := func(msg string) { warnings = append(warnings, msg) }

	a.MergeInto(desired, warn)
	b.MergeInto(desired, warn)

	unified := desired.Get("foo").UnifiedMap
	if unified == nil {
		t.Fatal("expected a unified map after merging")
	}
	info, ok := unified.At(0)
	if !ok || info.ExecutedCount != 2 {
		t.Errorf("expected byte 0 executed twice across both executables, got %+v", info)
	}
	info1, ok := unified.At(1)
	if !ok || info1.ExecutedCount != 1 {
		t.Errorf("expected byte 1 executed once, got %+v", info1)
	}
	if len(warnings) != 0 {
		t.Errorf("expected no warnings for same-size merges, got %v", warnings)
	}
}

func TestBuildRejectsMissingFile(t *testing.T) {
	desired := symboltable.New([]string{"foo"})
	_, err := Build("/nonexistent/path/to/binary", "objdump", 0, desired, nil, nil, nil)
	if err == nil {
		t.Fatal("expected an error opening a nonexistent executable")
	}
}
