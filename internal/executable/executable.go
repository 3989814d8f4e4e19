// Package executable implements the Executable entity from spec.md §3:
// one statically linked binary's ELF/DWARF handle, load address,
// pre-merge per-Symbol CoverageMaps, and address->Symbol SymbolTable,
// tying together internal/elfreader, internal/disasm, internal/coverage
// and internal/symboltable for one input file. It is the orchestration
// concept the control-flow line in spec.md §3 describes but never names
// as its own package.
package executable

import (
	"fmt"

	"github.com/rtems-tools/covoar/internal/coverage"
	"github.com/rtems-tools/covoar/internal/disasm"
	"github.com/rtems-tools/covoar/internal/elfreader"
	"github.com/rtems-tools/covoar/internal/symboltable"
	"github.com/rtems-tools/covoar/internal/target"
	"github.com/rtems-tools/covoar/internal/tempfile"
)

// Executable owns one input binary's analysis-side state: the ELF/DWARF
// reader, the address->symbol table used by the trace reader to dispatch
// block records, and each desired Symbol's pre-merge coverage map.
type Executable struct {
	Path   string
	Reader *elfreader.Reader
	Table  *symboltable.Table
	Maps   map[string]*coverage.Map
	Disasm *disasm.Result
}

// Close releases the Executable's ELF/DWARF file descriptor.
func (e *Executable) Close() error {
	return e.Reader.Close()
}

// Build opens path, enumerates its ELF symbols to find the address ranges
// of every desired Symbol, allocates a pre-merge CoverageMap per
// nonzero-size desired Symbol (spec.md §8: a zero-size Symbol never gets
// a map), disassembles it via objdumpPath, and records instruction-start
// flags for every covered address so the trace reader's
// BeginningOfInstruction walk works before the analyzer's own
// preprocessing pass runs later (spec.md §5's control flow applies traces
// at C6, ahead of the analyzer's C7 preprocessing).
func Build(path, objdumpPath string, loadAddress uint64, desired *symboltable.DesiredSymbols, profile *target.Profile, tm *tempfile.Manager, warn func(string)) (*Executable, error) {
	reader, err := elfreader.Open(path, loadAddress)
	if err != nil {
		return nil, fmt.Errorf("executable: open %s: %w", path, err)
	}

	e := &Executable{
		Path:   path,
		Reader: reader,
		Table:  symboltable.NewTable(),
		Maps:   make(map[string]*coverage.Map),
	}

	syms, err := reader.Symbols()
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("executable: symbols of %s: %w", path, err)
	}

	text, err := disasm.RunObjdump(tm, objdumpPath, path)
	if err != nil {
		return nil, fmt.Errorf("executable: disassemble %s: %w", path, err)
	}
	e.Disasm = disasm.Process(text, desired.IsDesired, profile, warn)

	// The disassembly's NOP-trimmed HighAddress is authoritative for
	// sizing: the ELF symbol-table size routinely includes trailing
	// alignment NOPs that spec.md §4.3 requires trimming off before the
	// CoverageMap/SymbolTable range is fixed. ELF symbols the disassembler
	// never produced a range for (no matching objdump header) fall back
	// to the raw ELF extent.
	elfRange := make(map[string][2]uint64, len(syms))
	for _, s := range syms {
		if !desired.IsDesired(s.Name) || s.Size == 0 {
			continue
		}
		elfRange[s.Name] = [2]uint64{s.Address, s.Address + s.Size - 1}
	}

	for name, rng := range elfRange {
		low, high := rng[0], rng[1]
		if dsym, ok := e.Disasm.Symbols[name]; ok {
			low, high = dsym.BaseAddress, dsym.HighAddress
		}
		e.Table.Add(name, low, high, warn)
		if _, ok := e.Maps[name]; !ok {
			e.Maps[name] = coverage.NewMap(high - low + 1)
		}
	}
	for name, dsym := range e.Disasm.Symbols {
		if _, ok := elfRange[name]; ok {
			continue
		}
		e.Table.Add(name, dsym.BaseAddress, dsym.HighAddress, warn)
		if _, ok := e.Maps[name]; !ok {
			e.Maps[name] = coverage.NewMap(dsym.HighAddress - dsym.BaseAddress + 1)
		}
	}

	for name, sym := range e.Disasm.Symbols {
		m := e.Maps[name]
		if m == nil {
			continue
		}
		for _, inst := range sym.Instructions {
			if inst.Address < sym.BaseAddress {
				continue
			}
			m.MarkStartOfInstruction(inst.Address - sym.BaseAddress)
		}
	}

	return e, nil
}

// ContributeInstructions records this Executable as the instruction-owner
// of every desired Symbol it disassembled, via DesiredSymbols'
// first-writer-wins SetInstructionOwner, and returns the accepted
// ownership claims' instruction lists keyed by Symbol name for the
// analyzer's Instructions map.
func (e *Executable) ContributeInstructions(desired *symboltable.DesiredSymbols) map[string][]disasm.Instruction {
	out := make(map[string][]disasm.Instruction)
	for name, sym := range e.Disasm.Symbols {
		if desired.SetInstructionOwner(name, sym.BaseAddress) {
			out[name] = sym.Instructions
		}
	}
	return out
}

// MergeInto merges this Executable's pre-merge per-Symbol maps into
// DesiredSymbols' unified maps (spec.md §3's Executable definition: "after
// per-Symbol merging, the Symbol in DesiredSymbols carries the unified
// map").
func (e *Executable) MergeInto(desired *symboltable.DesiredSymbols, warn func(string)) {
	for name, m := range e.Maps {
		desired.Merge(name, m, warn)
	}
}
