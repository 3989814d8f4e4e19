// Package symboltable implements the per-Executable SymbolTable (address ->
// symbol name lookup via an interval map) and the process-wide
// DesiredSymbols registry described in spec.md §4.5.
package symboltable

import (
	"fmt"
	"sort"

	"golang.org/x/exp/slices"

	"github.com/rtems-tools/covoar/internal/coverage"
)

// entry is one [Low, High] -> name interval, kept sorted by High so lookups
// can binary-search on the high address as spec.md §4.5 prescribes.
type entry struct {
	low, high uint64
	name      string
}

// Table maps addresses to symbol names for one Executable, used by the
// trace readers to dispatch block records to the right coverage map.
type Table struct {
	entries []entry
}

// NewTable returns an empty symbol table.
func NewTable() *Table { return &Table{} }

// Add registers the inclusive range [low, high] as belonging to name. If
// name already has a registered range of a different size the re-entry is
// ignored (per spec.md §3's AddressRange invariant, re-entries with
// different size are dropped with a caller-visible warning); the warn
// callback receives a message describing the rejection.
func (t *Table) Add(name string, low, high uint64, warn func(string)) {
	for _, e := range t.entries {
		if e.name == name {
			if e.high-e.low != high-low {
				if warn != nil {
					warn(fmt.Sprintf("symboltable: symbol %q re-registered with a different size (existing %d, new %d), ignoring", name, e.high-e.low+1, high-low+1))
				}
				return
			}
		}
	}

	t.entries = append(t.entries, entry{low: low, high: high, name: name})
	sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].high < t.entries[j].high })
}

// Lookup returns the name of the symbol whose range contains addr, via
// binary search on the sorted-by-high-address entries.
func (t *Table) Lookup(addr uint64) (string, bool) {
	idx := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].high >= addr })
	if idx < len(t.entries) && addr >= t.entries[idx].low && addr <= t.entries[idx].high {
		return t.entries[idx].name, true
	}
	return "", false
}

// Range returns the [low, high] range registered for name, if any.
func (t *Table) Range(name string) (low, high uint64, ok bool) {
	for _, e := range t.entries {
		if e.name == name {
			return e.low, e.high, true
		}
	}
	return 0, 0, false
}

// Symbol is one entry of DesiredSymbols: a symbol selected for analysis,
// lazily populated as Executables contribute coverage for it.
type Symbol struct {
	Name string

	// BaseAddress is the address of the symbol's first instruction in the
	// Executable that first contributed its instruction list.
	BaseAddress uint64

	// UnifiedMap is nil until the symbol is observed in at least one
	// Executable; a Symbol that stays nil is reported as unreferenced.
	UnifiedMap *coverage.Map

	sourceSize uint64
}

// DesiredSymbols is the process-wide registry of symbols selected for
// analysis, populated from the symbol-set configuration (see
// internal/symbolset). It is constructed once at the top-level command
// boundary and treated as immutable by readers apart from Merge, matching
// the "process-wide singletons re-architected as an explicit context
// value" guidance in spec.md §9.
type DesiredSymbols struct {
	names   map[string]bool
	symbols map[string]*Symbol
	order   []string
}

// New builds a DesiredSymbols registry from the given symbol names (as
// selected by a symbol-set configuration).
func New(names []string) *DesiredSymbols {
	ds := &DesiredSymbols{
		names:   make(map[string]bool, len(names)),
		symbols: make(map[string]*Symbol, len(names)),
	}
	for _, n := range names {
		if ds.names[n] {
			continue
		}
		ds.names[n] = true
		ds.symbols[n] = &Symbol{Name: n}
		ds.order = append(ds.order, n)
	}
	return ds
}

// IsDesired reports whether name was selected for analysis.
func (d *DesiredSymbols) IsDesired(name string) bool { return d.names[name] }

// Names returns the desired symbol names in a stable (insertion) order,
// which spec.md §5's ordering guarantees rely on for iteration.
func (d *DesiredSymbols) Names() []string {
	out := slices.Clone(d.order)
	return out
}

// Get returns the Symbol record for name, or nil if it was never selected.
func (d *DesiredSymbols) Get(name string) *Symbol { return d.symbols[name] }

// SetInstructionOwner records that base (the first Executable to contribute
// name's instructions) owns it; subsequent Executables contributing the
// same symbol do not replace the already-recorded base address, per
// spec.md §3's Instruction ownership rule. Returns false if the symbol
// already had a base address recorded.
func (d *DesiredSymbols) SetInstructionOwner(name string, baseAddress uint64) bool {
	sym := d.symbols[name]
	if sym == nil {
		return false
	}
	if sym.BaseAddress != 0 || sym.UnifiedMap != nil {
		return false
	}
	sym.BaseAddress = baseAddress
	return true
}

// Merge merges sourceMap, one Executable's per-symbol coverage map for
// name, into the unified map, allocating the unified map on first call
// sized to sourceMap's size. Later merges of a different size are rejected
// (logged via warn) per spec.md §4.5/§9's size-monotonicity rule, except
// that a strictly larger later size upgrades the recorded map.
func (d *DesiredSymbols) Merge(name string, sourceMap *coverage.Map, warn func(string)) {
	sym := d.symbols[name]
	if sym == nil {
		return
	}

	if sym.UnifiedMap == nil {
		sym.UnifiedMap = coverage.NewMap(sourceMap.Size())
		sym.sourceSize = sourceMap.Size()
	}

	if sourceMap.Size() != sym.sourceSize {
		if sourceMap.Size() > sym.sourceSize {
			sym.UnifiedMap.Resize(sourceMap.Size())
			sym.sourceSize = sourceMap.Size()
		} else {
			if warn != nil {
				warn(fmt.Sprintf("symboltable: symbol %q merged with smaller size (%d < %d), ignoring merge", name, sourceMap.Size(), sym.sourceSize))
			}
			return
		}
	}

	sym.UnifiedMap.MergeFrom(sourceMap)
}

// Unreferenced returns the names of desired symbols whose UnifiedMap is
// still nil, i.e. symbols selected for analysis but never observed in any
// Executable (spec.md §3's Symbol invariant, surfaced via the "not
// referenced" report, §4.9).
func (d *DesiredSymbols) Unreferenced() []string {
	var out []string
	for _, n := range d.order {
		if d.symbols[n].UnifiedMap == nil {
			out = append(out, n)
		}
	}
	return out
}
