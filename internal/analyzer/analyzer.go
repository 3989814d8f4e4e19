// Package analyzer implements the Analyzer pipeline described in spec.md
// §4.7: preprocessing (marking branch/NOP bytes into each Symbol's unified
// coverage map), NOP coalescing during uncovered-range detection, the two
// uncovered sweeps (unexecuted-range and branch), per-Symbol and aggregate
// Statistics, and late source-line resolution.
package analyzer

import (
	"fmt"
	"sort"

	"github.com/rtems-tools/covoar/internal/coverage"
	"github.com/rtems-tools/covoar/internal/disasm"
	"github.com/rtems-tools/covoar/internal/symboltable"
)

// Reason classifies why a range of a Symbol's address space was reported
// uncovered.
type Reason int

const (
	ReasonNotExecuted Reason = iota
	ReasonBranchAlwaysTaken
	ReasonBranchNeverTaken
)

// String returns the reason tag used by reports and as the explanations
// lookup classification, matching spec.md §3's
// `{not_executed, branch_always_taken, branch_never_taken}`.
func (r Reason) String() string {
	switch r {
	case ReasonBranchAlwaysTaken:
		return "branch_always_taken"
	case ReasonBranchNeverTaken:
		return "branch_never_taken"
	default:
		return "not_executed"
	}
}

// UncoveredRange is one reported gap in a Symbol's coverage, with source
// lines resolved late (step 5 of the pipeline).
type UncoveredRange struct {
	ID               int
	Symbol           string
	LowAddress       uint64
	HighAddress      uint64
	Reason           Reason
	InstructionCount int
	LowSourceLine    string
	HighSourceLine   string
}

// Statistics are the per-Symbol and per-set aggregate counters from
// spec.md §3's Statistics definition. Aggregation is plain field-wise
// summation, so callers can sum an arbitrary subset of per-Symbol
// Statistics to get any aggregate they need.
type Statistics struct {
	SizeInBytes           uint64
	SizeInInstructions    int
	UncoveredBytes        uint64
	UncoveredInstructions int
	UncoveredRanges       int
	BranchesFound         int
	BranchesExecuted      int
	BranchesNotExecuted   int
	BranchesAlwaysTaken   int
	BranchesNeverTaken    int
	UnreferencedSymbols   int
}

// Add accumulates o's fields into s, field-wise.
func (s *Statistics) Add(o Statistics) {
	s.SizeInBytes += o.SizeInBytes
	s.SizeInInstructions += o.SizeInInstructions
	s.UncoveredBytes += o.UncoveredBytes
	s.UncoveredInstructions += o.UncoveredInstructions
	s.UncoveredRanges += o.UncoveredRanges
	s.BranchesFound += o.BranchesFound
	s.BranchesExecuted += o.BranchesExecuted
	s.BranchesNotExecuted += o.BranchesNotExecuted
	s.BranchesAlwaysTaken += o.BranchesAlwaysTaken
	s.BranchesNeverTaken += o.BranchesNeverTaken
	s.UnreferencedSymbols += o.UnreferencedSymbols
}

// SymbolResult is one analyzed Symbol's uncovered ranges and statistics.
type SymbolResult struct {
	Name            string
	BaseAddress     uint64
	Stats           Statistics
	UncoveredRanges []*UncoveredRange
}

// Result is the full output of one analyzer Run: one SymbolResult per
// desired Symbol (in DesiredSymbols.Names order, per spec.md §5's
// ordering guarantee) plus the set-wide aggregate.
type Result struct {
	Symbols   []*SymbolResult
	Aggregate Statistics
}

// SourceFor resolves an absolute address belonging to symbol name to a
// "file:line" source location, as the owning Executable's DWARF reader
// would (internal/elfreader.Reader.SourceFor). Errors are tolerated:
// source resolution failures are warned, not fatal (spec.md §4.7 step 5
// does not specify failure handling, so this follows spec.md §9's general
// "degrade, warn, continue" posture used elsewhere in the pipeline).
type SourceFunc func(symbol string, addr uint64) (file string, line int, err error)

// Analyzer runs the pipeline over one DesiredSymbols registry.
type Analyzer struct {
	Desired      *symboltable.DesiredSymbols
	Instructions map[string][]disasm.Instruction
	SourceFor    SourceFunc
	Warn         func(string)

	nextID int
}

func (a *Analyzer) warn(msg string) {
	if a.Warn != nil {
		a.Warn(msg)
	}
}

// Run executes the full pipeline: preprocess, compute uncovered
// ranges/branches with NOP coalescing, tally statistics, resolve source
// lines.
func (a *Analyzer) Run() *Result {
	result := &Result{}

	for _, name := range a.Desired.Names() {
		sym := a.Desired.Get(name)
		if sym.UnifiedMap == nil {
			result.Symbols = append(result.Symbols, &SymbolResult{Name: name})
			result.Aggregate.UnreferencedSymbols++
			continue
		}

		insts := a.Instructions[name]
		a.preprocess(sym, insts)

		ranges := a.computeUncovered(name, sym)
		stats := a.tally(sym, insts, ranges)

		result.Symbols = append(result.Symbols, &SymbolResult{
			Name:            name,
			BaseAddress:     sym.BaseAddress,
			Stats:           stats,
			UncoveredRanges: ranges,
		})
		result.Aggregate.Add(stats)
	}

	return result
}

// preprocess marks each instruction's start-of-instruction, branch, and
// NOP flags into the Symbol's unified map, offset from the Symbol's base
// address (spec.md §4.7 step 1).
func (a *Analyzer) preprocess(sym *symboltable.Symbol, insts []disasm.Instruction) {
	m := sym.UnifiedMap
	for _, inst := range insts {
		if inst.Address < sym.BaseAddress {
			continue
		}
		off := inst.Address - sym.BaseAddress
		m.MarkStartOfInstruction(off)
		if inst.IsBranch {
			m.SetIsBranch(off)
		}
		if inst.IsNop {
			m.SetIsNop(off)
		}
	}
}

// computeUncovered runs the two sweeps from spec.md §4.7 step 3, with NOP
// coalescing (step 2) applied to the unexecuted-range sweep.
func (a *Analyzer) computeUncovered(name string, sym *symboltable.Symbol) []*UncoveredRange {
	bytes := sym.UnifiedMap.Bytes()
	size := len(bytes)

	var ranges []*UncoveredRange

	i := 0
	for i < size {
		if bytes[i].ExecutedCount > 0 {
			i++
			continue
		}
		start := i
		for i < size && bytes[i].ExecutedCount == 0 {
			i++
		}
		end := i - 1

		if isCoalescableNopRun(bytes, start, end, size) {
			continue
		}

		instrCount := 0
		for b := start; b <= end; b++ {
			if bytes[b].IsStartOfInstruction {
				instrCount++
			}
		}

		ranges = append(ranges, a.newRange(name, sym, uint64(start), uint64(end), ReasonNotExecuted, instrCount))
	}

	for b := 0; b < size; b++ {
		if !bytes[b].IsStartOfInstruction || !bytes[b].IsBranch {
			continue
		}
		high := b
		for high+1 < size && !bytes[high+1].IsStartOfInstruction {
			high++
		}

		taken := bytes[b].TakenCount > 0
		notTaken := bytes[b].NotTakenCount > 0
		switch {
		case taken && !notTaken:
			ranges = append(ranges, a.newRange(name, sym, uint64(b), uint64(high), ReasonBranchAlwaysTaken, 1))
		case notTaken && !taken:
			ranges = append(ranges, a.newRange(name, sym, uint64(b), uint64(high), ReasonBranchNeverTaken, 1))
		}
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].LowAddress < ranges[j].LowAddress })
	return ranges
}

// isCoalescableNopRun reports whether [start,end] is a run of bytes
// bounded on both sides by executed bytes (so it is not the symbol's
// leading or trailing edge) whose every instruction start is a NOP, per
// spec.md §4.7 step 2.
func isCoalescableNopRun(bytes []coverage.PerByteInfo, start, end, size int) bool {
	if start == 0 || end == size-1 {
		return false
	}
	for i := start; i <= end; i++ {
		if bytes[i].IsStartOfInstruction && !bytes[i].IsNop {
			return false
		}
	}
	return true
}

func (a *Analyzer) newRange(name string, sym *symboltable.Symbol, low, high uint64, reason Reason, instrCount int) *UncoveredRange {
	a.nextID++
	lowAbs := sym.BaseAddress + low
	highAbs := sym.BaseAddress + high

	r := &UncoveredRange{
		ID:               a.nextID,
		Symbol:           name,
		LowAddress:       lowAbs,
		HighAddress:      highAbs,
		Reason:           reason,
		InstructionCount: instrCount,
	}

	if a.SourceFor == nil {
		return r
	}
	if file, line, err := a.SourceFor(name, lowAbs); err == nil {
		r.LowSourceLine = fmt.Sprintf("%s:%d", file, line)
	} else {
		a.warn(fmt.Sprintf("analyzer: source resolution failed for %s at %#x: %v", name, lowAbs, err))
	}
	if file, line, err := a.SourceFor(name, highAbs); err == nil {
		r.HighSourceLine = fmt.Sprintf("%s:%d", file, line)
	} else {
		a.warn(fmt.Sprintf("analyzer: source resolution failed for %s at %#x: %v", name, highAbs, err))
	}
	return r
}

// tally computes Statistics for one Symbol (spec.md §4.7 step 4). Unlike
// the reported UncoveredRanges, UncoveredBytes/UncoveredInstructions count
// raw executed_count==0 bytes, uncoalesced, matching the invariant in
// spec.md §8 ("uncovered_bytes + covered_bytes == size_in_bytes, where
// covered_bytes = count of addresses with executed_count > 0").
func (a *Analyzer) tally(sym *symboltable.Symbol, insts []disasm.Instruction, ranges []*UncoveredRange) Statistics {
	bytes := sym.UnifiedMap.Bytes()

	var stats Statistics
	stats.SizeInBytes = uint64(len(bytes))
	stats.SizeInInstructions = len(insts)

	var covered uint64
	for _, b := range bytes {
		if b.ExecutedCount > 0 {
			covered++
		}
		if b.IsStartOfInstruction {
			if b.ExecutedCount == 0 {
				stats.UncoveredInstructions++
			}
			if b.IsBranch {
				stats.BranchesFound++
				if b.TakenCount > 0 || b.NotTakenCount > 0 {
					stats.BranchesExecuted++
				}
			}
		}
	}
	stats.UncoveredBytes = stats.SizeInBytes - covered
	stats.BranchesNotExecuted = stats.BranchesFound - stats.BranchesExecuted

	for _, r := range ranges {
		switch r.Reason {
		case ReasonNotExecuted:
			stats.UncoveredRanges++
		case ReasonBranchAlwaysTaken:
			stats.BranchesAlwaysTaken++
		case ReasonBranchNeverTaken:
			stats.BranchesNeverTaken++
		}
	}

	return stats
}
