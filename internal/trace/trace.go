// Package trace implements the Trace Reader component (spec.md §4.6): one
// concrete reader per trace file format, dispatched by a string format tag
// per the "tagged variants with a small common trait" guidance in §9
// (directly grounded on the teacher's strToProgType string->constructor
// table in cmd/coverbee/main.go), plus the binary-block writer used to
// convert textual logs.
package trace

import (
	"fmt"

	"github.com/rtems-tools/covoar/internal/coverage"
	"github.com/rtems-tools/covoar/internal/symboltable"
	"github.com/rtems-tools/covoar/internal/target"
)

// ExitReason classifies why a block of execution ended.
type ExitReason int

const (
	ExitOther ExitReason = iota
	ExitBranchTaken
	ExitBranchNotTaken
)

// Block is one trace block record: a contiguous run of executed bytes
// starting at PC with a single exit outcome (spec.md Glossary, "Block
// record").
type Block struct {
	PC     uint64
	Size   uint32
	Reason ExitReason
}

// Format names one of the supported trace formats (spec.md §6 -f flag).
type Format string

const (
	FormatQEMU    Format = "QEMU"
	FormatRTEMS   Format = "RTEMS"
	FormatTSIM    Format = "TSIM"
	FormatSkyeye  Format = "Skyeye"
	FormatQEMULog Format = "QEMU-log"
)

// Dispatch owns everything needed to stamp a Block into the right
// Executable's coverage maps: the address->symbol table, the per-symbol
// coverage maps of one Executable (pre-merge), the target profile (for the
// taken/not-taken opcode bits), and a warn sink for dropped/overshooting
// records.
type Dispatch struct {
	Table   *symboltable.Table
	Maps    map[string]*coverage.Map
	Profile *target.Profile
	Warn    func(string)
}

// Apply stamps one Block into the matching symbol's coverage map: marks
// every byte in [PC, PC+Size-1] executed, and if the reason is a branch
// outcome, walks back from the last byte to the last start-of-instruction
// and records taken/not-taken there. A record whose end falls outside the
// symbol range it starts in is dropped with a diagnostic (spec.md §8
// boundary behavior).
func (d *Dispatch) Apply(b Block) {
	if b.Size == 0 {
		return
	}

	name, ok := d.Table.Lookup(b.PC)
	if !ok {
		d.warn(fmt.Sprintf("trace: pc %#x matches no known symbol, dropping record", b.PC))
		return
	}

	low, high, ok := d.Table.Range(name)
	if !ok {
		return
	}

	endAddr := b.PC + uint64(b.Size) - 1
	if endAddr > high || b.PC < low {
		d.warn(fmt.Sprintf("trace: record [%#x,%#x] overruns symbol %q range [%#x,%#x], dropping", b.PC, endAddr, name, low, high))
		return
	}

	m := d.Maps[name]
	if m == nil {
		d.warn(fmt.Sprintf("trace: no coverage map allocated for symbol %q, dropping record", name))
		return
	}

	offsetBase := low
	for a := b.PC; a <= endAddr; a++ {
		m.RecordExecuted(a - offsetBase)
	}

	switch b.Reason {
	case ExitBranchTaken:
		instrStart := m.BeginningOfInstruction(endAddr - offsetBase)
		m.RecordTaken(instrStart)
	case ExitBranchNotTaken:
		instrStart := m.BeginningOfInstruction(endAddr - offsetBase)
		m.RecordNotTaken(instrStart)
	}
}

func (d *Dispatch) warn(msg string) {
	if d.Warn != nil {
		d.Warn(msg)
	}
}

// ReasonFromOp classifies a raw binary-format opcode byte using the
// target's taken/not-taken bit values.
func ReasonFromOp(op uint8, profile *target.Profile) ExitReason {
	switch {
	case op&profile.TakenBit() != 0:
		return ExitBranchTaken
	case op&profile.NotTakenBit() != 0:
		return ExitBranchNotTaken
	default:
		return ExitOther
	}
}
