// Package disasm implements the Disassembly Processor (spec.md §4.3): for
// each Executable it runs the target's objdump-equivalent and scans the
// output with a small line-classifying state machine, producing an ordered
// instruction stream per desired symbol plus a global sorted
// instruction-address table.
//
// The scanning shape (classify a line, accumulate into a current record,
// flush on a boundary) is adapted from the teacher's
// pkg/verifierlog.ParseVerifierLog / MergedPerInstruction, which does the
// same thing for eBPF verifier-log lines instead of objdump lines.
package disasm

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/rtems-tools/covoar/internal/target"
	"github.com/rtems-tools/covoar/internal/tempfile"
)

// Instruction is a single disassembled line associated with one Symbol.
type Instruction struct {
	Text          string
	Address       uint64
	IsInstruction bool
	IsNop         bool
	NopSize       int
	IsBranch      bool
}

// Symbol is the disassembly-side view of one desired symbol: its base
// address, its ordered instruction stream, and the (possibly NOP-trimmed)
// high address of its last instruction.
type Symbol struct {
	Name        string
	BaseAddress uint64
	HighAddress uint64
	Instructions []Instruction
}

// Result is the output of processing one executable's objdump text: the
// per-symbol disassembly and the global sorted instruction-address table
// used for O(log n) "next instruction" queries.
type Result struct {
	Symbols        map[string]*Symbol
	sortedAddrs    []uint64
}

// NextInstructionAddress returns the smallest recorded instruction address
// strictly greater than addr, and whether one exists. This backs the
// QEMU-log trace reader's fall-through computation (spec.md §4.6).
func (r *Result) NextInstructionAddress(addr uint64) (uint64, bool) {
	idx := sort.Search(len(r.sortedAddrs), func(i int) bool { return r.sortedAddrs[i] > addr })
	if idx < len(r.sortedAddrs) {
		return r.sortedAddrs[idx], true
	}
	return 0, false
}

var (
	symbolHeaderRE = regexp.MustCompile(`^([0-9a-fA-F]+)\s+<([^>]+)>:\s*$`)
	instructionRE  = regexp.MustCompile(`^\s*([0-9a-fA-F]+):\t`)
)

type lineKind int

const (
	lineOther lineKind = iota
	lineSymbolHeader
	lineInstruction
)

func classify(line string) (kind lineKind, addr uint64, symbolName string) {
	if m := symbolHeaderRE.FindStringSubmatch(line); m != nil {
		a, err := strconv.ParseUint(m[1], 16, 64)
		if err == nil {
			return lineSymbolHeader, a, m[2]
		}
	}
	if m := instructionRE.FindStringSubmatch(line); m != nil {
		a, err := strconv.ParseUint(m[1], 16, 64)
		if err == nil {
			return lineInstruction, a, ""
		}
	}
	return lineOther, 0, ""
}

// Process scans objdump's text output and builds the per-symbol
// disassembly for every symbol for which desired returns true.
func Process(objdumpOutput string, desired func(name string) bool, profile *target.Profile, warn func(string)) *Result {
	result := &Result{Symbols: make(map[string]*Symbol)}

	scan := bufio.NewScanner(strings.NewReader(objdumpOutput))
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		collecting bool
		curName    string
		curStart   uint64
		curLines   []Instruction
	)

	// finalize closes out the symbol currently being collected. highAddr
	// is its end PC before trailing-NOP trimming: the address of the byte
	// immediately preceding the next symbol header, or (at EOF) the start
	// address of its own last instruction, on the assumption that
	// instruction is one byte long (spec.md §4.3 finalization).
	finalize := func(highAddr uint64) {
		if !collecting {
			return
		}
		trimmedHigh := trimTrailingNops(&curLines, highAddr)
		if len(curLines) == 0 {
			collecting = false
			return
		}

		sym := &Symbol{
			Name:         curName,
			BaseAddress:  curStart,
			HighAddress:  trimmedHigh,
			Instructions: curLines,
		}
		for _, inst := range curLines {
			result.sortedAddrs = append(result.sortedAddrs, inst.Address)
		}
		result.Symbols[curName] = sym
		collecting = false
	}

	for scan.Scan() {
		line := scan.Text()
		kind, addr, name := classify(line)

		switch kind {
		case lineSymbolHeader:
			finalize(addr - 1)
			if desired(name) {
				collecting = true
				curName = name
				curStart = addr
				curLines = nil
			}

		case lineInstruction:
			if !collecting {
				continue
			}
			isBranch := profile.IsBranchLine(line, warn)
			nopSize, isNop := profile.IsNopLine(line)
			curLines = append(curLines, Instruction{
				Text:          line,
				Address:       addr,
				IsInstruction: true,
				IsNop:         isNop,
				NopSize:       nopSize,
				IsBranch:      isBranch,
			})

		default:
			// Neither a header nor an instruction line; ignored per the
			// state machine in spec.md §4.3 ("on ... or on EOF -> finalize
			// current if any" — anything else simply doesn't transition).
		}
	}
	if collecting && len(curLines) > 0 {
		if warn != nil {
			warn(fmt.Sprintf("disasm: %s is the last symbol in the file; assuming its last instruction is 1 byte", curName))
		}
		finalize(curLines[len(curLines)-1].Address)
	} else {
		finalize(0)
	}

	sort.Slice(result.sortedAddrs, func(i, j int) bool { return result.sortedAddrs[i] < result.sortedAddrs[j] })
	result.sortedAddrs = slices.Compact(result.sortedAddrs)

	return result
}

// trimTrailingNops strips any trailing block of NOP-only instructions from
// lines, per spec.md §4.3's finalization step ("strip any trailing block of
// NOP-only instructions ... shrinking the end PC accordingly"): each
// trimmed NOP's size is subtracted from highAddr, so the returned value is
// the symbol's true end PC once the padding is removed.
func trimTrailingNops(lines *[]Instruction, highAddr uint64) uint64 {
	l := *lines
	end := len(l)
	for end > 0 && l[end-1].IsNop {
		highAddr -= uint64(l[end-1].NopSize)
		end--
	}
	*lines = l[:end]
	return highAddr
}

// RunObjdump invokes the target's objdump-equivalent against exePath,
// capturing combined stdout/stderr through a scoped temporary file, and
// returns the captured text disassembly. This is the disassembler
// subprocess referenced by spec.md §4.3/§5 ("invoking the target's
// objdump-equivalent through a captured temporary").
func RunObjdump(tm *tempfile.Manager, objdumpPath, exePath string) (string, error) {
	out, err := tm.Acquire("covoar-objdump-*.txt")
	if err != nil {
		return "", fmt.Errorf("disasm: acquire temp file: %w", err)
	}
	defer out.Release()

	cmd := exec.Command(objdumpPath, "-d", "-S", exePath)
	cmd.Stdout = out.File
	cmd.Stderr = out.File

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("disasm: run %s: %w", objdumpPath, err)
	}

	data, err := os.ReadFile(out.Name())
	if err != nil {
		return "", fmt.Errorf("disasm: read captured output: %w", err)
	}
	return string(data), nil
}
