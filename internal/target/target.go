// Package target implements the Target Profile component (spec.md §4.1):
// a fixed, per-architecture table of conditional-branch mnemonics, a NOP
// recognizer, and the two trace opcode bits denoting "branch taken" and
// "branch not taken". It is selected once by tag at the top-level command
// boundary (spec.md §9, "process-wide singletons ... re-architected as an
// explicit context value") and treated as immutable thereafter.
//
// Grounded on original_source/tester/covoar/TargetBase.{h,cc} and the eight
// Target_<arch>.cc files it dispatches to; the string-tag -> constructor
// table idiom mirrors the teacher's strToProgType map in instrumentation.go.
package target

import (
	"fmt"
	"strings"
)

// Tag names one of the fixed set of supported instruction-set architectures.
type Tag string

const (
	AArch64 Tag = "aarch64"
	ARM     Tag = "arm"
	I386    Tag = "i386"
	LM32    Tag = "lm32"
	M68K    Tag = "m68k"
	PowerPC Tag = "powerpc"
	RISCV   Tag = "riscv"
	SPARC   Tag = "sparc"
)

// Trace opcode bits a binary-block trace record's op byte may carry
// (spec.md §6 "op bits include ... the two branch-outcome bits defined by
// the target profile"). The bit values themselves are architecture
// invariant; which bit means "taken" vs "not taken" is not.
const (
	br0 uint8 = 1 << 0
	br1 uint8 = 1 << 1
)

// swappedBR is the set of architectures whose taken/not-taken meaning of
// the two BR bits is swapped relative to the base assignment
// (taken=br0, not_taken=br1). Cross-checked against
// original_source/tester/covoar/Target_aarch64.cc, Target_i386.cc and
// Target_m68k.cc, each of which overrides TargetBase's qemuTakenBit /
// qemuNotTakenBit to return (br1, br0); Target_sparc.cc (and every other
// architecture, which does not override the pair) keeps the base
// (br0, br1) assignment.
var swappedBR = map[Tag]bool{
	AArch64: true,
	I386:    true,
	M68K:    true,
}

// nopRecognizer reports whether a disassembly line ends in this target's
// NOP spelling, and if so its size in bytes.
type nopRecognizer func(line string) (size int, ok bool)

// Profile is the immutable per-process target profile: branch mnemonics,
// NOP recognition, the trace taken/not-taken bits, and companion tool names
// for one architecture.
type Profile struct {
	tag             Tag
	branchMnemonics map[string]bool
	isNopLine       nopRecognizer
	takenBit        uint8
	notTakenBit     uint8

	// ObjdumpTool and Addr2lineTool are the companion disassembler/symbolizer
	// program names (spec.md §4.1 "companion tool names"), grounded on
	// TargetBase::TargetBase's derivation of objdump_m/addr2line_m from the
	// target name: a cross-toolchain prefix ("arm-rtems6-") up to and
	// including the first '-' is kept verbatim and "objdump"/"addr2line" is
	// appended; a bare tag with no '-' (the tag form ForTag accepts) yields
	// the unprefixed host tool name.
	ObjdumpTool   string
	Addr2lineTool string
}

// Tags returns the fixed set of supported target tags, in the order listed
// by spec.md §4.1, for use in usage/help text.
func Tags() []string {
	return []string{
		string(AArch64), string(ARM), string(I386), string(LM32),
		string(M68K), string(PowerPC), string(RISCV), string(SPARC),
	}
}

// ForTag builds the Profile for tag, or an error if tag names no known
// architecture.
func ForTag(tag string) (*Profile, error) {
	t := Tag(tag)
	mnemonics, ok := branchTables[t]
	if !ok {
		return nil, fmt.Errorf("target: unknown target tag %q (want one of: %s)", tag, strings.Join(Tags(), ", "))
	}

	p := &Profile{
		tag:             t,
		branchMnemonics: mnemonics,
		isNopLine:       nopTables[t],
		takenBit:        br0,
		notTakenBit:     br1,
		ObjdumpTool:     "objdump",
		Addr2lineTool:   "addr2line",
	}
	if swappedBR[t] {
		p.takenBit, p.notTakenBit = br1, br0
	}
	return p, nil
}

// Tag returns the architecture tag this profile was built for.
func (p *Profile) Tag() string { return string(p.tag) }

// TakenBit returns the binary-trace op bit meaning "branch taken" for this
// architecture (spec.md §4.1, §6).
func (p *Profile) TakenBit() uint8 { return p.takenBit }

// NotTakenBit returns the binary-trace op bit meaning "branch not taken".
func (p *Profile) NotTakenBit() uint8 { return p.notTakenBit }

// IsBranch reports whether mnemonic is a conditional-branch instruction for
// this architecture. Architectures whose branch table was never populated
// upstream (i386, lm32) always report false rather than raising an error,
// so that an unrecognized instruction set degrades to "no branches found"
// instead of aborting the run.
func (p *Profile) IsBranch(mnemonic string) bool {
	return p.branchMnemonics[mnemonic]
}

// IsNopLine reports whether line's disassembly matches this architecture's
// NOP (or NOP-equivalent padding) shapes, and if so the instruction's size
// in bytes.
func (p *Profile) IsNopLine(line string) (size int, ok bool) {
	if p.isNopLine == nil {
		return 0, false
	}
	return p.isNopLine(line)
}

// IsBranchLine extracts the mnemonic token from an objdump instruction line
// and applies IsBranch to it. Per spec.md §4.1, the mnemonic is the third
// tab-delimited token of the line ("<hex>:\t<bytes>\t<mnemonic ...>"); a
// malformed line (fewer than three tab-delimited fields) logs a warning
// through warn and returns false.
func (p *Profile) IsBranchLine(line string, warn func(string)) bool {
	fields := strings.SplitN(line, "\t", 3)
	if len(fields) < 3 {
		if warn != nil {
			warn(fmt.Sprintf("target: isBranchLine - unable to find instruction in: %s", line))
		}
		return false
	}

	rest := strings.TrimLeft(fields[2], " ")
	end := strings.IndexAny(rest, " \t")
	var mnemonic string
	if end < 0 {
		mnemonic = rest
	} else {
		mnemonic = rest[:end]
	}
	if mnemonic == "" {
		if warn != nil {
			warn(fmt.Sprintf("target: isBranchLine - unable to find instruction in: %s", line))
		}
		return false
	}

	return p.IsBranch(mnemonic)
}

func mnemonicSet(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// branchTables holds the fixed per-architecture conditional-branch mnemonic
// sets, grounded on each Target_<arch>.cc's conditionalBranchInstructions
// list. i386 and lm32 never had a branch table populated upstream; they are
// listed here with an empty set so ForTag still recognizes the tag (per
// spec.md's "fixed set of tags") while IsBranch correctly reports no
// branches for either.
var branchTables = map[Tag]map[string]bool{
	AArch64: mnemonicSet(
		"b.eq", "b.ne", "b.cs", "b.hs", "b.cc", "b.lo", "b.mi", "b.pl",
		"b.vs", "b.vc", "b.hi", "b.ls", "b.ge", "b.lt", "b.gt", "b.le",
		"cbz", "cbnz", "tbz", "tbnz",
	),
	ARM: mnemonicSet(
		"bcc", "bcs", "beq", "bge", "bgt", "bhi", "bl-hi", "bl-lo",
		"ble", "bls", "blt", "bmi", "bne", "bpl", "bvc", "bvs",
	),
	I386: mnemonicSet(),
	LM32: mnemonicSet(),
	M68K: mnemonicSet(
		"bcc", "bccs", "bccl", "bcs", "bcss", "bcsl",
		"beq", "beqs", "beql", "bge", "bges", "bgel",
		"bgt", "bgts", "bgtl", "bhi", "bhis", "bhil",
		"bhs", "bhss", "bhsl", "ble", "bles", "blel",
		"blo", "blos", "blol", "bls", "blss", "blsl",
		"blt", "blts", "bltl", "bmi", "bmis", "bmil",
		"bne", "bnes", "bnel", "bpl", "bpls", "bpll",
		"bvc", "bvcs", "bvcl", "bvs", "bvss", "bvsl",
	),
	PowerPC: mnemonicSet(
		"beq", "beq+", "beq-", "bne", "bne+", "bne-",
		"bge", "bge+", "bge-", "bgt", "bgt+", "bgt-",
		"ble", "ble+", "ble-", "blt", "blt+", "blt-",
		"bla", "bc", "bca", "bcl", "bcla",
		"bcctr", "bcctrl", "bclr", "bclrl",
	),
	RISCV: mnemonicSet(
		"beqz", "bnez", "blez", "bgez", "bltz",
		"bgt", "bgtz", "ble", "bgtu", "bleu",
		"beq", "bne", "blt", "bge", "bltu", "bgeu",
	),
	SPARC: mnemonicSet(
		"bn", "bn,a", "be", "be,a", "ble", "ble,a", "bl", "bl,a",
		"bleu", "bleu,a", "bcs", "bcs,a", "bneg", "bneg,a",
		"bvs", "bvs,a", "ba", "ba,a", "bne", "bne,a",
		"bg", "bg,a", "bge", "bge,a", "bgu", "bgu,a",
		"bcc", "bcc,a", "bpos", "bpos,a", "bvc", "bvc,a",
	),
}

func hasSuffix(line, suffix string) bool {
	return len(line) >= len(suffix) && line[len(line)-len(suffix):] == suffix
}

// nopTables holds the fixed per-architecture NOP recognizers, grounded on
// each Target_<arch>.cc's isNopLine.
var nopTables = map[Tag]nopRecognizer{
	AArch64: func(line string) (int, bool) {
		switch {
		case hasSuffix(line, "nop"):
			return 4, true
		case hasSuffix(line, "udf"):
			return 4, true
		case hasSuffix(line, ".byte"):
			return 1, true
		case hasSuffix(line, ".short"):
			return 2, true
		case hasSuffix(line, ".word"):
			return 4, true
		}
		return 0, false
	},
	ARM: func(line string) (int, bool) {
		switch {
		case hasSuffix(line, "nop"):
			return 4, true
		case hasSuffix(line, ".byte"):
			return 1, true
		case hasSuffix(line, ".short"):
			return 2, true
		case hasSuffix(line, ".word"):
			return 4, true
		}
		return 0, false
	},
	I386: func(line string) (int, bool) {
		switch {
		case hasSuffix(line, "nop"):
			return 1, true
		case hasSuffix(line, "xchg   %ax,%ax"):
			return 2, true
		case hasSuffix(line, "xor    %eax,%eax"):
			return 2, true
		case hasSuffix(line, "xor    %ebx,%ebx"):
			return 2, true
		case hasSuffix(line, "xor    %esi,%esi"):
			return 2, true
		case hasSuffix(line, "lea    0x0(%esi),%esi"):
			return 3, true
		}
		return 0, false
	},
	LM32: func(line string) (int, bool) {
		if hasSuffix(line, "nop") {
			return 4, true
		}
		return 0, false
	},
	M68K: func(line string) (int, bool) {
		if hasSuffix(line, "nop") {
			return 2, true
		}
		// Until binutils 2.20, the linker filled alignment with rts, not
		// nop (Target_m68k.cc, GNU_LD_FILLS_ALIGNMENT_WITH_RTS).
		if hasSuffix(line, "rts") {
			return 4, true
		}
		return 0, false
	},
	PowerPC: func(line string) (int, bool) {
		if hasSuffix(line, "nop") {
			return 4, true
		}
		return 0, false
	},
	RISCV: func(line string) (int, bool) {
		if hasSuffix(line, "nop") {
			return 4, true
		}
		return 0, false
	},
	SPARC: func(line string) (int, bool) {
		switch {
		case hasSuffix(line, "nop"):
			return 4, true
		case hasSuffix(line, "unknown"):
			return 4, true
		case hasSuffix(line, "rts"):
			return 4, true
		}
		return 0, false
	},
}
