package trace

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/rtems-tools/covoar/internal/target"
)

// LogBlock is one "IN:" execution block parsed from a QEMU textual log:
// the address of its first instruction and of its last, plus whether the
// last instruction is a branch.
type LogBlock struct {
	StartPC      uint64
	LastAddr     uint64
	LastIsBranch bool
}

var logInstrRE = regexp.MustCompile(`^0x([0-9a-fA-F]+):\s+[0-9a-fA-F]+\s+(\S+)`)

// ParseQEMULog reads consecutive "IN:" blocks from a QEMU textual log file.
// Each block lists an execution trace starting at a PC with instruction
// disassembly; only the first and last instruction addresses (and whether
// the last is a branch) are retained, per spec.md §4.6.
func ParseQEMULog(r io.Reader, profile *target.Profile) ([]LogBlock, error) {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var blocks []LogBlock
	var curStart uint64
	var curLast uint64
	var curLastBranch bool
	inBlock := false
	haveInstr := false

	flush := func() {
		if inBlock && haveInstr {
			blocks = append(blocks, LogBlock{StartPC: curStart, LastAddr: curLast, LastIsBranch: curLastBranch})
		}
		inBlock = false
		haveInstr = false
	}

	for scan.Scan() {
		line := scan.Text()
		trimmed := strings.TrimSpace(line)

		if trimmed == "IN:" {
			flush()
			inBlock = true
			continue
		}

		if !inBlock {
			continue
		}

		m := logInstrRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		addr, err := strconv.ParseUint(m[1], 16, 64)
		if err != nil {
			continue
		}

		if !haveInstr {
			curStart = addr
			haveInstr = true
		}
		curLast = addr
		curLastBranch = profile.IsBranch(m[2])
	}
	flush()

	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("trace: scan QEMU log: %w", err)
	}

	return blocks, nil
}

// ClassifyQEMULog converts parsed LogBlocks into trace Blocks by comparing
// each block's fall-through successor (computed via next, the disassembly
// processor's next-instruction table) against the following block's start
// address: a match means branch_not_taken, a mismatch with a branching
// last instruction means branch_taken, otherwise other. Blocks whose
// fall-through address is unknown are discarded, as is the final block
// (which has no successor to compare against).
func ClassifyQEMULog(blocks []LogBlock, next func(addr uint64) (uint64, bool)) []Block {
	var out []Block
	for i := 0; i+1 < len(blocks); i++ {
		cur := blocks[i]
		following := blocks[i+1]

		fallthroughAddr, ok := next(cur.LastAddr)
		if !ok {
			continue
		}

		reason := ExitOther
		switch {
		case following.StartPC == fallthroughAddr:
			reason = ExitBranchNotTaken
		case cur.LastIsBranch:
			reason = ExitBranchTaken
		}

		out = append(out, Block{
			PC:     cur.StartPC,
			Size:   uint32(fallthroughAddr - cur.StartPC),
			Reason: reason,
		})
	}
	return out
}
