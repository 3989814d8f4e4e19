package trace

import (
	"fmt"
	"io"

	"github.com/rtems-tools/covoar/internal/target"
)

// Read dispatches to the concrete reader named by format and returns the
// Blocks it produced. next is only consulted for FormatQEMULog (the
// fall-through/next-instruction table from the disassembly processor); it
// is ignored by every other format.
func Read(format Format, r io.Reader, profile *target.Profile, next func(addr uint64) (uint64, bool), warn func(string)) ([]Block, error) {
	switch format {
	case FormatQEMU:
		_, records, err := ReadBinaryTrace(r)
		if err != nil {
			return nil, err
		}
		return BlocksFromBinary(records, profile), nil

	case FormatRTEMS:
		_, blocks, err := ReadRTEMS(r)
		return blocks, err

	case FormatSkyeye:
		_, blocks, err := ReadSkyeye(r)
		return blocks, err

	case FormatTSIM:
		_, blocks, err := ReadTSIM(r, warn)
		return blocks, err

	case FormatQEMULog:
		logBlocks, err := ParseQEMULog(r, profile)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, fmt.Errorf("trace: QEMU-log format requires a next-instruction table")
		}
		return ClassifyQEMULog(logBlocks, next), nil

	default:
		return nil, fmt.Errorf("trace: unknown format %q", format)
	}
}
