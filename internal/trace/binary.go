package trace

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rtems-tools/covoar/internal/target"
)

// binaryMagic is the fixed 12-byte magic at the start of every binary-block
// trace file (spec.md §6).
const binaryMagic = "#QEMU-Traces"

// maxBatchRecords bounds how many fixed-width records are read per batch,
// matching spec.md §4.6's "read in blocks of up to 1024 records for
// throughput".
const maxBatchRecords = 1024

const binaryRecordSize = 8 // u32 pc, u16 size, u8 op, u8 pad

// BinaryHeader is the fixed 24-byte header of a binary-block trace file.
type BinaryHeader struct {
	Version   uint32
	Kind      uint8
	PCSize    uint8 // bits, typically 32 or 64
	BigEndian bool
	Machine   uint16
}

// BinaryRecord is one fixed-width binary-block trace record. Op's bits
// carry the block marker and the two target-specific branch-outcome bits.
type BinaryRecord struct {
	PC   uint32
	Size uint16
	Op   uint8
}

// WriteBinaryTrace writes header and records in the exact byte layout
// described in spec.md §6, so that textual logs converted through this
// writer and read back produce bit-identical files (the trace round-trip
// testable property in §8).
func WriteBinaryTrace(w io.Writer, h BinaryHeader, records []BinaryRecord) error {
	buf := make([]byte, 24)
	copy(buf[0:12], binaryMagic)
	binary.LittleEndian.PutUint32(buf[12:16], h.Version)
	buf[16] = h.Kind
	buf[17] = h.PCSize
	if h.BigEndian {
		buf[18] = 1
	}
	binary.LittleEndian.PutUint16(buf[19:21], h.Machine)
	// buf[21:24] left zero: padding.

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("trace: write header: %w", err)
	}

	rbuf := make([]byte, binaryRecordSize)
	for _, r := range records {
		binary.LittleEndian.PutUint32(rbuf[0:4], r.PC)
		binary.LittleEndian.PutUint16(rbuf[4:6], r.Size)
		rbuf[6] = r.Op
		rbuf[7] = 0
		if _, err := w.Write(rbuf); err != nil {
			return fmt.Errorf("trace: write record: %w", err)
		}
	}

	return nil
}

// ReadBinaryTrace parses a binary-block trace file, reading records in
// batches of up to maxBatchRecords for throughput (spec.md §4.6). Only
// 32-bit target PCs are supported, matching the record layout spec.md §6
// defines explicitly; any other PCSize is a format error.
func ReadBinaryTrace(r io.Reader) (BinaryHeader, []BinaryRecord, error) {
	hdr := make([]byte, 24)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return BinaryHeader{}, nil, fmt.Errorf("trace: read header: %w", err)
	}
	if string(hdr[0:12]) != binaryMagic {
		return BinaryHeader{}, nil, fmt.Errorf("trace: bad magic %q, expected %q", hdr[0:12], binaryMagic)
	}

	h := BinaryHeader{
		Version:   binary.LittleEndian.Uint32(hdr[12:16]),
		Kind:      hdr[16],
		PCSize:    hdr[17],
		BigEndian: hdr[18] != 0,
		Machine:   binary.LittleEndian.Uint16(hdr[19:21]),
	}

	if h.PCSize != 0 && h.PCSize != 32 {
		return h, nil, fmt.Errorf("trace: unsupported target PC size %d bits", h.PCSize)
	}

	var records []BinaryRecord
	batch := make([]byte, binaryRecordSize*maxBatchRecords)
	for {
		n, err := io.ReadFull(r, batch)
		if n > 0 {
			if n%binaryRecordSize != 0 {
				return h, nil, fmt.Errorf("trace: truncated record at byte offset %d", n)
			}
			for off := 0; off < n; off += binaryRecordSize {
				rec := batch[off : off+binaryRecordSize]
				records = append(records, BinaryRecord{
					PC:   binary.LittleEndian.Uint32(rec[0:4]),
					Size: binary.LittleEndian.Uint16(rec[4:6]),
					Op:   rec[6],
				})
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return h, nil, fmt.Errorf("trace: read records: %w", err)
		}
	}

	return h, records, nil
}

// BlocksFromBinary converts parsed binary records into Blocks, classifying
// each record's exit reason via the target profile's taken/not-taken bits.
func BlocksFromBinary(records []BinaryRecord, profile *target.Profile) []Block {
	out := make([]Block, 0, len(records))
	for _, r := range records {
		reason := ExitOther
		switch {
		case r.Op&profile.TakenBit() != 0:
			reason = ExitBranchTaken
		case r.Op&profile.NotTakenBit() != 0:
			reason = ExitBranchNotTaken
		}
		out = append(out, Block{PC: uint64(r.PC), Size: uint32(r.Size), Reason: reason})
	}
	return out
}
