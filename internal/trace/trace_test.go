package trace

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/rtems-tools/covoar/internal/coverage"
	"github.com/rtems-tools/covoar/internal/symboltable"
	"github.com/rtems-tools/covoar/internal/target"
)

func TestBinaryRoundTrip(t *testing.T) {
	h := BinaryHeader{Version: 1, Kind: 2, PCSize: 32, BigEndian: false, Machine: 40}
	records := []BinaryRecord{
		{PC: 0x100, Size: 8, Op: 0},
		{PC: 0x200, Size: 4, Op: 1},
	}

	var buf bytes.Buffer
	if err := WriteBinaryTrace(&buf, h, records); err != nil {
		t.Fatal(err)
	}

	gotH, gotRecords, err := ReadBinaryTrace(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if gotH != h {
		t.Errorf("header mismatch: got %+v, want %+v", gotH, h)
	}
	if len(gotRecords) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(gotRecords))
	}
	for i := range records {
		if gotRecords[i] != records[i] {
			t.Errorf("record %d mismatch: got %+v, want %+v", i, gotRecords[i], records[i])
		}
	}
}

func TestReadBinaryBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("not a valid trace file header at all!!!!")
	if _, _, err := ReadBinaryTrace(buf); err == nil {
		t.Errorf("expected error for bad magic")
	}
}

func TestBlocksFromBinaryClassifiesReasons(t *testing.T) {
	p, err := target.ForTag("arm")
	if err != nil {
		t.Fatal(err)
	}

	records := []BinaryRecord{
		{PC: 0x100, Size: 4, Op: p.TakenBit()},
		{PC: 0x200, Size: 4, Op: p.NotTakenBit()},
		{PC: 0x300, Size: 4, Op: 0},
	}

	blocks := BlocksFromBinary(records, p)
	if blocks[0].Reason != ExitBranchTaken {
		t.Errorf("expected taken, got %v", blocks[0].Reason)
	}
	if blocks[1].Reason != ExitBranchNotTaken {
		t.Errorf("expected not-taken, got %v", blocks[1].Reason)
	}
	if blocks[2].Reason != ExitOther {
		t.Errorf("expected other, got %v", blocks[2].Reason)
	}
}

// TestTargetProfileSymmetry checks the testable property from spec.md §8:
// swapping the taken/not-taken bits for a "normal" architecture should
// produce the same classification a "swapped" architecture produces
// natively for the same raw op byte.
func TestTargetProfileSymmetry(t *testing.T) {
	arm, _ := target.ForTag("arm")
	m68k, _ := target.ForTag("m68k")

	armTakenOp := arm.TakenBit()
	if ReasonFromOp(armTakenOp, arm) != ExitBranchTaken {
		t.Fatalf("arm should classify its own taken bit as taken")
	}
	if ReasonFromOp(armTakenOp, m68k) != ExitBranchNotTaken {
		t.Fatalf("m68k should classify arm's taken-bit value as not-taken (bits are swapped)")
	}
}

func TestDispatchApplyScenario1(t *testing.T) {
	// Scenario 1 from spec.md §8: one block covering all 8 bytes.
	table := symboltable.NewTable()
	table.Add("F", 0x100, 0x107, nil)

	m := coverage.NewMap(8)
	for _, a := range []uint64{0, 2, 4, 6} {
		m.MarkStartOfInstruction(a)
	}

	d := &Dispatch{
		Table:   table,
		Maps:    map[string]*coverage.Map{"F": m},
		Profile: mustARM(t),
	}

	d.Apply(Block{PC: 0x100, Size: 8, Reason: ExitOther})

	for a := uint64(0); a < 8; a++ {
		if !m.WasExecuted(a) {
			t.Fatalf("expected byte %d executed", a)
		}
	}
}

func TestDispatchApplyScenario2UncoveredGap(t *testing.T) {
	// Scenario 2: two partial blocks leave [0x102,0x103] unexecuted.
	table := symboltable.NewTable()
	table.Add("F", 0x100, 0x107, nil)

	m := coverage.NewMap(8)
	d := &Dispatch{Table: table, Maps: map[string]*coverage.Map{"F": m}, Profile: mustARM(t)}

	d.Apply(Block{PC: 0x100, Size: 2, Reason: ExitOther})
	d.Apply(Block{PC: 0x104, Size: 4, Reason: ExitOther})

	if m.WasExecuted(2) || m.WasExecuted(3) {
		t.Errorf("expected bytes 2,3 to remain unexecuted")
	}
	if !m.WasExecuted(0) || !m.WasExecuted(7) {
		t.Errorf("expected boundary bytes executed")
	}
}

func TestDispatchApplyDropsOvershoot(t *testing.T) {
	table := symboltable.NewTable()
	table.Add("F", 0x100, 0x107, nil)
	m := coverage.NewMap(8)

	var warnings []string
	d := &Dispatch{
		Table: table, Maps: map[string]*coverage.Map{"F": m}, Profile: mustARM(t),
		Warn: func(s string) { warnings = append(warnings, s) },
	}

	d.Apply(Block{PC: 0x104, Size: 8, Reason: ExitOther}) // overruns to 0x10b

	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v", warnings)
	}
	if m.WasExecuted(4) {
		t.Errorf("dropped record should not mutate any map")
	}
}

func TestReadRTEMS(t *testing.T) {
	// end-start=7, an exclusive byte count: payload is 7 bytes, not 8.
	hdr := makeTextHeader(t, 0x100, 0x107)
	payload := []byte{1, 1, 0, 0, 1, 1, 1}

	var buf bytes.Buffer
	buf.Write(hdr)
	buf.Write(payload)

	_, blocks, err := ReadRTEMS(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d: %+v", len(blocks), blocks)
	}
	if blocks[0].PC != 0x100 || blocks[0].Size != 2 {
		t.Errorf("unexpected first block: %+v", blocks[0])
	}
	if blocks[1].PC != 0x104 || blocks[1].Size != 3 {
		t.Errorf("unexpected second block: %+v", blocks[1])
	}
}

func TestReadSkyeye(t *testing.T) {
	// end-start=12, one cover byte per 8 address-bytes: 2 bytes.
	hdr := makeTextHeader(t, 0x200, 0x20c)
	// byte0 covers [0,7]: 0x01 -> [0,3] executed, [4,7] not (no 0x10 bit).
	// byte1 covers [8,15], clipped to the 4 addresses [8,11] that exist:
	// 0x01 -> [8,11] executed.
	payload := []byte{0x01, 0x01}

	var buf bytes.Buffer
	buf.Write(hdr)
	buf.Write(payload)

	_, blocks, err := ReadSkyeye(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d: %+v", len(blocks), blocks)
	}
	if blocks[0].PC != 0x200 || blocks[0].Size != 4 || blocks[0].Reason != ExitOther {
		t.Errorf("unexpected first block: %+v", blocks[0])
	}
	if blocks[1].PC != 0x208 || blocks[1].Size != 4 || blocks[1].Reason != ExitOther {
		t.Errorf("unexpected second block: %+v", blocks[1])
	}
}

func TestReadTSIMSkipsShortRuns(t *testing.T) {
	hdr := makeTextHeader(t, 0x100, 0x1ff)

	var body strings.Builder
	fmt.Fprintf(&body, "100 :")
	for i := 0; i < 32; i++ {
		word := 0
		switch i {
		case 0:
			word = 0x09 // executed, taken
		case 1:
			word = 0x11 // executed, not taken
		}
		fmt.Fprintf(&body, " %x", word)
	}
	body.WriteByte('\n')
	fmt.Fprintf(&body, "200 : 1 1") // short run: only 2 of 32 words

	var buf bytes.Buffer
	buf.Write(hdr)
	buf.WriteString(body.String())

	var warnings []string
	_, blocks, err := ReadTSIM(&buf, func(s string) { warnings = append(warnings, s) })
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 1 {
		t.Errorf("expected one warning for the short run, got %v", warnings)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks (short run skipped), got %d: %+v", len(blocks), blocks)
	}
	if blocks[0].PC != 0x100 || blocks[0].Size != 4 || blocks[0].Reason != ExitBranchTaken {
		t.Errorf("unexpected first block: %+v", blocks[0])
	}
	if blocks[1].PC != 0x104 || blocks[1].Size != 4 || blocks[1].Reason != ExitBranchNotTaken {
		t.Errorf("unexpected second block: %+v", blocks[1])
	}
	for _, b := range blocks {
		if b.PC >= 0x200 {
			t.Errorf("short run at 0x200 contributed a block: %+v", b)
		}
	}
}

func TestClassifyQEMULog(t *testing.T) {
	// block0 branches away from its fall-through address (to block1);
	// block1 falls straight through into block2; block2 has no successor
	// and is discarded entirely.
	blocks := []LogBlock{
		{StartPC: 0x100, LastAddr: 0x104, LastIsBranch: true},
		{StartPC: 0x200, LastAddr: 0x204, LastIsBranch: false},
		{StartPC: 0x208, LastAddr: 0x20c, LastIsBranch: false},
	}

	next := func(addr uint64) (uint64, bool) {
		switch addr {
		case 0x104:
			return 0x108, true // fall-through would have been 0x108, not 0x200
		case 0x204:
			return 0x208, true // fall-through matches block2's start
		}
		return 0, false
	}

	out := ClassifyQEMULog(blocks, next)
	if len(out) != 2 {
		t.Fatalf("expected 2 classified blocks (last has no successor), got %d", len(out))
	}
	if out[0].Reason != ExitBranchTaken {
		t.Errorf("expected first block taken (jumped away from fall-through), got %v", out[0].Reason)
	}
	if out[1].Reason != ExitBranchNotTaken {
		t.Errorf("expected second block not-taken (fell through), got %v", out[1].Reason)
	}
}

func makeTextHeader(t *testing.T, start, end uint32) []byte {
	t.Helper()
	buf := make([]byte, textHeaderSize)
	putLE32(buf[0:4], 1)
	putLE32(buf[4:8], textHeaderSize)
	putLE32(buf[8:12], start)
	putLE32(buf[12:16], end)
	return buf
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func mustARM(t *testing.T) *target.Profile {
	t.Helper()
	p, err := target.ForTag("arm")
	if err != nil {
		t.Fatal(err)
	}
	return p
}
