package coverage

import "testing"

func TestRecordExecutedAndRanges(t *testing.T) {
	m := NewMap(8)

	for _, a := range []uint64{0, 1, 4, 5, 6, 7} {
		m.MarkStartOfInstruction(a)
	}

	m.RecordExecuted(0)
	m.RecordExecuted(1)
	m.RecordExecuted(4)
	m.RecordExecuted(5)
	m.RecordExecuted(6)
	m.RecordExecuted(7)

	if !m.WasExecuted(0) || !m.WasExecuted(7) {
		t.Errorf("expected bytes 0 and 7 executed")
	}
	if m.WasExecuted(2) || m.WasExecuted(3) {
		t.Errorf("bytes 2,3 should not be executed")
	}

	// Scenario 1 from spec.md §8: once bytes 2 and 3 are recorded too, all
	// bytes are executed.
	m.RecordExecuted(2)
	m.RecordExecuted(3)
	for a := uint64(0); a < 8; a++ {
		if !m.WasExecuted(a) {
			t.Fatalf("byte %d should be executed", a)
		}
	}
}

func TestOutOfRangeIsNoOp(t *testing.T) {
	m := NewMap(4)
	m.RecordExecuted(100)
	if m.WasExecuted(100) {
		t.Errorf("out of range address should never read back as executed")
	}

	info, ok := m.At(100)
	if ok {
		t.Errorf("At() on out-of-range address should report not-ok")
	}
	if info.ExecutedCount != 0 {
		t.Errorf("out-of-range address should not carry state")
	}
}

func TestMergeSumsCountersOrsFlags(t *testing.T) {
	a := NewMap(4)
	b := NewMap(4)

	a.MarkStartOfInstruction(0)
	a.RecordExecuted(0)
	a.RecordExecuted(0)

	b.MarkStartOfInstruction(2)
	b.RecordExecuted(0)
	b.SetIsBranch(2)

	a.MergeFrom(b)

	info, _ := a.At(0)
	if info.ExecutedCount != 3 {
		t.Errorf("expected summed executed count 3, got %d", info.ExecutedCount)
	}
	if !info.IsStartOfInstruction {
		t.Errorf("expected start-of-instruction flag preserved")
	}

	info2, _ := a.At(2)
	if !info2.IsBranch {
		t.Errorf("expected is-branch flag merged in")
	}
}

func TestResizeOnlyGrows(t *testing.T) {
	m := NewMap(4)
	m.RecordExecuted(1)

	if m.Resize(4) {
		t.Errorf("resize to same size should be a no-op")
	}
	if m.Resize(2) {
		t.Errorf("resize to smaller size should be a no-op")
	}

	if !m.Resize(8) {
		t.Errorf("resize to larger size should succeed")
	}
	if m.Size() != 8 {
		t.Errorf("expected size 8 after resize, got %d", m.Size())
	}
	if !m.WasExecuted(1) {
		t.Errorf("expected previously recorded state preserved after resize")
	}
}

func TestBeginningOfInstruction(t *testing.T) {
	m := NewMap(8)
	m.MarkStartOfInstruction(0)
	m.MarkStartOfInstruction(4)

	if got := m.BeginningOfInstruction(6); got != 4 {
		t.Errorf("expected beginning of instruction 4, got %d", got)
	}
	if got := m.BeginningOfInstruction(0); got != 0 {
		t.Errorf("expected beginning of instruction 0, got %d", got)
	}
}
