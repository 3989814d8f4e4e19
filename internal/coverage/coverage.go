// Package coverage implements the per-byte coverage map described in
// spec.md §3/§4.4: one packed PerByteInfo per address within a Symbol's
// address ranges, with merge-by-summation/logical-or semantics.
package coverage

import "sort"

// PerByteInfo is the per-byte state tracked for every address covered by a
// Map. Set-flags are monotone; counters only increase.
type PerByteInfo struct {
	IsStartOfInstruction bool
	ExecutedCount        uint32
	IsBranch             bool
	IsNop                bool
	TakenCount           uint32
	NotTakenCount        uint32
}

func (b *PerByteInfo) mergeFrom(o PerByteInfo) {
	b.IsStartOfInstruction = b.IsStartOfInstruction || o.IsStartOfInstruction
	b.IsBranch = b.IsBranch || o.IsBranch
	b.IsNop = b.IsNop || o.IsNop
	b.ExecutedCount += o.ExecutedCount
	b.TakenCount += o.TakenCount
	b.NotTakenCount += o.NotTakenCount
}

// Range is a contiguous, inclusive [Low, High] byte interval. Size is
// High-Low+1 and is always > 0.
type Range struct {
	Low, High uint64
}

// Size returns the number of bytes covered by the range.
func (r Range) Size() uint64 { return r.High - r.Low + 1 }

// Contains reports whether addr falls within [Low, High].
func (r Range) Contains(addr uint64) bool { return addr >= r.Low && addr <= r.High }

// Map owns a sequence of address Ranges and a packed PerByteInfo vector
// sized to cover those ranges. Any address is contained in at most one
// range; the offset of a byte within the backing vector equals the sum of
// the sizes of all earlier ranges plus the address's offset into its own
// range.
type Map struct {
	ranges []Range
	bytes  []PerByteInfo
	// size is the size in bytes of the map's single logical address space,
	// i.e. the declared Symbol size: [0, size-1]. Ranges describe how that
	// logical space maps onto real addresses (normally a single range).
	size uint64
}

// NewMap creates a coverage map over a single [0, size-1] logical range.
// size must be > 0; a zero-size Symbol never gets a Map (spec.md §8
// boundary behavior).
func NewMap(size uint64) *Map {
	return &Map{
		ranges: []Range{{Low: 0, High: size - 1}},
		bytes:  make([]PerByteInfo, size),
		size:   size,
	}
}

// Size returns the logical size in bytes of the map.
func (m *Map) Size() uint64 { return m.size }

// Resize implements the §9 open-question semantics: a strictly larger size
// replaces the map, re-copying already recorded per-byte state into the low
// end of the new, larger backing vector. A strictly smaller or equal size
// is a caller-visible no-op (callers should warn and ignore); Resize itself
// simply returns false so callers can decide whether to warn.
func (m *Map) Resize(newSize uint64) (resized bool) {
	if newSize <= m.size {
		return false
	}

	newBytes := make([]PerByteInfo, newSize)
	copy(newBytes, m.bytes)
	m.bytes = newBytes
	m.ranges = []Range{{Low: 0, High: newSize - 1}}
	m.size = newSize
	return true
}

func (m *Map) offset(addr uint64) (int, bool) {
	if addr >= m.size {
		return 0, false
	}
	return int(addr), true
}

// MarkStartOfInstruction sets the IsStartOfInstruction flag for addr. A
// no-op if addr is outside the map.
func (m *Map) MarkStartOfInstruction(addr uint64) {
	if off, ok := m.offset(addr); ok {
		m.bytes[off].IsStartOfInstruction = true
	}
}

// RecordExecuted increments the executed count for addr. A no-op if addr is
// outside the map; this is how traces that overshoot a symbol are silently
// tolerated per spec.md §4.4.
func (m *Map) RecordExecuted(addr uint64) {
	if off, ok := m.offset(addr); ok {
		m.bytes[off].ExecutedCount++
	}
}

// SetIsBranch marks addr as the first byte of a branch instruction.
func (m *Map) SetIsBranch(addr uint64) {
	if off, ok := m.offset(addr); ok {
		m.bytes[off].IsBranch = true
	}
}

// SetIsNop marks addr as the first byte of a NOP instruction.
func (m *Map) SetIsNop(addr uint64) {
	if off, ok := m.offset(addr); ok {
		m.bytes[off].IsNop = true
	}
}

// RecordTaken increments the taken counter for addr.
func (m *Map) RecordTaken(addr uint64) {
	if off, ok := m.offset(addr); ok {
		m.bytes[off].TakenCount++
	}
}

// RecordNotTaken increments the not-taken counter for addr.
func (m *Map) RecordNotTaken(addr uint64) {
	if off, ok := m.offset(addr); ok {
		m.bytes[off].NotTakenCount++
	}
}

// WasExecuted reports whether addr has a non-zero executed count. Returns
// false for any address outside the map.
func (m *Map) WasExecuted(addr uint64) bool {
	off, ok := m.offset(addr)
	return ok && m.bytes[off].ExecutedCount > 0
}

// At returns the PerByteInfo recorded for addr and whether addr is within
// the map.
func (m *Map) At(addr uint64) (PerByteInfo, bool) {
	off, ok := m.offset(addr)
	if !ok {
		return PerByteInfo{}, false
	}
	return m.bytes[off], true
}

// MergeFrom merges another map of identical size into m: for each address,
// flags are logically ORed and counters are summed. Maps of differing size
// must be reconciled by the caller (DesiredSymbols.Merge) before calling
// this; MergeFrom itself merges only the overlapping prefix.
func (m *Map) MergeFrom(o *Map) {
	n := len(m.bytes)
	if len(o.bytes) < n {
		n = len(o.bytes)
	}
	for i := 0; i < n; i++ {
		m.bytes[i].mergeFrom(o.bytes[i])
	}
}

// GetRangeContaining returns the address range containing addr, if any.
// With a single logical [0, size) range this is a direct bounds check; the
// Range type is retained for API parity with multi-range Executables (see
// Ranges below).
func (m *Map) GetRangeContaining(addr uint64) (Range, bool) {
	idx := sort.Search(len(m.ranges), func(i int) bool { return m.ranges[i].High >= addr })
	if idx < len(m.ranges) && m.ranges[idx].Contains(addr) {
		return m.ranges[idx], true
	}
	return Range{}, false
}

// BeginningOfInstruction searches backward from addr, within the range
// containing it, for the nearest address with IsStartOfInstruction set. If
// addr itself is a start of instruction, addr is returned. If no such
// address is found (e.g. addr is outside any range), addr is returned
// unchanged.
func (m *Map) BeginningOfInstruction(addr uint64) uint64 {
	r, ok := m.GetRangeContaining(addr)
	if !ok {
		return addr
	}

	for a := addr; ; a-- {
		if off, ok := m.offset(a); ok && m.bytes[off].IsStartOfInstruction {
			return a
		}
		if a == r.Low {
			break
		}
	}
	return addr
}

// Bytes exposes the raw per-byte vector for iteration by the analyzer and
// reporters. Callers must not mutate the returned slice's flags in ways
// that violate monotonicity.
func (m *Map) Bytes() []PerByteInfo { return m.bytes }
