// Package elfreader implements the ELF/DWARF Reader described in spec.md
// §4.2: opening an executable (and optional companion library), enumerating
// sections/symbols, walking compilation units and subprograms, and
// resolving address -> (file, line) and address -> function name.
package elfreader

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rtems-tools/covoar/internal/demangle"
)

// Symbol is one entry from the ELF symbol table.
type Symbol struct {
	Name    string
	Address uint64
	Size    uint64
	Type    elf.SymType
	Section elf.SectionIndex
}

// AddrRange is a low/high PC pair (DWARF's half-open [Low, High) form,
// preserved as-is here; callers convert to the inclusive form used by
// coverage.Range where needed).
type AddrRange struct {
	Low, High uint64
}

// Subprogram is one DW_TAG_subprogram DIE, with its PC range(s) and
// resolved display name (demangled, abstract-origin/specification aware).
type Subprogram struct {
	Name   string
	Ranges []AddrRange
}

// CompilationUnit is one DW_TAG_compile_unit DIE and its subprograms.
type CompilationUnit struct {
	Name        string
	Subprograms []Subprogram
}

// Reader owns an open executable's ELF and DWARF handles, the file
// descriptor backing it, and its load-address offset. Readers are not safe
// for concurrent use.
type Reader struct {
	path      string
	file      *os.File
	elf       *elf.File
	dwarf     *dwarf.Data
	loadAddr  uint64
	demangler *demangle.Cache

	lineCache map[string]*lineTable
	cusCache  []CompilationUnit
	cusLoaded bool
}

// callErr wraps a DWARF/ELF call-site error with the call that produced it,
// per spec.md §4.2's "error carrying the call site and the library's error
// string" rule.
func callErr(site string, err error) error {
	return fmt.Errorf("elfreader: %s: %w", site, err)
}

// Open opens path as an ELF executable and, if it carries a .debug_info
// section, its DWARF data. loadAddress is added to every resolved address
// (0 unless a dynamic-library offset was supplied via a .dlinfo file, see
// LoadAddressFromDlinfo).
func Open(path string, loadAddress uint64) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, callErr("os.Open", err)
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, callErr("elf.NewFile", err)
	}

	r := &Reader{
		path:      path,
		file:      f,
		elf:       ef,
		loadAddr:  loadAddress,
		demangler: demangle.NewCache(),
		lineCache: make(map[string]*lineTable),
	}

	if dw, err := ef.DWARF(); err == nil {
		r.dwarf = dw
	}
	// Absence of DWARF data is not fatal here: a Reader without debug info
	// can still enumerate ELF symbols; source-line resolution simply
	// returns an error per call, matching the "failure in any DWARF call
	// raises an error carrying the call site" rule without forbidding
	// ELF-only use.

	return r, nil
}

// Close releases the reader's file descriptor.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Path returns the path the reader was opened from.
func (r *Reader) Path() string { return r.path }

// LoadAddress returns the reader's configured load-address offset.
func (r *Reader) LoadAddress() uint64 { return r.loadAddr }

// LoadAddressFromDlinfo parses a ".dlinfo" companion file mapping library
// basenames to hex load-address offsets (SPEC_FULL.md supplement #2) and
// returns the offset for the given library basename, or 0 if not present.
func LoadAddressFromDlinfo(dlinfoPath, libraryBasename string) (uint64, error) {
	data, err := os.ReadFile(dlinfoPath)
	if err != nil {
		return 0, callErr("os.ReadFile(dlinfo)", err)
	}

	lines := splitLines(string(data))
	for _, line := range lines {
		name, hexOffset, ok := splitKV(line)
		if !ok {
			continue
		}
		if name == libraryBasename {
			var offset uint64
			if len(hexOffset) > 2 && (hexOffset[:2] == "0x" || hexOffset[:2] == "0X") {
				hexOffset = hexOffset[2:]
			}
			if _, err := fmt.Sscanf(hexOffset, "%x", &offset); err != nil {
				return 0, callErr("parse dlinfo offset", err)
			}
			return offset, nil
		}
	}
	return 0, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func splitKV(line string) (key, value string, ok bool) {
	for i := 0; i < len(line); i++ {
		if line[i] == '=' {
			return line[:i], line[i+1:], true
		}
	}
	return "", "", false
}

// Symbols enumerates the executable's ELF symbol table.
func (r *Reader) Symbols() ([]Symbol, error) {
	syms, err := r.elf.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, callErr("elf.Symbols", err)
	}

	out := make([]Symbol, 0, len(syms))
	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		out = append(out, Symbol{
			Name:    s.Name,
			Address: s.Value + r.loadAddr,
			Size:    s.Size,
			Type:    elf.ST_TYPE(s.Info),
			Section: s.Section,
		})
	}
	return out, nil
}

// ExportedFunctionSymbols parses data as an ELF object/executable (via an
// in-memory reader, with no file descriptor involved) and returns the names
// of its globally or weakly bound defined function symbols — the "exported
// symbols" a Symbol-set configuration's library list selects for analysis
// (spec.md §6).
func ExportedFunctionSymbols(data []byte) ([]string, error) {
	ef, err := elf.NewFile(bytesReaderAt(data))
	if err != nil {
		return nil, callErr("elf.NewFile", err)
	}

	syms, err := ef.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, callErr("elf.Symbols", err)
	}

	var out []string
	for _, s := range syms {
		if s.Name == "" || s.Section == elf.SHN_UNDEF {
			continue
		}
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		bind := elf.ST_BIND(s.Info)
		if bind != elf.STB_GLOBAL && bind != elf.STB_WEAK {
			continue
		}
		out = append(out, s.Name)
	}
	return out, nil
}

type bytesReaderAt []byte

func (b bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, fmt.Errorf("elfreader: read at %d out of range (len %d)", off, len(b))
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, fmt.Errorf("elfreader: short read at %d", off)
	}
	return n, nil
}

// CompilationUnits walks every DW_TAG_compile_unit DIE, enumerating each
// one's subprograms with their PC ranges. Inlined subprograms resolve their
// true name from the DIE referenced by DW_AT_abstract_origin, falling back
// to DW_AT_specification; an empty linkage name triggers demangling to the
// display name.
func (r *Reader) CompilationUnits() ([]CompilationUnit, error) {
	if r.cusLoaded {
		return r.cusCache, nil
	}
	if r.dwarf == nil {
		return nil, callErr("CompilationUnits", fmt.Errorf("no DWARF data in %s", r.path))
	}

	reader := r.dwarf.Reader()
	var cus []CompilationUnit

	var cur *CompilationUnit
	for {
		entry, err := reader.Next()
		if err != nil {
			return nil, callErr("dwarf.Reader.Next", err)
		}
		if entry == nil {
			break
		}

		switch entry.Tag {
		case dwarf.TagCompileUnit:
			if cur != nil {
				cus = append(cus, *cur)
			}
			name, _ := entry.Val(dwarf.AttrName).(string)
			cur = &CompilationUnit{Name: name}

		case dwarf.TagSubprogram, dwarf.TagInlinedSubroutine:
			if cur == nil {
				continue
			}
			sp, ok := r.subprogramFromDIE(entry)
			if ok {
				cur.Subprograms = append(cur.Subprograms, sp)
			}
		}
	}
	if cur != nil {
		cus = append(cus, *cur)
	}

	r.cusCache = cus
	r.cusLoaded = true
	return cus, nil
}

func (r *Reader) subprogramFromDIE(entry *dwarf.Entry) (Subprogram, bool) {
	name := r.resolveSubprogramName(entry)
	if name == "" {
		return Subprogram{}, false
	}

	ranges, err := r.dwarf.Ranges(entry)
	if err != nil || len(ranges) == 0 {
		return Subprogram{}, false
	}

	out := make([]AddrRange, 0, len(ranges))
	for _, rg := range ranges {
		out = append(out, AddrRange{Low: rg[0] + r.loadAddr, High: rg[1] + r.loadAddr})
	}

	return Subprogram{Name: name, Ranges: out}, true
}

// resolveSubprogramName implements the DW_AT_abstract_origin /
// DW_AT_specification / linkage-name / demangling fallback chain.
func (r *Reader) resolveSubprogramName(entry *dwarf.Entry) string {
	if origin, ok := r.followReference(entry, dwarf.AttrAbstractOrigin); ok {
		if n := r.resolveSubprogramName(origin); n != "" {
			return n
		}
	}
	if spec, ok := r.followReference(entry, dwarf.AttrSpecification); ok {
		if n := r.resolveSubprogramName(spec); n != "" {
			return n
		}
	}

	if linkage, ok := entry.Val(dwarf.AttrLinkageName).(string); ok && linkage != "" {
		return r.demangler.Demangle(linkage)
	}

	if name, ok := entry.Val(dwarf.AttrName).(string); ok && name != "" {
		return name
	}

	return ""
}

func (r *Reader) followReference(entry *dwarf.Entry, attr dwarf.Attr) (*dwarf.Entry, bool) {
	off, ok := entry.Val(attr).(dwarf.Offset)
	if !ok {
		return nil, false
	}

	reader := r.dwarf.Reader()
	reader.Seek(off)
	target, err := reader.Next()
	if err != nil || target == nil {
		return nil, false
	}
	return target, true
}

// FunctionName resolves pc to the display name of the innermost subprogram
// containing it, or "" if none is found.
func (r *Reader) FunctionName(pc uint64) (string, error) {
	cus, err := r.CompilationUnits()
	if err != nil {
		return "", err
	}

	var best string
	var bestSize uint64 = ^uint64(0)
	for _, cu := range cus {
		for _, sp := range cu.Subprograms {
			for _, rg := range sp.Ranges {
				if pc >= rg.Low && pc < rg.High {
					size := rg.High - rg.Low
					if size < bestSize {
						best = sp.Name
						bestSize = size
					}
				}
			}
		}
	}
	return best, nil
}

// lineEntry is one resolved (address, file, line) fact after applying the
// two zero-PC workaround rules below.
type lineEntry struct {
	addr uint64
	file string
	line int
}

type lineTable struct {
	entries []lineEntry
}

// SourceFor resolves pc to a (file, line) pair via the line-number program,
// applying two rules for line programs with spuriously zero addresses:
//
//	(a) entries with PC=0 at the start of a sequence are ignored until the
//	    first nonzero address is recorded anywhere in the CU;
//	(b) inside a sequence, if the program sets PC=0 partway through,
//	    that entry and the rest of the sequence are biased by the last
//	    recorded address until the sequence's end-of-sequence marker.
func (r *Reader) SourceFor(pc uint64) (file string, line int, err error) {
	table, err := r.lineTableFor(pc)
	if err != nil {
		return "", 0, err
	}
	if table == nil || len(table.entries) == 0 {
		return "", 0, callErr("SourceFor", fmt.Errorf("no line table covers pc %#x", pc))
	}

	entries := table.entries
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].addr > pc })
	if idx == 0 {
		return "", 0, callErr("SourceFor", fmt.Errorf("pc %#x precedes all line entries", pc))
	}
	best := entries[idx-1]
	return filepath.Base(best.file), best.line, nil
}

// lineTableFor returns the (cached) resolved line table for the
// compilation unit that contains pc, building it from the DWARF line
// program on first use.
func (r *Reader) lineTableFor(pc uint64) (*lineTable, error) {
	if r.dwarf == nil {
		return nil, callErr("lineTableFor", fmt.Errorf("no DWARF data in %s", r.path))
	}

	reader := r.dwarf.Reader()
	for {
		entry, err := reader.Next()
		if err != nil {
			return nil, callErr("dwarf.Reader.Next", err)
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			continue
		}

		ranges, err := r.dwarf.Ranges(entry)
		if err != nil {
			continue
		}
		covers := false
		for _, rg := range ranges {
			if pc-r.loadAddr >= rg[0] && pc-r.loadAddr < rg[1] {
				covers = true
				break
			}
		}
		if !covers && len(ranges) > 0 {
			continue
		}

		name, _ := entry.Val(dwarf.AttrName).(string)
		if cached, ok := r.lineCache[name]; ok {
			return cached, nil
		}

		table, err := r.buildLineTable(entry)
		if err != nil {
			return nil, err
		}
		r.lineCache[name] = table
		if covers {
			return table, nil
		}
	}

	return nil, callErr("lineTableFor", fmt.Errorf("no compilation unit covers pc %#x", pc))
}

// buildLineTable runs the DWARF line-number program for cu's compilation
// unit and applies the two zero-PC rules while collecting entries.
func (r *Reader) buildLineTable(cu *dwarf.Entry) (*lineTable, error) {
	lr, err := r.dwarf.LineReader(cu)
	if err != nil {
		return nil, callErr("dwarf.Data.LineReader", err)
	}
	if lr == nil {
		return &lineTable{}, nil
	}

	var entries []dwarf.LineEntry
	var le dwarf.LineEntry
	for {
		err := lr.Next(&le)
		if err != nil {
			break // io.EOF at end of program
		}
		entries = append(entries, le)
	}

	table := &lineTable{entries: resolveLineEntries(entries, r.loadAddr)}
	sort.Slice(table.entries, func(i, j int) bool { return table.entries[i].addr < table.entries[j].addr })

	return table, nil
}

// resolveLineEntries applies a CU's line-number program two zero-PC rules
// while collecting entries:
//
// (a) a CU's line program can start with one or more sequences whose
// addresses are spuriously zero; every entry is ignored until the first
// nonzero, in-sequence address is recorded anywhere in the CU.
//
// (b) once that has happened, a sequence may later reset its address to
// zero partway through; that entry and every following entry in the same
// sequence is biased by the last recorded address, until end-of-sequence.
//
// End-of-sequence entries carry no usable file/line and are not recorded.
func resolveLineEntries(entries []dwarf.LineEntry, loadAddr uint64) []lineEntry {
	var (
		out      []lineEntry
		pc       uint64
		seqCheck = true
		seqBase  uint64
	)

	for _, le := range entries {
		addr := le.Address

		if pc == 0 {
			if !seqCheck {
				seqCheck = le.EndSequence
				continue
			}
			if addr == 0 {
				seqCheck = false
				continue
			}
		}

		if addr == 0 && seqBase == 0 {
			seqBase = pc
		}
		if seqBase != 0 {
			addr += seqBase
		}

		// pc tracks the last resolved address, including the
		// end-of-sequence marker, since the next sequence's rule (b)
		// bias (if any) is taken from it.
		pc = addr
		if le.EndSequence {
			seqBase = 0
			continue
		}

		out = append(out, lineEntry{
			addr: addr + loadAddr,
			file: le.File.Name,
			line: le.Line,
		})
	}

	return out
}
