// Package arreader implements just enough of the common Unix ar(1) archive
// format to pull individual object-file members out of a ".a" static
// library, so the symbol-set loader can enumerate the exported function
// symbols of every library a symbol set names (spec.md §6's "Symbol-set
// configuration": "a list of libraries ... whose exported symbols are
// selected for analysis"). No suitable third-party ar-format library
// appears anywhere in the retrieval pack, so this is grounded directly on
// the documented GNU ar layout rather than an example; see DESIGN.md.
package arreader

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	globalHeader = "!<arch>\n"
	headerSize   = 60
)

// Member is one object file extracted from an archive.
type Member struct {
	Name string
	Data []byte
}

// Members parses data as an ar archive and returns its object-file members
// in archival order, resolving GNU's extended-filename ("//") and symbol
// table ("/") special members along the way (the symbol table itself is
// skipped; this package re-derives exported symbols from the member ELF
// data instead of trusting the archive's own index).
func Members(data []byte) ([]Member, error) {
	if !IsArchive(data) {
		return nil, fmt.Errorf("arreader: missing %q magic", globalHeader)
	}

	var (
		out         []Member
		longNames   string
		haveLong    bool
		pos         = len(globalHeader)
	)

	for pos+headerSize <= len(data) {
		header := data[pos : pos+headerSize]
		pos += headerSize

		name := strings.TrimRight(string(header[0:16]), " ")
		sizeField := strings.TrimSpace(string(header[48:58]))
		size, err := strconv.Atoi(sizeField)
		if err != nil {
			return nil, fmt.Errorf("arreader: malformed size field %q: %w", sizeField, err)
		}
		if pos+size > len(data) {
			return nil, fmt.Errorf("arreader: member %q overruns archive (size %d)", name, size)
		}

		body := data[pos : pos+size]
		pos += size
		if pos%2 == 1 && pos < len(data) {
			pos++ // members are 2-byte aligned, padded with a newline
		}

		switch {
		case name == "/" || name == "/SYM64/":
			continue // symbol index, not needed: we re-derive symbols ourselves
		case name == "//":
			longNames = string(body)
			haveLong = true
			continue
		case strings.HasPrefix(name, "/") && haveLong:
			idx, err := strconv.Atoi(strings.TrimPrefix(name, "/"))
			if err != nil || idx >= len(longNames) {
				return nil, fmt.Errorf("arreader: bad extended-name offset %q", name)
			}
			name = extendedName(longNames, idx)
		default:
			name = strings.TrimSuffix(name, "/")
		}

		out = append(out, Member{Name: name, Data: body})
	}

	return out, nil
}

func extendedName(table string, offset int) string {
	end := strings.IndexAny(table[offset:], "/\n")
	if end < 0 {
		return strings.TrimRight(table[offset:], "\n")
	}
	return table[offset : offset+end]
}

// IsArchive reports whether data begins with the ar(1) global header.
func IsArchive(data []byte) bool {
	return len(data) >= len(globalHeader) && string(data[:len(globalHeader)]) == globalHeader
}
