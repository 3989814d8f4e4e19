// Package symbolset loads the INI-style symbol-set configuration file
// named in spec.md §6: a file naming one or more "symbol sets", each a
// target + BSP + list of libraries whose exported symbols are selected for
// analysis.
package symbolset

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/rtems-tools/covoar/internal/arreader"
	"github.com/rtems-tools/covoar/internal/elfreader"
)

// Set is one named symbol set: a target/BSP pair and the libraries whose
// exported symbols it selects for analysis.
type Set struct {
	Name      string
	Target    string
	BSP       string
	Libraries []string
}

// Load parses path as an INI file where each section (other than the
// special "DEFAULT" section ini.v1 always provides) names one symbol set.
// buildTarget/buildBSP, if non-empty, override every set's target/BSP
// field, mirroring the command-line override described in spec.md §6.
func Load(path, buildTarget, buildBSP string) ([]Set, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("symbolset: load %s: %w", path, err)
	}

	var sets []Set
	for _, section := range f.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}

		set := Set{
			Name:   section.Name(),
			Target: section.Key("target").String(),
			BSP:    section.Key("bsp").String(),
		}

		if libs := section.Key("libraries").String(); libs != "" {
			for _, lib := range strings.Split(libs, ",") {
				lib = strings.TrimSpace(lib)
				if lib != "" {
					set.Libraries = append(set.Libraries, lib)
				}
			}
		}

		if buildTarget != "" {
			set.Target = buildTarget
		}
		if buildBSP != "" {
			set.BSP = buildBSP
		}

		if len(set.Libraries) == 0 {
			return nil, fmt.Errorf("symbolset: set %q names no libraries", set.Name)
		}

		sets = append(sets, set)
	}

	if len(sets) == 0 {
		return nil, fmt.Errorf("symbolset: %s names no symbol sets", path)
	}

	return sets, nil
}

// ExportedSymbols reads every library named by set.Libraries and returns the
// union of their exported (globally or weakly bound, defined) function
// symbol names — the "desired symbols" a DesiredSymbols registry is built
// from (spec.md §6). Each library may be either a plain relocatable/
// executable ELF file or a ".a" ar archive of such objects; archive members
// that are not themselves parseable ELF are skipped with a warning rather
// than failing the whole set, since static libraries can carry unrelated
// housekeeping members.
func ExportedSymbols(set Set, warn func(string)) ([]string, error) {
	seen := make(map[string]bool)
	var names []string

	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}

	for _, lib := range set.Libraries {
		data, err := os.ReadFile(lib)
		if err != nil {
			return nil, fmt.Errorf("symbolset: read library %s: %w", lib, err)
		}

		if !arreader.IsArchive(data) {
			syms, err := elfreader.ExportedFunctionSymbols(data)
			if err != nil {
				return nil, fmt.Errorf("symbolset: parse %s: %w", lib, err)
			}
			for _, n := range syms {
				add(n)
			}
			continue
		}

		members, err := arreader.Members(data)
		if err != nil {
			return nil, fmt.Errorf("symbolset: parse archive %s: %w", lib, err)
		}
		for _, m := range members {
			syms, err := elfreader.ExportedFunctionSymbols(m.Data)
			if err != nil {
				if warn != nil {
					warn(fmt.Sprintf("symbolset: skipping non-ELF member %s in %s: %v", m.Name, lib, err))
				}
				continue
			}
			for _, n := range syms {
				add(n)
			}
		}
	}

	return names, nil
}
