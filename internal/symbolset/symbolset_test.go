package symbolset

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sets.ini")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadBasic(t *testing.T) {
	path := writeConfig(t, `
[libcpu]
target = arm
bsp = xilinx_zynq_a9_qemu
libraries = libcpu.a, libbsp.a

[libscore]
target = sparc
bsp = erc32
libraries = libscore.a
`)

	sets, err := Load(path, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(sets) != 2 {
		t.Fatalf("expected 2 sets, got %d", len(sets))
	}

	byName := map[string]Set{}
	for _, s := range sets {
		byName[s.Name] = s
	}

	cpu := byName["libcpu"]
	if cpu.Target != "arm" || len(cpu.Libraries) != 2 {
		t.Errorf("unexpected libcpu set: %+v", cpu)
	}
}

func TestLoadOverridesTargetAndBSP(t *testing.T) {
	path := writeConfig(t, `
[libcpu]
target = arm
bsp = xilinx_zynq_a9_qemu
libraries = libcpu.a
`)

	sets, err := Load(path, "aarch64", "override-bsp")
	if err != nil {
		t.Fatal(err)
	}
	if sets[0].Target != "aarch64" || sets[0].BSP != "override-bsp" {
		t.Errorf("expected command-line override to take precedence, got %+v", sets[0])
	}
}

func TestLoadRejectsEmptyLibraries(t *testing.T) {
	path := writeConfig(t, `
[libcpu]
target = arm
bsp = qemu
`)

	if _, err := Load(path, "", ""); err == nil {
		t.Errorf("expected error for set with no libraries")
	}
}

func TestExportedSymbolsReportsMissingLibrary(t *testing.T) {
	set := Set{Name: "libcpu", Libraries: []string{"/nonexistent/libcpu.a"}}
	if _, err := ExportedSymbols(set, nil); err == nil {
		t.Errorf("expected an error reading a nonexistent library")
	}
}

func TestExportedSymbolsRejectsGarbageFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "libcpu.a")
	if err := os.WriteFile(path, []byte("not an elf or archive"), 0o644); err != nil {
		t.Fatal(err)
	}

	set := Set{Name: "libcpu", Libraries: []string{path}}
	if _, err := ExportedSymbols(set, nil); err == nil {
		t.Errorf("expected an error parsing a file that is neither ELF nor an ar archive")
	}
}
