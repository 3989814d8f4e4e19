// Package tempfile is the scoped temporary-file acquisition abstraction
// described in spec.md §5: every temporary used to capture disassembler or
// subprocess output is acquired through here, so it is guaranteed released
// on every exit path, including when a debug flag asks that it be kept
// around for inspection.
package tempfile

import (
	"os"
	"sync"
)

// File is a single scoped temporary file. Release removes the backing file
// unless the owning Manager was constructed with keep=true.
type File struct {
	*os.File
	keep    bool
	owner   *Manager
	released bool
}

// Release closes the file and, unless the manager was told to keep
// temporaries, removes it from disk. Safe to call more than once.
func (f *File) Release() error {
	if f.released {
		return nil
	}
	f.released = true
	name := f.Name()
	closeErr := f.Close()
	if f.owner != nil {
		f.owner.forget(name)
	}
	if f.keep {
		return closeErr
	}
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		if closeErr != nil {
			return closeErr
		}
		return err
	}
	return closeErr
}

// Manager acquires temporary files for one analysis run. keep mirrors the
// -d/--keep-temporaries command-line flag (spec.md §6): when true, Release never
// deletes the underlying file, so it can be inspected after the run.
type Manager struct {
	dir  string
	keep bool

	mu     sync.Mutex
	active map[string]bool
}

// NewManager returns a Manager that creates temporaries under dir (the OS
// default temp directory if dir is empty) and removes them on Release
// unless keep is set.
func NewManager(dir string, keep bool) *Manager {
	return &Manager{dir: dir, keep: keep, active: make(map[string]bool)}
}

// Acquire creates a new temporary file with the given name pattern (as
// accepted by os.CreateTemp).
func (m *Manager) Acquire(pattern string) (*File, error) {
	f, err := os.CreateTemp(m.dir, pattern)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.active[f.Name()] = true
	m.mu.Unlock()
	return &File{File: f, keep: m.keep, owner: m}, nil
}

func (m *Manager) forget(name string) {
	m.mu.Lock()
	delete(m.active, name)
	m.mu.Unlock()
}

// CleanupAll force-removes every temporary this Manager has acquired and
// not yet had Released, regardless of the keep flag. This backs the
// signal-triggered cleanup described in spec.md §5: on interrupt/hangup/
// terminate/pipe, outstanding temporaries must not leak even though the
// normal defer-based Release chain never runs.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.active))
	for n := range m.active {
		names = append(names, n)
	}
	m.active = make(map[string]bool)
	m.mu.Unlock()

	for _, n := range names {
		os.Remove(n)
	}
}
