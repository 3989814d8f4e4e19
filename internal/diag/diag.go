// Package diag is the nil-safe diagnostic sink shared across covoar's
// pipeline: a thin wrapper over an optional io.Writer that every
// component's warn/verbose callbacks ultimately write through, plus
// davecgh/go-spew-backed structure dumps for -v/--verbose output.
package diag

import (
	"fmt"
	"io"

	"github.com/davecgh/go-spew/spew"
)

// Sink is an optional diagnostic writer. A nil *Sink, or one built with a
// nil io.Writer, silently discards everything — callers never need to
// check for nil before calling Warn/Verbose/Dump.
type Sink struct {
	w       io.Writer
	verbose bool
}

// New returns a Sink that writes to w (discarding everything if w is
// nil). verbose gates Verbose/Dump; Warn always writes regardless.
func New(w io.Writer, verbose bool) *Sink {
	return &Sink{w: w, verbose: verbose}
}

// Warn writes one warning line, unconditionally on verbosity.
func (s *Sink) Warn(msg string) {
	if s == nil || s.w == nil {
		return
	}
	fmt.Fprintln(s.w, "warning:", msg)
}

// Warnf is Warn with fmt.Sprintf-style formatting.
func (s *Sink) Warnf(format string, args ...any) {
	s.Warn(fmt.Sprintf(format, args...))
}

// Verbose writes msg only when the sink was constructed with verbose set.
func (s *Sink) Verbose(msg string) {
	if s == nil || s.w == nil || !s.verbose {
		return
	}
	fmt.Fprintln(s.w, msg)
}

// Dump writes a spew.Sdump rendering of v, only in verbose mode. Used for
// the "-v" flag's detailed internal-state dumps (per-Symbol instruction
// lists, coverage maps) referenced in spec.md §6.
func (s *Sink) Dump(label string, v any) {
	if s == nil || s.w == nil || !s.verbose {
		return
	}
	fmt.Fprintf(s.w, "%s:\n%s", label, spew.Sdump(v))
}
