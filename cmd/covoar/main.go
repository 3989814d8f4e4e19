// covoar is the coverage-analysis command line tool described in spec.md
// §6: given one or more statically linked executables plus simulator
// trace files, it reconstructs per-symbol coverage, classifies uncovered
// ranges against an explanations library, and writes text/HTML reports.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/rtems-tools/covoar/internal/analyzer"
	"github.com/rtems-tools/covoar/internal/demangle"
	"github.com/rtems-tools/covoar/internal/diag"
	"github.com/rtems-tools/covoar/internal/disasm"
	"github.com/rtems-tools/covoar/internal/elfreader"
	"github.com/rtems-tools/covoar/internal/executable"
	"github.com/rtems-tools/covoar/internal/explanations"
	"github.com/rtems-tools/covoar/internal/gcov"
	"github.com/rtems-tools/covoar/internal/report"
	"github.com/rtems-tools/covoar/internal/runctx"
	"github.com/rtems-tools/covoar/internal/symbolset"
	"github.com/rtems-tools/covoar/internal/symboltable"
	"github.com/rtems-tools/covoar/internal/target"
	"github.com/rtems-tools/covoar/internal/tempfile"
	"github.com/rtems-tools/covoar/internal/trace"
)

// panicDemangler backs classifyPanic's "demangled type" formatting. A
// package-level cache is safe here since demangling is a pure string
// transform with no per-run state.
var panicDemangler = demangle.NewCache()

// controlledError is a fatal, location-carrying error: a recognized
// failure mode (bad flag combination, unreadable input, malformed data)
// reported with a single-line reason, exit code 10 (spec.md §6/§7).
type controlledError struct {
	Location string
	Message  string
}

func (e *controlledError) Error() string {
	return fmt.Sprintf("%s: %s", e.Location, e.Message)
}

func fail(location string, err error) error {
	return &controlledError{Location: location, Message: err.Error()}
}

func failf(location, format string, args ...any) error {
	return &controlledError{Location: location, Message: fmt.Sprintf(format, args...)}
}

func panicOnError(err error) {
	if err != nil {
		panic(err)
	}
}

var (
	flagTarget       string
	flagFormat       string
	flagExplanations string
	flagSymbolSet    string
	flagProject      string
	flagSingleExe    string
	flagExeExt       string
	flagCovExt       string
	flagLibrary      string
	flagOutputDir    string
	flagGcovList     string
	flagVerbose      bool
	flagKeepTemp     bool
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "covoar [trace files or executable base names]",
		Short: "Reconstruct per-symbol code coverage from executables and simulator traces",
		RunE:  run,
	}

	fs := root.Flags()
	fs.StringVarP(&flagTarget, "target", "T", "", fmt.Sprintf("target tag, one of: %s", strings.Join(target.Tags(), ", ")))
	panicOnError(root.MarkFlagRequired("target"))

	fs.StringVarP(&flagFormat, "format", "f", "", "trace file format (QEMU, RTEMS, TSIM, Skyeye)")
	panicOnError(root.MarkFlagRequired("format"))

	fs.StringVarP(&flagExplanations, "explanations", "E", "", "path to the explanations file")
	fs.StringVarP(&flagSymbolSet, "symbol-set", "S", "", "path to the symbol-set configuration")
	panicOnError(root.MarkFlagRequired("symbol-set"))

	fs.StringVarP(&flagProject, "project", "p", "", "project name, used as the report title")
	panicOnError(root.MarkFlagRequired("project"))

	fs.StringVarP(&flagSingleExe, "single-executable", "1", "", "single executable; positional args are its trace files")
	fs.StringVarP(&flagExeExt, "exe-ext", "e", "", "executable extension for executable/trace pairs")
	fs.StringVarP(&flagCovExt, "cov-ext", "c", "", "trace-file extension for executable/trace pairs")

	fs.StringVarP(&flagLibrary, "library", "L", "", "optional dynamic library analyzed alongside the executables")
	fs.StringVarP(&flagOutputDir, "output-dir", "O", ".", "report output directory")
	fs.StringVarP(&flagGcovList, "gcov-list", "g", "", "path to a list of gcov files to cross-reference")
	fs.BoolVarP(&flagVerbose, "verbose", "v", false, "verbose diagnostic output")
	fs.BoolVarP(&flagKeepTemp, "keep-temporaries", "d", false, "keep temporary files instead of removing them")

	return root
}

func main() {
	os.Exit(realMain())
}

func realMain() int {
	err := safeExecute(newRootCommand())
	if err != nil {
		fmt.Fprintln(os.Stderr, "covoar:", err)
	}
	return exitCodeFor(err)
}

// safeExecute runs the command tree, converting a panic into a typed error
// instead of letting it crash the process, matching spec.md §6's exit
// codes 11/12 for unhandled/unknown "exceptions" (Go's nearest equivalent
// being a recovered panic).
func safeExecute(root *cobra.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = classifyPanic(r)
		}
	}()
	return root.Execute()
}

type panicError struct {
	TypeName string
	Message  string
	Unknown  bool
}

func (e *panicError) Error() string {
	if e.Unknown {
		return fmt.Sprintf("unknown exception: %s", e.Message)
	}
	return fmt.Sprintf("unhandled exception (%s): %s", e.TypeName, e.Message)
}

// classifyPanic turns a recovered panic value into a panicError: a panic
// carrying an error is an "unhandled standard exception" (its dynamic type
// demangled, per spec.md §6 — a no-op for ordinary Go type names, but the
// same demangler used for C++ symbol names elsewhere in the pipeline);
// anything else is an "unknown exception".
func classifyPanic(r any) error {
	if err, ok := r.(error); ok {
		typeName := panicDemangler.Demangle(reflect.TypeOf(err).String())
		return &panicError{TypeName: typeName, Message: err.Error()}
	}
	return &panicError{Message: fmt.Sprint(r), Unknown: true}
}

func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var ce *controlledError
	if errors.As(err, &ce) {
		return 10
	}
	var pe *panicError
	if errors.As(err, &pe) {
		if pe.Unknown {
			return 12
		}
		return 11
	}
	return 1
}

// execTracePair is one executable and the trace file recorded against it.
type execTracePair struct {
	ExePath   string
	TracePath string
}

// buildPairs implements the two positional-argument modes from spec.md §6:
// "-1 <exe>" takes trace files directly as positional args; "-e <exe-ext>
// -c <cov-ext>" takes base names and derives both paths by extension.
func buildPairs(args []string) ([]execTracePair, error) {
	switch {
	case flagSingleExe != "" && (flagExeExt != "" || flagCovExt != ""):
		return nil, failf("flags", "-1 is mutually exclusive with -e/-c")
	case flagSingleExe != "":
		if len(args) == 0 {
			return nil, failf("flags", "-1 requires at least one trace file argument")
		}
		pairs := make([]execTracePair, 0, len(args))
		for _, trace := range args {
			pairs = append(pairs, execTracePair{ExePath: flagSingleExe, TracePath: trace})
		}
		return pairs, nil
	case flagExeExt != "" && flagCovExt != "":
		if len(args) == 0 {
			return nil, failf("flags", "-e/-c requires at least one base name argument")
		}
		pairs := make([]execTracePair, 0, len(args))
		for _, base := range args {
			pairs = append(pairs, execTracePair{ExePath: base + flagExeExt, TracePath: base + flagCovExt})
		}
		return pairs, nil
	default:
		return nil, failf("flags", "must supply either -1, or both -e and -c")
	}
}

func run(cmd *cobra.Command, args []string) error {
	pairs, err := buildPairs(args)
	if err != nil {
		return err
	}

	profile, err := target.ForTag(flagTarget)
	if err != nil {
		return fail("target", err)
	}

	sets, err := symbolset.Load(flagSymbolSet, flagTarget, "")
	if err != nil {
		return fail("symbolset", err)
	}

	var exps *explanations.Table
	if flagExplanations != "" {
		exps, err = explanations.LoadFile(flagExplanations)
		if err != nil {
			return fail("explanations", err)
		}
	}

	if err := os.MkdirAll(flagOutputDir, 0o755); err != nil {
		return failf("output", "create output directory %s: %v", flagOutputDir, err)
	}

	tm := tempfile.NewManager("", flagKeepTemp)
	diagSink := diag.New(os.Stderr, flagVerbose)
	stopSignals := trapCleanupSignals(tm, diagSink)
	defer stopSignals()

	for _, set := range sets {
		desiredNames, err := symbolset.ExportedSymbols(set, diagSink.Warn)
		if err != nil {
			return fail("symbolset", err)
		}
		desired := symboltable.New(desiredNames)
		rc := runctx.New(profile, desired, exps, flagOutputDir, flagKeepTemp, diagSink)

		if err := runSet(set, pairs, rc, tm); err != nil {
			return err
		}
	}

	if err := report.WriteExplanationsNotFound(flagOutputDir, exps); err != nil {
		return failf("report", "write ExplanationsNotFound.txt: %v", err)
	}

	if flagGcovList != "" {
		if err := writeGcovReport(flagGcovList, flagOutputDir, diagSink); err != nil {
			return fail("gcov", err)
		}
	}

	return nil
}

// runSet runs the full pipeline for one symbol set, given rc's already-
// resolved desired-symbol registry: build each paired executable (and the
// shared optional -L library), apply every trace file, merge, analyze,
// and write the set's reports. rc bundles the per-run state spec.md §9
// calls for re-architecting as an explicit value (target profile, desired
// symbols, explanations, output directory, diagnostics) instead of package-
// level globals.
func runSet(set symbolset.Set, pairs []execTracePair, rc *runctx.Context, tm *tempfile.Manager) error {
	profile := rc.Target
	desired := rc.Desired
	diagSink := rc.Diag

	var execs []*executable.Executable
	ownerReader := map[string]*elfreader.Reader{}
	insts := map[string][]disasm.Instruction{}

	closeAll := func() {
		for _, e := range execs {
			e.Close()
		}
	}
	defer closeAll()

	contribute := func(e *executable.Executable) {
		for name, claimed := range e.ContributeInstructions(desired) {
			ownerReader[name] = e.Reader
			insts[name] = claimed
		}
	}

	var libExec *executable.Executable
	if flagLibrary != "" {
		loadAddr := libraryLoadAddress(flagLibrary, diagSink)
		built, err := executable.Build(flagLibrary, profile.ObjdumpTool, loadAddr, desired, profile, tm, diagSink.Warn)
		if err != nil {
			return failf("executable", "build library %s: %v", flagLibrary, err)
		}
		libExec = built
		execs = append(execs, libExec)
		contribute(libExec)
	}

	for _, pair := range pairs {
		mainExec, err := executable.Build(pair.ExePath, profile.ObjdumpTool, 0, desired, profile, tm, diagSink.Warn)
		if err != nil {
			return failf("executable", "build %s: %v", pair.ExePath, err)
		}
		execs = append(execs, mainExec)
		contribute(mainExec)

		blocks, err := readTraceFile(pair.TracePath, profile, mainExec, diagSink)
		if err != nil {
			return failf("trace", "%s: %v", pair.TracePath, err)
		}

		dispatchMain := &trace.Dispatch{Table: mainExec.Table, Maps: mainExec.Maps, Profile: profile, Warn: diagSink.Warn}
		for _, b := range blocks {
			dispatchMain.Apply(b)
		}
		if libExec != nil {
			dispatchLib := &trace.Dispatch{Table: libExec.Table, Maps: libExec.Maps, Profile: profile, Warn: diagSink.Warn}
			for _, b := range blocks {
				dispatchLib.Apply(b)
			}
		}

		mainExec.MergeInto(desired, diagSink.Warn)
	}
	if libExec != nil {
		libExec.MergeInto(desired, diagSink.Warn)
	}

	sourceFor := func(symbol string, addr uint64) (string, int, error) {
		r := ownerReader[symbol]
		if r == nil {
			return "", 0, fmt.Errorf("no owning executable recorded for symbol %q", symbol)
		}
		return r.SourceFor(addr)
	}

	az := &analyzer.Analyzer{
		Desired:      desired,
		Instructions: insts,
		SourceFor:    sourceFor,
		Warn:         diagSink.Warn,
	}
	result := az.Run()
	diagSink.Dump(set.Name+" analyzer result", result)

	symViews := make([]report.SymbolView, 0, len(result.Symbols))
	for _, sr := range result.Symbols {
		sym := desired.Get(sr.Name)
		symViews = append(symViews, report.SymbolView{
			Name:         sr.Name,
			BaseAddress:  sr.BaseAddress,
			Stats:        sr.Stats,
			Uncovered:    sr.UncoveredRanges,
			Instructions: insts[sr.Name],
			Map:          sym.UnifiedMap,
			Unreferenced: sym.UnifiedMap == nil,
		})
	}

	reportSet := report.Set{
		Name:         set.Name,
		ProjectName:  flagProject,
		Symbols:      symViews,
		Aggregate:    result.Aggregate,
		Explanations: rc.Explanations,
	}
	if err := report.WriteAll(rc.OutputDir, reportSet); err != nil {
		return failf("report", "%s: %v", set.Name, err)
	}

	return nil
}

// libraryLoadAddress resolves -L's load address from a companion
// "<library>.dlinfo" file (SPEC_FULL.md supplement #2). A missing or
// silent-miss dlinfo file is tolerated (load address 0), per spec.md §7's
// "degrade, warn, continue" posture for non-fatal configuration gaps.
func libraryLoadAddress(library string, diagSink *diag.Sink) uint64 {
	dlinfoPath := library + ".dlinfo"
	addr, err := elfreader.LoadAddressFromDlinfo(dlinfoPath, filepath.Base(library))
	if err != nil {
		diagSink.Warnf("no .dlinfo load address for %s (%v), assuming load address 0", library, err)
		return 0
	}
	return addr
}

func readTraceFile(path string, profile *target.Profile, owner *executable.Executable, diagSink *diag.Sink) ([]trace.Block, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return trace.Read(trace.Format(flagFormat), f, profile, owner.Disasm.NextInstructionAddress, diagSink.Warn)
}

// trapCleanupSignals traps interrupt/hangup/terminate/pipe, removes
// outstanding temporaries via tm, then re-raises the signal with its
// default disposition, per spec.md §5's cancellation model. The returned
// func stops the trap for a clean (non-signal) exit.
func trapCleanupSignals(tm *tempfile.Manager, diagSink *diag.Sink) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGPIPE)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-done:
			_ = sig
			return
		case raw := <-sigs:
			sysSig, _ := raw.(syscall.Signal)
			diagSink.Warnf("received signal %s, removing temporary files", unix.SignalName(sysSig))
			tm.CleanupAll()
			signal.Stop(sigs)
			signal.Reset(raw)
			if p, err := os.FindProcess(os.Getpid()); err == nil {
				p.Signal(raw)
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func writeGcovReport(listPath, outputDir string, diagSink *diag.Sink) error {
	data, err := os.ReadFile(listPath)
	if err != nil {
		return err
	}

	var summaries []gcov.FileSummary
	for _, line := range strings.Split(string(data), "\n") {
		path := strings.TrimSpace(line)
		if path == "" {
			continue
		}
		summary, err := gcov.ReadFile(path)
		if err != nil {
			diagSink.Warnf("gcov: skipping %s: %v", path, err)
			continue
		}
		summaries = append(summaries, summary)
	}

	var b strings.Builder
	fmt.Fprintln(&b, "file\tlines_total\tlines_hit\tlines_missed\tpercent")
	for _, s := range summaries {
		fmt.Fprintf(&b, "%s\t%d\t%d\t%d\t%.2f\n", s.Path, s.LinesTotal, s.LinesHit, s.LinesMissed, s.Percent())
	}

	return os.WriteFile(filepath.Join(outputDir, "gcov.txt"), []byte(b.String()), 0o644)
}
