// Package compiler drives the external Elm compiler binary: builds its
// argv for typecheck/make/install runs, spawns it, and classifies the
// result into a closed set of outcomes (spec.md §4.1).
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/elm-watch/elm-watch-go/internal/paths"
)

// Mode selects what elm make is asked to do.
type Mode int

const (
	// TypeCheck compiles without an --output flag, producing nothing;
	// used to warm dependencies and surface errors cheaply for targets
	// nobody has loaded in a browser yet.
	TypeCheck Mode = iota
	// Make compiles and writes a JS artifact to a configured path.
	Make
	// Install runs a dummy compile whose output goes to a scratch file so
	// package downloads happen once, as a single project-level step,
	// instead of once per target. The compile runs in Args.ProjectDir;
	// no scratch directory is created.
	Install
)

func (m Mode) String() string {
	switch m {
	case TypeCheck:
		return "typecheck"
	case Make:
		return "make"
	case Install:
		return "install"
	default:
		return "unknown"
	}
}

// OptimizeLevel selects --debug / --optimize / neither.
type OptimizeLevel int

const (
	Standard OptimizeLevel = iota
	Debug
	Optimize
)

// Args describes one compile invocation.
type Args struct {
	Mode       Mode
	Optimize   OptimizeLevel
	Inputs     []paths.Absolute // resolved absolute paths, in target order
	Output     paths.Absolute   // required when Mode == Make
	ElmBinary  string           // usually "elm"; overridable for tests
	ProjectDir string           // cwd for the subprocess (elm.json's directory)
}

// buildArgv constructs the elm make argv for a.
func buildArgv(a Args) []string {
	argv := []string{"make"}
	for _, in := range a.Inputs {
		argv = append(argv, in.String())
	}
	switch a.Mode {
	case Make, Install:
		argv = append(argv, "--output="+a.Output.String())
	case TypeCheck:
		// no --output: elm still typechecks and reports errors, but
		// writes nothing.
	}
	switch a.Optimize {
	case Debug:
		argv = append(argv, "--debug")
	case Optimize:
		argv = append(argv, "--optimize")
	}
	argv = append(argv, "--report=json")
	return argv
}

// Outcome is the closed tag set a Result can carry.
type Outcome int

const (
	Success Outcome = iota
	StructuredCompileErrorOutcome
	JsonParseErrorOutcome
	UnexpectedOutputOutcome
	CommandNotFoundOutcome
	OtherSpawnErrorOutcome
)

// Result is the outcome of one compiler invocation. Exactly one payload
// field is populated, matching Outcome.
type Result struct {
	Outcome Outcome

	// Success
	ArtifactWritten bool

	// StructuredCompileErrorOutcome
	Report *Report

	// JsonParseErrorOutcome
	ParseError     error
	RawStderr      []byte
	DiagnosticFile paths.Absolute

	// UnexpectedOutputOutcome
	ExitCode int
	Stdout   []byte
	Stderr   []byte

	// CommandNotFoundOutcome / OtherSpawnErrorOutcome
	SpawnErr error
}

// Report is the decoded shape of elm make's --report=json error output.
// The "type" field distinguishes a single project-level error from a
// list of per-module compile errors; unknown types are rejected rather
// than silently accepted (spec.md §9 "enumerate allowed tags").
type Report struct {
	Type   string          `json:"type"`
	Path   string          `json:"path,omitempty"`
	Title  string          `json:"title,omitempty"`
	Errors []CompileModule `json:"errors,omitempty"`
}

// CompileModule is one module's worth of compile errors within a
// compile-errors report.
type CompileModule struct {
	Path    string         `json:"path"`
	Name    string         `json:"name"`
	Problems []CompileProblem `json:"problems"`
}

// CompileProblem is a single reported problem within a module.
type CompileProblem struct {
	Title   string `json:"title"`
	Message []any  `json:"message"`
}

var allowedReportTypes = map[string]bool{
	"error":          true,
	"compile-errors": true,
}

func decodeReport(raw []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	if !allowedReportTypes[r.Type] {
		return nil, fmt.Errorf("compiler: unknown report type %q", r.Type)
	}
	return &r, nil
}

// Run spawns the Elm compiler and classifies its result. It never
// retries — retry policy belongs to the supervisor.
func Run(ctx context.Context, env paths.Environment, a Args) Result {
	binary := a.ElmBinary
	if binary == "" {
		binary = "elm"
	}
	proc, err := paths.Spawn(ctx, binary, paths.SpawnOptions{
		Dir:  a.ProjectDir,
		Env:  env,
		Args: buildArgv(a),
	})
	if err != nil {
		if _, ok := err.(*paths.CommandNotFoundError); ok {
			return Result{Outcome: CommandNotFoundOutcome, SpawnErr: err}
		}
		return Result{Outcome: OtherSpawnErrorOutcome, SpawnErr: err}
	}

	res, err := proc.Wait(ctx)
	if err != nil {
		return Result{Outcome: OtherSpawnErrorOutcome, SpawnErr: err}
	}

	return classify(res, a)
}

// classify implements the exit-code/stream contract documented in
// spec.md §4.1: exit 0 with silent streams is Success; exit 1 with JSON
// beginning with "{" on stderr is a structured compile error; everything
// else is UnexpectedOutput.
func classify(res paths.SpawnResult, a Args) Result {
	switch {
	case res.ExitCode == 0 && len(res.Stdout) == 0 && len(res.Stderr) == 0:
		return Result{Outcome: Success, ArtifactWritten: a.Mode != TypeCheck}

	case res.ExitCode == 1 && bytes.HasPrefix(bytes.TrimSpace(res.Stderr), []byte("{")):
		report, err := decodeReport(res.Stderr)
		if err != nil {
			diag := writeDiagnostic(a, res.Stderr)
			return Result{
				Outcome:        JsonParseErrorOutcome,
				ParseError:     err,
				RawStderr:      res.Stderr,
				DiagnosticFile: diag,
			}
		}
		return Result{Outcome: StructuredCompileErrorOutcome, Report: report}

	default:
		return Result{
			Outcome:  UnexpectedOutputOutcome,
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}
	}
}

// diagnosticCounters gives each project directory its own deterministic
// sequence number for json-parse-error dumps, mirroring the teacher's
// content-addressed ".esm-dev-cache/<key>" directory naming
// (esmdev/server.go) adapted to a flat incrementing counter since these
// dumps are meant for a human to open one at a time, not to cache-hit.
var (
	diagnosticCountersMu sync.Mutex
	diagnosticCounters   = map[string]int{}
)

func writeDiagnostic(a Args, raw []byte) paths.Absolute {
	dir := a.ProjectDir
	diagnosticCountersMu.Lock()
	n := diagnosticCounters[dir] + 1
	diagnosticCounters[dir] = n
	diagnosticCountersMu.Unlock()
	file := paths.MustAbsolute(dir).Join("elm-stuff", "elm-watch", fmt.Sprintf("JsonParseError-%d.txt", n))
	_ = file.WriteFileAtomic(raw, 0o644)
	return file
}
