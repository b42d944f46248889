// Package cli wires command-line arguments to the compiler and
// supervisor packages: the `make` one-shot build and the long-running
// `hot` command, plus the shared target-substring-matching and exit
// code policy documented in spec.md §6.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/elm-watch/elm-watch-go/internal/compiler"
	"github.com/elm-watch/elm-watch-go/internal/event"
	"github.com/elm-watch/elm-watch-go/internal/inject"
	"github.com/elm-watch/elm-watch-go/internal/paths"
	"github.com/elm-watch/elm-watch-go/internal/postprocess"
	"github.com/elm-watch/elm-watch-go/internal/project"
	"github.com/elm-watch/elm-watch-go/internal/resolver"
	"github.com/elm-watch/elm-watch-go/internal/state"
	"github.com/elm-watch/elm-watch-go/internal/supervisor"
)

// MakeArgs is the decoded form of `elm-watch make`'s flags, mirroring
// the field layout the teacher's go-flags `opts.Bundle`/`opts.Dev`
// structs take in tools/please_js/main.go — here hand-populated by
// main.go from its own go-flags struct rather than embedding go-flags
// tags in this package, so cli stays parser-agnostic and testable
// without constructing a flags.Parser.
type MakeArgs struct {
	Debug    bool
	Optimize bool
	Targets  []string
}

// HotArgs is the decoded form of `elm-watch hot`'s flags.
type HotArgs struct {
	Targets []string
}

// Env groups the ambient inputs RunMake/RunHot need beyond argv:
// the working directory and the output streams, so tests can supply
// fakes instead of poking global state.
type Env struct {
	Root   string
	Stdout *os.File
	Stderr *os.File
}

// ErrMutuallyExclusiveFlags is returned when both --debug and
// --optimize are given to `make`.
var ErrMutuallyExclusiveFlags = fmt.Errorf("--debug and --optimize cannot both be set")

// Validate checks MakeArgs' own invariants, independent of any
// configured project (spec.md §6: "--debug and --optimize are
// mutually exclusive").
func (a MakeArgs) Validate() error {
	if a.Debug && a.Optimize {
		return ErrMutuallyExclusiveFlags
	}
	return nil
}

func (a MakeArgs) optimizeLevel() compiler.OptimizeLevel {
	switch {
	case a.Debug:
		return compiler.Debug
	case a.Optimize:
		return compiler.Optimize
	default:
		return compiler.Standard
	}
}

// UnknownTargetsError is the exact scenario in spec.md §6: one or more
// requested target substrings matched no configured target.
type UnknownTargetsError struct {
	Substrings []string
	Candidates []string
}

func (e *UnknownTargetsError) Error() string {
	return fmt.Sprintf("UNKNOWN TARGETS SUBSTRINGS: %v did not match any of %v", e.Substrings, e.Candidates)
}

// loadProject reads elm-watch.json under root and constructs the
// validated Project, the single entry point RunMake/RunHot both use.
func loadProject(root string) (*project.Project, paths.Absolute, error) {
	absRoot := paths.MustAbsolute(root)
	configPath := absRoot.Join(project.ConfigFileName)
	doc, order, err := project.LoadConfigFile(configPath.String())
	if err != nil {
		return nil, configPath, err
	}
	p, err := project.NewProject(absRoot, doc, order)
	if err != nil {
		return nil, configPath, err
	}
	return p, configPath, nil
}

// resolveMatchedTargets matches substrs against p and turns a partial
// miss into *UnknownTargetsError.
func resolveMatchedTargets(p *project.Project, substrs []string) ([]*project.Target, error) {
	matched, unknown := p.MatchTargets(substrs)
	if len(unknown) > 0 {
		return nil, &UnknownTargetsError{Substrings: unknown, Candidates: p.OrderedTargetNames()}
	}
	return matched, nil
}

// maxParallel reads ELM_WATCH_MAX_PARALLEL, defaulting to
// postprocess.DefaultMaxParallel (spec.md §6).
func maxParallel() int {
	v, ok := os.LookupEnv("ELM_WATCH_MAX_PARALLEL")
	if !ok {
		return postprocess.DefaultMaxParallel
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return postprocess.DefaultMaxParallel
	}
	return n
}

func noColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

// RunMake executes the one-shot build: resolve targets, run `elm make
// install` once, then compile+inject+post-process each matched target,
// writing its final artifact to its configured output path. Returns the
// process exit code (spec.md §6: 0 success, 1 any user or config error).
func RunMake(env Env, args MakeArgs) int {
	printer := event.NewPrinter(env.Stderr, noColor())

	if err := args.Validate(); err != nil {
		fmt.Fprintln(env.Stderr, err)
		return 1
	}

	p, _, err := loadProject(env.Root)
	if err != nil {
		fmt.Fprintln(env.Stderr, err)
		return 1
	}

	targets, err := resolveMatchedTargets(p, args.Targets)
	if err != nil {
		fmt.Fprintln(env.Stderr, err)
		return 1
	}

	envSnapshot := paths.SnapshotEnvironment()
	ctx := context.Background()

	installRes := compiler.Run(ctx, envSnapshot, compiler.Args{
		Mode:       compiler.Install,
		Output:     p.Root.Join("elm-stuff", "elm-watch", "install-scratch.js"),
		ElmBinary:  "elm",
		ProjectDir: p.Root.String(),
	})
	if installRes.Outcome != compiler.Success {
		printer.Emit(event.Event{Phase: event.PhaseCompileError, Detail: "elm install: " + describeFailure(installRes)})
		return 1
	}

	failed := false
	for _, t := range targets {
		if !compileOneTarget(ctx, envSnapshot, p, t, args, printer) {
			failed = true
		}
	}
	if failed {
		return 1
	}
	printer.Emit(event.Event{Phase: event.PhaseReady, Detail: "Compilation finished"})
	return 0
}

func compileOneTarget(ctx context.Context, env paths.Environment, p *project.Project, t *project.Target, args MakeArgs, printer *event.Printer) bool {
	res, err := resolver.ResolveTarget(p.Root, t)
	if err != nil {
		printer.Emit(event.Event{Target: t.Name, Phase: event.PhaseCompileError, Detail: err.Error()})
		return false
	}

	var inputs []paths.Absolute
	for _, in := range t.Inputs {
		inputs = append(inputs, in.Resolved)
	}

	compileRes := compiler.Run(ctx, env, compiler.Args{
		Mode:       compiler.Make,
		Optimize:   args.optimizeLevel(),
		Inputs:     inputs,
		Output:     t.Output,
		ElmBinary:  "elm",
		ProjectDir: res.ElmJSON.Dir().String(),
	})
	if compileRes.Outcome != compiler.Success {
		printer.Emit(event.Event{Target: t.Name, Phase: event.PhaseCompileError, Detail: describeFailure(compileRes)})
		return false
	}

	code, err := t.Output.ReadFile()
	if err != nil {
		printer.Emit(event.Event{Target: t.Name, Phase: event.PhaseCompileError, Detail: err.Error()})
		return false
	}

	diagDir := p.Root.Join("elm-stuff", "elm-watch")
	injected := inject.Inject(code, compiler.Make, diagDir)
	if injected.Outcome != inject.Injected {
		printer.Emit(event.Event{Target: t.Name, Phase: event.PhaseCompileError, Detail: "inject: " + injected.Purpose})
		return false
	}
	code = injected.Code

	if len(t.Postprocess) > 0 {
		runner, err := postprocess.New(t.Postprocess)
		if err != nil {
			printer.Emit(event.Event{Target: t.Name, Phase: event.PhasePostError, Detail: err.Error()})
			return false
		}
		defer runner.Close()
		postRes := runner.Run(ctx, t.Name, code, compiler.Make, postprocess.Make)
		if postRes.Outcome != postprocess.Success {
			printer.Emit(event.Event{Target: t.Name, Phase: event.PhasePostError, Detail: postRes.ExitReason})
			return false
		}
		code = postRes.Code
	}

	if err := t.Output.WriteFileAtomic(code, 0o644); err != nil {
		printer.Emit(event.Event{Target: t.Name, Phase: event.PhaseCompileError, Detail: err.Error()})
		return false
	}
	printer.Emit(event.Event{Target: t.Name, Phase: event.PhaseReady, SizeAfter: len(code)})
	return true
}

func describeFailure(res compiler.Result) string {
	switch res.Outcome {
	case compiler.StructuredCompileErrorOutcome:
		if res.Report != nil {
			return res.Report.Title
		}
		return "compile error"
	case compiler.JsonParseErrorOutcome:
		return "could not parse compiler output: " + res.ParseError.Error()
	case compiler.CommandNotFoundOutcome, compiler.OtherSpawnErrorOutcome:
		return res.SpawnErr.Error()
	default:
		return fmt.Sprintf("unexpected compiler exit %d", res.ExitCode)
	}
}

// RunHot executes the long-running watch-and-serve command until the
// process receives an interrupt, restarting the Supervisor whenever a
// config change requests it.
func RunHot(env Env, args HotArgs) int {
	printer := event.NewPrinter(env.Stderr, noColor())

	for {
		restart, code := runHotOnce(env, args, printer)
		if !restart {
			return code
		}
		printer.Emit(event.Event{Phase: event.PhaseQueued, Detail: "elm-watch.json changed, restarting"})
	}
}

func runHotOnce(env Env, args HotArgs, printer *event.Printer) (restart bool, code int) {
	p, configPath, err := loadProject(env.Root)
	if err != nil {
		fmt.Fprintln(env.Stderr, err)
		return false, 1
	}

	targets, err := resolveMatchedTargets(p, args.Targets)
	if err != nil {
		fmt.Fprintln(env.Stderr, err)
		return false, 1
	}
	enabled := make(map[string]bool, len(targets))
	for _, t := range targets {
		enabled[t.Name] = true
	}

	sup, err := supervisor.New(supervisor.Config{
		Project:        p,
		Env:            paths.SnapshotEnvironment(),
		Version:        Version,
		Sink:           printer,
		MaxParallel:    maxParallel(),
		EnabledTargets: enabled,
		ElmBinary:      "elm",
	}, configPath)
	if err != nil {
		fmt.Fprintln(env.Stderr, err)
		return false, 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sup.Start()
	sup.Run(ctx)

	if sup.RestartRequested {
		return true, 0
	}

	for name, st := range sup.ShutdownReport() {
		if st == state.StuckInProgress {
			fmt.Fprintf(env.Stderr, "%s: stuck in progress at shutdown\n", name)
			return false, 1
		}
	}
	return false, 0
}

// Version is the elm-watch-go release string sent to and checked
// against browser clients during the WebSocket handshake (spec.md
// §4.7). Overridden at build time via -ldflags.
var Version = "dev"
