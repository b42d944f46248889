package supervisor

import (
	"context"
	"time"

	"github.com/elm-watch/elm-watch-go/internal/broker"
	"github.com/elm-watch/elm-watch-go/internal/clientjs"
	"github.com/elm-watch/elm-watch-go/internal/compiler"
	"github.com/elm-watch/elm-watch-go/internal/event"
	"github.com/elm-watch/elm-watch-go/internal/inject"
	"github.com/elm-watch/elm-watch-go/internal/paths"
	"github.com/elm-watch/elm-watch-go/internal/postprocess"
	"github.com/elm-watch/elm-watch-go/internal/state"
	"github.com/elm-watch/elm-watch-go/internal/statefile"
	"github.com/elm-watch/elm-watch-go/internal/watcher"
)

func (s *Supervisor) handleSupervisorEvent(ev supervisorEvent) {
	switch ev.kind {
	case "compileDone":
		s.handleCompileDone(ev.target, ev.generation, ev.compileRes)
	case "postprocessDone":
		s.handlePostprocessDone(ev.target, ev.generation, ev.postRes)
	case "client":
		s.handleClientMessage(ev.clientConn, ev.clientMsg)
	case "installDone":
		s.handleInstallDone(ev.installRes, ev.affectedTargets)
	}
	s.fillSlots()
}

// handleCompileDone applies the compile result's event to the state
// machine, ignoring it entirely if generation is stale (the target was
// interrupted and restarted since this compile was launched).
func (s *Supervisor) handleCompileDone(name string, generation int, res compiler.Result) {
	rt := s.runtimes[name]
	if rt.machine.Generation() != generation {
		return // stale exit; spec.md §4.4 generation-counter discard
	}

	switch res.Outcome {
	case compiler.Success:
		if rt.runningMode == compiler.TypeCheck {
			rt.machine.Apply(state.TypecheckSucceeded)
			return
		}
		if len(rt.target.Postprocess) > 0 {
			rt.machine.Apply(state.CompileSucceededWithPostprocess)
			s.launchPostprocess(name, generation)
			return
		}
		rt.machine.Apply(state.CompileSucceededNoPostprocess)
		s.publishArtifact(name, nil)
	default:
		rt.machine.Apply(state.CompileFailed)
		s.emit(event.Event{Target: name, Phase: event.PhaseCompileError, Detail: compileFailureDetail(res)})
		s.broker.Hub().Broadcast(name, broker.StatusChanged(broker.StatusCompilationError, 0))
	}
}

func compileFailureDetail(res compiler.Result) string {
	switch res.Outcome {
	case compiler.StructuredCompileErrorOutcome:
		if res.Report != nil {
			return res.Report.Title
		}
		return "compile error"
	case compiler.JsonParseErrorOutcome:
		return "could not parse compiler output: " + res.ParseError.Error()
	case compiler.CommandNotFoundOutcome:
		return res.SpawnErr.Error()
	default:
		return "unexpected compiler output"
	}
}

func (s *Supervisor) launchPostprocess(name string, generation int) {
	rt := s.runtimes[name]
	if rt.runner == nil {
		runner, err := postprocess.New(rt.target.Postprocess)
		if err != nil {
			rt.machine.Apply(state.PostprocessFailed)
			s.emit(event.Event{Target: name, Phase: event.PhasePostError, Detail: err.Error()})
			return
		}
		rt.runner = runner
	}

	code, err := rt.target.Output.ReadFile()
	if err != nil {
		rt.machine.Apply(state.PostprocessFailed)
		s.emit(event.Event{Target: name, Phase: event.PhasePostError, Detail: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	go func() {
		res := rt.runner.Run(ctx, name, code, compiler.Make, postprocess.Hot)
		s.events <- supervisorEvent{kind: "postprocessDone", target: name, generation: generation, postRes: res}
	}()
}

func (s *Supervisor) handlePostprocessDone(name string, generation int, res postprocess.Result) {
	rt := s.runtimes[name]
	if rt.machine.Generation() != generation {
		return
	}
	if res.Outcome != postprocess.Success {
		rt.machine.Apply(state.PostprocessFailed)
		s.emit(event.Event{Target: name, Phase: event.PhasePostError, Detail: res.ExitReason})
		s.broker.Hub().Broadcast(name, broker.StatusChanged(broker.StatusUnexpectedError, 0))
		return
	}
	rt.machine.Apply(state.PostprocessSucceeded)
	s.publishArtifact(name, res.Code)
}

// publishArtifact runs the HMR injector over code (or the target's
// already-written output when code is nil, i.e. no post-process ran),
// stamps a new compiledTimestamp, and announces it to the broker.
// Artifact visibility is totally ordered per target: only ever called
// from the single event-loop goroutine.
func (s *Supervisor) publishArtifact(name string, code []byte) {
	rt := s.runtimes[name]
	if code == nil {
		var err error
		code, err = rt.target.Output.ReadFile()
		if err != nil {
			s.emit(event.Event{Target: name, Phase: event.PhaseCompileError, Detail: err.Error()})
			return
		}
	}

	diagDir := s.root.Join("elm-stuff", "elm-watch")
	result := inject.Inject(code, compiler.Make, diagDir)
	if result.Outcome != inject.Injected {
		s.emit(event.Event{Target: name, Phase: event.PhaseCompileError, Detail: "inject: " + result.Purpose})
		s.broker.Hub().Broadcast(name, broker.StatusChanged(broker.StatusInjectError, 0))
		return
	}

	previous := rt.artifact
	timestamp := nextTimestamp(previous)
	meta := result.Meta
	meta.DebugMode = rt.compilationMode == compiler.Debug
	meta.OptimizeMode = rt.compilationMode == compiler.Optimize
	next := &artifact{code: result.Code, compiledTimestamp: timestamp, meta: meta}
	rt.artifact = next

	sizeBefore := 0
	if previous != nil {
		sizeBefore = len(previous.code)
	}
	s.emit(event.Event{Target: name, Phase: event.PhaseReady, SizeBefore: sizeBefore, SizeAfter: len(next.code)})

	if previous == nil {
		s.broker.Hub().Broadcast(name, broker.StatusChanged(broker.StatusSuccessfullyCompiled, timestamp))
		return
	}

	decision := clientjs.DecideReload(previous.meta, next.meta)
	if decision.FullReload {
		s.broker.Hub().Broadcast(name, broker.FullReload(decision.Reasons))
	} else {
		s.broker.Hub().Broadcast(name, broker.HotReload(string(next.code), timestamp))
	}

	s.persistCompilationMode(name, rt.compilationMode)
}

// nextTimestamp derives a monotonically increasing compiledTimestamp:
// the wall-clock time in milliseconds, or the previous artifact's stamp
// plus one when the clock has not moved past it. It reads time.Now()
// directly; the clock is not injectable.
func nextTimestamp(previous *artifact) int64 {
	now := time.Now().UnixMilli()
	if previous != nil && now <= previous.compiledTimestamp {
		return previous.compiledTimestamp + 1
	}
	return now
}

func (s *Supervisor) persistCompilationMode(name string, mode compiler.OptimizeLevel) {
	s.state.Targets[name] = statefile.TargetState{CompilationMode: statefileFromOptimizeLevel(mode)}
	_ = statefile.Save(s.root, s.state)
}

// optimizeLevelFromStatefile maps a persisted statefile.CompilationMode
// back to the compiler's OptimizeLevel, defaulting to Standard for an
// empty or unrecognized value (a target's first run has no entry yet).
func optimizeLevelFromStatefile(m statefile.CompilationMode) compiler.OptimizeLevel {
	switch m {
	case statefile.Debug:
		return compiler.Debug
	case statefile.Optimize:
		return compiler.Optimize
	default:
		return compiler.Standard
	}
}

func statefileFromOptimizeLevel(level compiler.OptimizeLevel) statefile.CompilationMode {
	switch level {
	case compiler.Debug:
		return statefile.Debug
	case compiler.Optimize:
		return statefile.Optimize
	default:
		return statefile.Standard
	}
}

// parseCompilationModeString parses the wire string a ChangedCompilationMode
// client message carries (spec.md §6/§4.7), rejecting anything unrecognized
// rather than silently falling back to Standard.
func parseCompilationModeString(s string) (compiler.OptimizeLevel, bool) {
	switch statefile.CompilationMode(s) {
	case statefile.Standard:
		return compiler.Standard, true
	case statefile.Debug:
		return compiler.Debug, true
	case statefile.Optimize:
		return compiler.Optimize, true
	default:
		return compiler.Standard, false
	}
}

func (s *Supervisor) handleWatcherEvent(ev watcher.Event) {
	switch ev.Classification {
	case watcher.ConfigChanged:
		s.RestartRequested = true
	case watcher.ManifestChanged:
		s.handleManifestChanged(ev.Path)
	case watcher.ElmSourceChanged:
		if len(ev.AffectedTargets) == 0 {
			s.emit(event.Event{Phase: event.PhaseQueued, Detail: "FYI: " + ev.Path.String() + " is not imported by any target"})
			return
		}
		for _, name := range ev.AffectedTargets {
			s.interruptAndRequeue(name)
		}
	case watcher.PostprocessScriptChanged:
		for name, rt := range s.runtimes {
			if rt.runner != nil && scriptPathFor(rt).String() == ev.Path.String() {
				rt.runner.Close()
				rt.runner = nil
				s.interruptAndRequeue(name)
			}
		}
	case watcher.Unrelated:
		// ignored
	}
}

// interruptAndRequeue fires InputChanged against name's machine (or,
// for a target resting at Idle, the start event Start would use),
// killing any in-flight subprocess first so its eventual exit is
// recognized as stale by the generation counter. It never fires
// ConfigOrManifestChanged; handleManifestChanged does that itself.
func (s *Supervisor) interruptAndRequeue(name string) {
	rt := s.runtimes[name]
	current := rt.machine.Current()
	if current == state.ElmMakeRunning || current == state.PostprocessRunning {
		if rt.cancel != nil {
			rt.cancel()
		}
		rt.machine.Apply(state.InputChanged)
		current = rt.machine.Current()
	}

	// A target resting at Idle (a typecheck-only compile that already
	// finished) has no InputChanged transition: it has to be restarted
	// via the same StartHot/StartTypecheckOnly choice Start makes,
	// picking the mode by whether this run's CLI selection named it.
	if current == state.Idle {
		startEv := state.StartTypecheckOnly
		if rt.enabled {
			startEv = state.StartHot
		}
		if _, err := rt.machine.Apply(startEv); err == nil {
			s.resolveAndMaybeQueue(name)
		}
		return
	}

	if _, err := rt.machine.Apply(state.InputChanged); err == nil {
		s.resolveAndMaybeQueue(name)
	}
}

// handleManifestChanged implements spec.md §4.6's manifest coupling:
// every target resolved against the changed elm.json is interrupted and
// parked (ConfigOrManifestChanged), then a single project-level
// `elm make install` reinstalls dependencies before any of them are
// allowed back into the scheduler.
func (s *Supervisor) handleManifestChanged(manifestPath paths.Absolute) {
	var affected []string
	for name, rt := range s.runtimes {
		if rt.resolution.ElmJSON.String() != manifestPath.String() {
			continue
		}
		affected = append(affected, name)
		if rt.cancel != nil {
			rt.cancel()
		}
		// Twice, the same way interruptAndRequeue walks a running target
		// to Interrupted then to its next queued state: a target caught
		// mid-compile needs one ConfigOrManifestChanged to reach
		// Interrupted and a second to settle at Idle.
		rt.machine.Apply(state.ConfigOrManifestChanged)
		rt.machine.Apply(state.ConfigOrManifestChanged)
	}
	if len(affected) == 0 {
		return
	}
	s.launchInstall(manifestPath, affected)
}

func (s *Supervisor) launchInstall(manifestPath paths.Absolute, affected []string) {
	var dummyInput paths.Absolute
	for _, name := range affected {
		if rt := s.runtimes[name]; len(rt.target.Inputs) > 0 {
			dummyInput = rt.target.Inputs[0].Resolved
			break
		}
	}
	if dummyInput.IsZero() {
		// Nothing resolved yet to compile against; fall back to
		// requeuing each target directly without a dedicated install
		// step (best-effort, matching §4.5's resolution policy).
		for _, name := range affected {
			s.interruptAndRequeue(name)
		}
		return
	}

	projectDir := manifestPath.Dir().String()
	scratchOutput := manifestPath.Dir().Join("elm-stuff", "elm-watch", "install-scratch.js")
	args := compiler.Args{
		Mode:       compiler.Install,
		Inputs:     []paths.Absolute{dummyInput},
		Output:     scratchOutput,
		ElmBinary:  s.cfg.ElmBinary,
		ProjectDir: projectDir,
	}
	go func() {
		res := compiler.Run(context.Background(), s.cfg.Env, args)
		s.events <- supervisorEvent{kind: "installDone", installRes: res, affectedTargets: affected}
	}()
}

// handleInstallDone requeues every target affected by the manifest change
// once the install step finishes; a failed install is reported but the
// targets are requeued anyway, since an individual target's own compile
// will surface the same dependency error with better context.
func (s *Supervisor) handleInstallDone(res compiler.Result, affected []string) {
	if res.Outcome != compiler.Success {
		s.emit(event.Event{Phase: event.PhaseCompileError, Detail: "elm make install: " + compileFailureDetail(res)})
	}
	for _, name := range affected {
		s.interruptAndRequeue(name)
	}
}

func (s *Supervisor) handleClientMessage(c *broker.Connection, msg broker.ClientMessage) {
	switch msg.Tag {
	case broker.ClientFocusedTab:
		if rt, ok := s.runtimes[c.Target()]; ok {
			rt.lastFocused = time.Now()
		}
	case broker.ClientChangedCompilationMode:
		name := c.Target()
		rt, ok := s.runtimes[name]
		if !ok {
			return
		}
		mode, valid := parseCompilationModeString(msg.CompilationMode)
		if !valid {
			return
		}
		rt.compilationMode = mode
		s.persistCompilationMode(name, mode)
		s.interruptAndRequeue(name)
	case broker.ClientExitRequested:
		s.RestartRequested = false
	}
}
