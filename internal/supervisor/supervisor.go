// Package supervisor is the core orchestration engine: a single
// goroutine event loop coupling the file watcher, compiler invocations
// bounded by a semaphore of Config.MaxParallel slots, per-target
// post-process runs (launched without taking a slot; there is no bound
// on them), the per-target state machine, and the WebSocket broker.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/elm-watch/elm-watch-go/internal/broker"
	"github.com/elm-watch/elm-watch-go/internal/clientjs"
	"github.com/elm-watch/elm-watch-go/internal/compiler"
	"github.com/elm-watch/elm-watch-go/internal/event"
	"github.com/elm-watch/elm-watch-go/internal/paths"
	"github.com/elm-watch/elm-watch-go/internal/postprocess"
	"github.com/elm-watch/elm-watch-go/internal/project"
	"github.com/elm-watch/elm-watch-go/internal/resolver"
	"github.com/elm-watch/elm-watch-go/internal/state"
	"github.com/elm-watch/elm-watch-go/internal/statefile"
	"github.com/elm-watch/elm-watch-go/internal/watcher"
)

// Config configures a Supervisor for one hot-mode run.
type Config struct {
	Project         *project.Project
	Env             paths.Environment
	Version         string
	Sink            event.Sink
	MaxParallel     int // ELM_WATCH_MAX_PARALLEL, default 2
	EnabledTargets  map[string]bool
	ElmBinary       string
	DebounceWindow  time.Duration
	IdleWorkerReap  time.Duration
}

// artifact is a target's last successfully produced output.
type artifact struct {
	code              []byte
	compiledTimestamp int64
	meta              clientjs.ArtifactMeta
}

// targetRuntime is everything the supervisor tracks for one target.
type targetRuntime struct {
	target      *project.Target
	machine     *state.Machine
	enabled     bool
	resolution  resolver.Resolution
	artifact    *artifact
	cancel      context.CancelFunc
	generation  int
	lastFocused time.Time
	runner      postprocess.Runner

	// runningMode is the compiler.Mode the in-flight (or most recently
	// launched) compile used, captured at launchCompile time so
	// handleCompileDone can tell a typecheck-only compile apart from a
	// real make once the state machine has moved past QueuedFor*.
	runningMode compiler.Mode

	// compilationMode is the persisted optimize/debug setting for this
	// target, loaded from statefile at startup and updated by
	// ClientChangedCompilationMode.
	compilationMode compiler.OptimizeLevel
}

// supervisorEvent is the fan-in event type the single event loop
// selects over — every external completion is marshalled into one of
// these before the loop sees it (spec.md §5).
type supervisorEvent struct {
	kind            string // "compileDone" | "postprocessDone" | "installDone" | "client"
	target          string
	generation      int
	compileRes      compiler.Result
	postRes         postprocess.Result
	watcherEv       watcher.Event
	clientConn      *broker.Connection
	clientMsg       broker.ClientMessage
	installRes      compiler.Result
	affectedTargets []string
}

// Supervisor owns all TargetState values and the compile semaphore
// exclusively; the broker exclusively owns WebSocketConnections
// (spec.md §3 ownership summary).
type Supervisor struct {
	cfg        Config
	runtimes   map[string]*targetRuntime
	watcher    *watcher.Watcher
	watchedSet *watcher.WatchedSet
	broker     *broker.Server
	sem        chan struct{}
	events     chan supervisorEvent
	// queries carries read/escalate requests from goroutines outside the
	// event loop (the broker's per-connection goroutines) in as closures
	// that touch runtimes directly; the loop runs each one synchronously
	// between its own events, so no mutex is needed (spec.md §5: "no
	// shared mutable state across tasks; communication is exclusively by
	// message passing").
	queries    chan func()
	done       chan struct{}
	state      statefile.State
	root       paths.Absolute
	configPath paths.Absolute

	// RestartRequested is set when a ConfigChanged event fires; the
	// caller (internal/cli) reloads elm-watch.json and constructs a
	// fresh Supervisor rather than the supervisor mutating its own
	// Project in place (spec.md §3: Project is never mutated, only
	// rebuilt).
	RestartRequested bool
}

// New builds a Supervisor. Call Run to start its event loop.
func New(cfg Config, configPath paths.Absolute) (*Supervisor, error) {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = postprocess.DefaultMaxParallel
	}
	root := cfg.Project.Root
	persisted, err := statefile.Load(root)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:        cfg,
		runtimes:   map[string]*targetRuntime{},
		watchedSet: watcher.NewWatchedSet(configPath),
		sem:        make(chan struct{}, cfg.MaxParallel),
		events:     make(chan supervisorEvent, 64),
		queries:    make(chan func()),
		done:       make(chan struct{}),
		state:      persisted,
		root:       root,
		configPath: configPath,
	}

	for _, name := range cfg.Project.OrderedTargetNames() {
		t := cfg.Project.Targets[name]
		s.runtimes[name] = &targetRuntime{
			target:          t,
			machine:         state.NewMachine(),
			enabled:         cfg.EnabledTargets[name],
			compilationMode: optimizeLevelFromStatefile(persisted.Targets[name].CompilationMode),
		}
	}

	w, err := watcher.New(s.watchedSet, cfg.DebounceWindow)
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}
	s.watcher = w
	if err := w.AddDir(root); err != nil {
		return nil, fmt.Errorf("supervisor: watch root: %w", err)
	}

	srv := broker.NewServer(s, cfg.Version)
	srv.OnClientMessage = func(c *broker.Connection, msg broker.ClientMessage) {
		s.events <- supervisorEvent{kind: "client", clientConn: c, clientMsg: msg}
	}
	port, err := srv.Listen(persisted.Port)
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}
	s.state.Port = port
	s.broker = srv

	return s, nil
}

// Start kicks off every configured target (StartHot for targets this
// run's CLI selection enabled, StartTypecheckOnly for the rest) and
// launches the broker goroutines; the watcher's goroutine already runs
// from New. Call before Run.
func (s *Supervisor) Start() {
	go s.broker.Hub().Run()
	go func() {
		if err := s.broker.Serve(); err != nil {
			// Serve returns http.ErrServerClosed on normal shutdown;
			// anything else is reported through the event sink rather
			// than crashing the loop.
			s.emit(event.Event{Phase: event.PhaseCompileError, Detail: err.Error()})
		}
	}()

	for name, rt := range s.runtimes {
		startEv := state.StartTypecheckOnly
		if rt.enabled {
			startEv = state.StartHot
		}
		if _, err := rt.machine.Apply(startEv); err != nil {
			continue
		}
		s.resolveAndMaybeQueue(name)
	}
	s.fillSlots()
}

// Run drives the event loop until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case ev := <-s.watcher.Events():
			s.handleWatcherEvent(ev)
		case err := <-s.watcher.Errors():
			s.emit(event.Event{Phase: event.PhaseCompileError, Detail: err.Error()})
		case ev := <-s.events:
			s.handleSupervisorEvent(ev)
		case fn := <-s.queries:
			fn()
		}
	}
}

// runQuery marshals fn onto the event loop and blocks until it has run,
// giving broker goroutines a race-free way to read or escalate runtime
// state without ever touching s.runtimes directly (spec.md §5). Safe to
// call after shutdown: fn then runs against runtimes frozen at their
// final state instead of deadlocking on a loop that has already exited.
func (s *Supervisor) runQuery(fn func()) {
	reply := make(chan struct{})
	wrapped := func() {
		fn()
		close(reply)
	}
	select {
	case s.queries <- wrapped:
		<-reply
	case <-s.done:
		fn()
	}
}

func (s *Supervisor) shutdown() {
	close(s.done)
	for _, rt := range s.runtimes {
		if rt.cancel != nil {
			rt.cancel()
		}
		if rt.runner != nil {
			rt.runner.Close()
		}
	}
	_ = s.broker.Close()
	_ = s.watcher.Close()
	_ = statefile.Save(s.root, s.state)
}

func (s *Supervisor) emit(e event.Event) {
	if s.cfg.Sink != nil {
		s.cfg.Sink.Emit(e)
	}
}

// ShutdownReport classifies every target's final state for the
// StuckInProgress diagnostic (spec.md §4.4, observable at
// ELM_WATCH_MAX_PARALLEL=0 in tests).
func (s *Supervisor) ShutdownReport() map[string]state.State {
	out := make(map[string]state.State, len(s.runtimes))
	for name, rt := range s.runtimes {
		out[name] = state.AtShutdown(rt.machine.Current())
	}
	return out
}
