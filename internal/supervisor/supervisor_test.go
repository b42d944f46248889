package supervisor

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/elm-watch/elm-watch-go/internal/broker"
	"github.com/elm-watch/elm-watch-go/internal/compiler"
	"github.com/elm-watch/elm-watch-go/internal/event"
	"github.com/elm-watch/elm-watch-go/internal/paths"
	"github.com/elm-watch/elm-watch-go/internal/project"
	"github.com/elm-watch/elm-watch-go/internal/state"
	"github.com/elm-watch/elm-watch-go/internal/statefile"
	"github.com/elm-watch/elm-watch-go/internal/watcher"
)

type nopQuery struct{}

func (nopQuery) Exists(string) bool                  { return true }
func (nopQuery) Enabled(string) bool                  { return true }
func (nopQuery) TargetNames() []string                { return nil }
func (nopQuery) ArtifactStatus(string) (bool, int64)   { return false, 0 }
func (nopQuery) IsQueuedForTypecheckOnly(string) bool  { return false }
func (nopQuery) EscalateToMake(string)                 {}

type sinkFunc func(event.Event)

func (f sinkFunc) Emit(e event.Event) { f(e) }

// newTestSupervisor builds a Supervisor over a real elm-watch.json
// fixture (written to a temp project root) but bypasses New()'s
// network/filesystem-watching side effects, so scheduling and
// event-dispatch logic can be tested directly against the same Project
// values a real run would use.
func newTestSupervisor(t *testing.T, names ...string) *Supervisor {
	t.Helper()
	rootDir := t.TempDir()
	root := paths.MustAbsolute(rootDir)

	type rawTarget struct {
		Inputs []string `json:"inputs"`
		Output string   `json:"output"`
	}
	doc := struct {
		Targets map[string]rawTarget `json:"targets"`
	}{Targets: map[string]rawTarget{}}
	for _, n := range names {
		elmFile := n + ".elm"
		_ = os.WriteFile(rootDir+"/"+elmFile, []byte("module "+n+" exposing (main)\nmain = 1\n"), 0o644)
		doc.Targets[n] = rawTarget{Inputs: []string{elmFile}, Output: n + ".js"}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal fixture config: %v", err)
	}
	configPath := rootDir + "/elm-watch.json"
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write fixture config: %v", err)
	}

	configDoc, order, err := project.LoadConfigFile(configPath)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	p, err := project.NewProject(root, configDoc, order)
	if err != nil {
		t.Fatalf("NewProject: %v", err)
	}

	var buf bytes.Buffer
	srv := broker.NewServer(nopQuery{}, "1.0.0")

	s := &Supervisor{
		cfg: Config{
			Project:        p,
			MaxParallel:    2,
			EnabledTargets: map[string]bool{},
			Sink:           event.NewPrinter(&buf, true),
		},
		runtimes:   map[string]*targetRuntime{},
		watchedSet: watcher.NewWatchedSet(root.Join("elm-watch.json")),
		broker:     srv,
		sem:        make(chan struct{}, 2),
		events:     make(chan supervisorEvent, 16),
		queries:    make(chan func()),
		done:       make(chan struct{}),
		state:      statefile.State{Targets: map[string]statefile.TargetState{}},
		root:       root,
	}
	for _, n := range names {
		s.runtimes[n] = &targetRuntime{target: p.Targets[n], machine: state.NewMachine(), enabled: true}
		s.cfg.EnabledTargets[n] = true
	}
	go srv.Hub().Run()
	go func() {
		for {
			select {
			case fn := <-s.queries:
				fn()
			case <-s.done:
				return
			}
		}
	}()
	return s
}

func TestPriorityOrderPrefersConnectedThenFocusedThenConfigOrder(t *testing.T) {
	s := newTestSupervisor(t, "a", "b", "c")
	for _, n := range []string{"a", "b", "c"} {
		s.runtimes[n].machine.Apply(state.StartHot)
	}

	s.runtimes["b"].lastFocused = time.Now()

	order := s.priorityOrder()
	if len(order) != 3 {
		t.Fatalf("expected 3 queueable targets, got %v", order)
	}
	if order[0] != "b" {
		t.Errorf("expected recently-focused b first, got order %v", order)
	}
}

func TestHandleCompileDoneIgnoresStaleGeneration(t *testing.T) {
	s := newTestSupervisor(t, "main")
	rt := s.runtimes["main"]
	rt.machine.Apply(state.StartHot)
	rt.machine.Apply(state.SchedulerSlotOpen)

	rt.machine.Apply(state.InputChanged) // bumps generation, -> Interrupted

	s.handleCompileDone("main", 0, compiler.Result{Outcome: compiler.Success})

	if rt.machine.Current() != state.Interrupted {
		t.Errorf("stale compileDone should not move state machine, got %s", rt.machine.Current())
	}
}

func TestHandleWatcherEventConfigChangedSetsRestartRequested(t *testing.T) {
	s := newTestSupervisor(t, "main")
	s.handleWatcherEvent(watcher.Event{Classification: watcher.ConfigChanged})
	if !s.RestartRequested {
		t.Error("expected RestartRequested to be set")
	}
}

func TestHandleWatcherEventUnimportedElmSourceEmitsFYI(t *testing.T) {
	s := newTestSupervisor(t, "main")
	var captured event.Event
	s.cfg.Sink = sinkFunc(func(e event.Event) { captured = e })

	s.handleWatcherEvent(watcher.Event{
		Classification:  watcher.ElmSourceChanged,
		Path:            paths.MustAbsolute("/tmp/Orphan.elm"),
		AffectedTargets: nil,
	})

	if captured.Detail == "" {
		t.Error("expected an FYI event for an unimported elm source change")
	}
}

func TestTargetQueryReflectsRuntimeState(t *testing.T) {
	s := newTestSupervisor(t, "main")
	if !s.Exists("main") || s.Exists("ghost") {
		t.Error("Exists should reflect configured runtimes only")
	}
	if !s.Enabled("main") {
		t.Error("expected main to be enabled")
	}
	ready, _ := s.ArtifactStatus("main")
	if ready {
		t.Error("expected ArtifactStatus not ready before any compile")
	}
	if s.IsQueuedForTypecheckOnly("main") {
		t.Error("machine starts at Idle, not QueuedForTypecheckOnly")
	}
}
