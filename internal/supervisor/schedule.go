package supervisor

import (
	"context"
	"sort"

	"github.com/elm-watch/elm-watch-go/internal/compiler"
	"github.com/elm-watch/elm-watch-go/internal/event"
	"github.com/elm-watch/elm-watch-go/internal/paths"
	"github.com/elm-watch/elm-watch-go/internal/resolver"
	"github.com/elm-watch/elm-watch-go/internal/state"
)

// resolveAndMaybeQueue resolves name's inputs (best-effort) and
// registers its watched files; resolution failures are reported but
// don't block the target from attempting a compile, matching §4.5's
// "best-effort" closure policy.
func (s *Supervisor) resolveAndMaybeQueue(name string) {
	rt := s.runtimes[name]
	res, err := resolver.ResolveTarget(s.root, rt.target)
	if err != nil {
		s.emit(event.Event{Target: name, Phase: event.PhaseCompileError, Detail: err.Error()})
		return
	}
	if res.IncompleteReason != nil {
		s.emit(event.Event{Target: name, Phase: event.PhaseQueued, Detail: res.IncompleteReason.Error()})
	}
	rt.resolution = res

	var sources []paths.Absolute
	for _, wf := range res.Watched {
		if wf.Kind == resolver.ElmManifest {
			continue
		}
		sources = append(sources, wf.Path)
	}
	s.watchedSet.SetTargetWatches(name, sources, res.ElmJSON, scriptPathFor(rt))
}

// scriptPathFor returns the elm-watch-node script path a target's
// post-process command names, or a zero Absolute if it has none/isn't
// scripted.
func scriptPathFor(rt *targetRuntime) paths.Absolute {
	if !rt.target.IsScriptedPostprocess() || len(rt.target.Postprocess) < 2 {
		return paths.Absolute{}
	}
	return paths.MustAbsolute(rt.target.Postprocess[1])
}

func resolvedPaths(rt *targetRuntime) []paths.Absolute {
	out := make([]paths.Absolute, len(rt.target.Inputs))
	for i, in := range rt.target.Inputs {
		out[i] = in.Resolved
	}
	return out
}

// priorityOrder ranks queueable target names by scheduling
// priority: (a) targets with a connected WebSocket client, (b) most
// recently focused, (c) configuration order (spec.md §5).
func (s *Supervisor) priorityOrder() []string {
	connected := s.broker.Hub().ConnectedTargets()
	order := s.cfg.Project.OrderedTargetNames()
	configIndex := make(map[string]int, len(order))
	for i, n := range order {
		configIndex[n] = i
	}

	var queueable []string
	for name, rt := range s.runtimes {
		switch rt.machine.Current() {
		case state.QueuedForMake, state.QueuedForTypecheckOnly:
			queueable = append(queueable, name)
		}
	}

	sort.Slice(queueable, func(i, j int) bool {
		a, b := queueable[i], queueable[j]
		ac, bc := connected[a], connected[b]
		if ac != bc {
			return ac
		}
		af, bf := s.runtimes[a].lastFocused, s.runtimes[b].lastFocused
		if !af.Equal(bf) {
			return af.After(bf)
		}
		return configIndex[a] < configIndex[b]
	})
	return queueable
}

// fillSlots launches as many queued targets as the parallelism
// semaphore allows, in priority order.
func (s *Supervisor) fillSlots() {
	for _, name := range s.priorityOrder() {
		select {
		case s.sem <- struct{}{}:
			s.launchCompile(name)
		default:
			return
		}
	}
}

func (s *Supervisor) launchCompile(name string) {
	rt := s.runtimes[name]
	// Capture the mode before SchedulerSlotOpen moves the machine into
	// ElmMakeRunning, which loses the QueuedForMake/QueuedForTypecheckOnly
	// distinction; handleCompileDone consults rt.runningMode instead.
	mode := compiler.Make
	if rt.machine.Current() == state.QueuedForTypecheckOnly {
		mode = compiler.TypeCheck
	}
	if _, err := rt.machine.Apply(state.SchedulerSlotOpen); err != nil {
		<-s.sem
		return
	}
	rt.runningMode = mode
	generation := rt.machine.Generation()
	ctx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel

	inputs := resolvedPaths(rt)
	args := compiler.Args{
		Mode:       mode,
		Inputs:     inputs,
		ElmBinary:  s.cfg.ElmBinary,
		ProjectDir: s.root.String(),
	}
	if mode == compiler.Make {
		args.Output = rt.target.Output
		args.Optimize = rt.compilationMode
	}

	go func() {
		defer func() { <-s.sem }()
		res := compiler.Run(ctx, s.cfg.Env, args)
		s.events <- supervisorEvent{kind: "compileDone", target: name, generation: generation, compileRes: res}
	}()
}
