package supervisor

import "github.com/elm-watch/elm-watch-go/internal/state"

// Exists implements broker.TargetQuery. Configuration never changes
// while a Supervisor is running (spec.md §3: a config change restarts
// the whole process), so this is safe to read without going through the
// event loop.
func (s *Supervisor) Exists(name string) bool {
	_, ok := s.runtimes[name]
	return ok
}

// Enabled implements broker.TargetQuery: whether name is a configured
// target at all, not whether this run's CLI selection named it — a
// target nobody named on the command line is still a valid connection
// target, just one that escalates from typecheck-only on first connect
// (spec.md §4.7 step 4).
func (s *Supervisor) Enabled(name string) bool {
	return s.Exists(name)
}

// TargetNames implements broker.TargetQuery.
func (s *Supervisor) TargetNames() []string {
	return s.cfg.Project.OrderedTargetNames()
}

// ArtifactStatus implements broker.TargetQuery. Routed through the event
// loop: rt.artifact and rt.machine are mutated exclusively from Run, so
// reading them from the broker's per-connection goroutine without this
// round-trip would race (spec.md §5).
func (s *Supervisor) ArtifactStatus(name string) (bool, int64) {
	var ready bool
	var timestamp int64
	s.runQuery(func() {
		rt, ok := s.runtimes[name]
		if !ok || rt.artifact == nil {
			return
		}
		ready = rt.machine.Current() == state.Ready
		timestamp = rt.artifact.compiledTimestamp
	})
	return ready, timestamp
}

// IsQueuedForTypecheckOnly implements broker.TargetQuery.
func (s *Supervisor) IsQueuedForTypecheckOnly(name string) bool {
	var result bool
	s.runQuery(func() {
		rt, ok := s.runtimes[name]
		result = ok && rt.machine.Current() == state.QueuedForTypecheckOnly
	})
	return result
}

// EscalateToMake implements broker.TargetQuery: a first browser
// connection for a target that was only being typechecked (no client
// had shown up yet) promotes it to a real compile, per spec.md §4.7
// step 4.
func (s *Supervisor) EscalateToMake(name string) {
	s.runQuery(func() {
		rt, ok := s.runtimes[name]
		if !ok {
			return
		}
		if _, err := rt.machine.Apply(state.ClientConnected); err != nil {
			return
		}
		s.fillSlots()
	})
}
