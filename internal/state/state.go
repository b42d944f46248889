// Package state implements the per-target compile state machine: a
// small closed set of states driven by events, with illegal transitions
// reported as errors rather than panics.
package state

import "fmt"

// State is one point in a target's compile lifecycle.
type State int

const (
	Idle State = iota
	QueuedForTypecheckOnly
	QueuedForMake
	ElmMakeRunning
	PostprocessRunning
	Interrupted
	Ready
	ElmError
	PostprocessError
	// StuckInProgress is never reached via Apply — it's assigned at
	// shutdown to any target whose State is neither Ready nor an error
	// state, per spec.md §4.4.
	StuckInProgress
)

// String names a State the way the teacher hand-writes small enum
// stringers (see api.Format/api.Platform in common/common.go) rather
// than generating one.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case QueuedForTypecheckOnly:
		return "QueuedForTypecheckOnly"
	case QueuedForMake:
		return "QueuedForMake"
	case ElmMakeRunning:
		return "ElmMakeRunning"
	case PostprocessRunning:
		return "PostprocessRunning"
	case Interrupted:
		return "Interrupted"
	case Ready:
		return "Ready"
	case ElmError:
		return "ElmError"
	case PostprocessError:
		return "PostprocessError"
	case StuckInProgress:
		return "StuckInProgress"
	default:
		return "Unknown"
	}
}

// Event is one of the labeled transitions in spec.md §4.4.
type Event int

const (
	StartHot Event = iota
	// StartTypecheckOnly is StartHot's counterpart for targets not named
	// on the command line: they still get typechecked so errors surface
	// cheaply, but produce no artifact until a client connects.
	StartTypecheckOnly
	ClientConnected
	SchedulerSlotOpen
	CompileSucceededNoPostprocess
	CompileSucceededWithPostprocess
	// TypecheckSucceeded fires instead of CompileSucceeded* when the
	// finished compile was typecheck-only: there is no artifact to
	// publish, so the target simply rests at Idle until the next input
	// or client-connect event.
	TypecheckSucceeded
	CompileFailed // StructuredCompileError / JsonParseError / UnexpectedOutput / CommandNotFound
	PostprocessSucceeded
	PostprocessFailed
	InputChanged
	ConfigOrManifestChanged
)

// IllegalTransitionError is returned by Apply when event cannot fire
// from the machine's current state.
type IllegalTransitionError struct {
	From  State
	Event Event
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("state: event %d is not valid from %s", e.Event, e.From)
}

// Machine is one target's state, plus the event generation counter used
// to detect and ignore stale subprocess exits after an Interrupted
// transition.
type Machine struct {
	current    State
	generation int
}

// NewMachine returns a Machine starting at Idle.
func NewMachine() *Machine {
	return &Machine{current: Idle}
}

// Current returns the machine's current state.
func (m *Machine) Current() State { return m.current }

// Generation returns the current event generation counter. A subprocess
// launched under generation g should have its result ignored if
// Generation() no longer equals g by the time it exits.
func (m *Machine) Generation() int { return m.generation }

// Apply fires event against the machine's current state and returns the
// resulting state, or an error if the transition is illegal.
func (m *Machine) Apply(event Event) (State, error) {
	next, ok := transition(m.current, event)
	if !ok {
		return m.current, &IllegalTransitionError{From: m.current, Event: event}
	}
	if isInterruptingEvent(m.current, event) {
		m.generation++
	}
	m.current = next
	return next, nil
}

// isInterruptingEvent reports whether firing event from from kills an
// in-flight subprocess, which bumps the generation counter so its exit
// (arriving later) is recognized as stale.
func isInterruptingEvent(from State, event Event) bool {
	if from == Idle || from == Ready || from == ElmError || from == PostprocessError {
		return false
	}
	return event == InputChanged || event == ConfigOrManifestChanged
}

func transition(from State, event Event) (State, bool) {
	switch from {
	case Idle:
		switch event {
		case StartHot:
			return QueuedForMake, true
		case StartTypecheckOnly:
			return QueuedForTypecheckOnly, true
		case ClientConnected:
			return QueuedForMake, true
		}
	case QueuedForTypecheckOnly:
		switch event {
		case ClientConnected:
			return QueuedForMake, true
		case SchedulerSlotOpen:
			return ElmMakeRunning, true
		}
	case QueuedForMake:
		switch event {
		case SchedulerSlotOpen:
			return ElmMakeRunning, true
		}
	case ElmMakeRunning:
		switch event {
		case CompileSucceededNoPostprocess:
			return Ready, true
		case CompileSucceededWithPostprocess:
			return PostprocessRunning, true
		case TypecheckSucceeded:
			return Idle, true
		case CompileFailed:
			return ElmError, true
		case InputChanged, ConfigOrManifestChanged:
			return Interrupted, true
		}
	case PostprocessRunning:
		switch event {
		case PostprocessSucceeded:
			return Ready, true
		case PostprocessFailed:
			return PostprocessError, true
		case InputChanged, ConfigOrManifestChanged:
			return Interrupted, true
		}
	case Interrupted:
		switch event {
		case InputChanged:
			return QueuedForMake, true
		case ConfigOrManifestChanged:
			return Idle, true
		}
	case Ready:
		switch event {
		case InputChanged:
			return QueuedForMake, true
		case ConfigOrManifestChanged:
			return Idle, true
		}
	case ElmError, PostprocessError:
		switch event {
		case InputChanged:
			return QueuedForMake, true
		case ConfigOrManifestChanged:
			return Idle, true
		}
	}
	return from, false
}

// AtShutdown classifies s for reporting: any non-Ready, non-error state
// is StuckInProgress.
func AtShutdown(s State) State {
	switch s {
	case Ready, ElmError, PostprocessError, Idle:
		return s
	default:
		return StuckInProgress
	}
}
