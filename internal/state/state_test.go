package state

import "testing"

func TestHappyPathNoPostprocess(t *testing.T) {
	m := NewMachine()
	steps := []struct {
		event Event
		want  State
	}{
		{StartHot, QueuedForMake},
		{SchedulerSlotOpen, ElmMakeRunning},
		{CompileSucceededNoPostprocess, Ready},
	}
	for _, step := range steps {
		got, err := m.Apply(step.event)
		if err != nil {
			t.Fatalf("Apply(%v): %v", step.event, err)
		}
		if got != step.want {
			t.Fatalf("got %v, want %v", got, step.want)
		}
	}
}

func TestHappyPathWithPostprocess(t *testing.T) {
	m := NewMachine()
	for _, e := range []Event{StartHot, SchedulerSlotOpen, CompileSucceededWithPostprocess} {
		if _, err := m.Apply(e); err != nil {
			t.Fatalf("Apply(%v): %v", e, err)
		}
	}
	if m.Current() != PostprocessRunning {
		t.Fatalf("current = %v, want PostprocessRunning", m.Current())
	}
	if got, err := m.Apply(PostprocessSucceeded); err != nil || got != Ready {
		t.Fatalf("got %v, err %v", got, err)
	}
}

func TestIllegalTransitionReturnsError(t *testing.T) {
	m := NewMachine()
	if _, err := m.Apply(CompileSucceededNoPostprocess); err == nil {
		t.Fatal("expected error for CompileSucceeded from Idle")
	}
}

func TestInterruptBumpsGeneration(t *testing.T) {
	m := NewMachine()
	for _, e := range []Event{StartHot, SchedulerSlotOpen} {
		if _, err := m.Apply(e); err != nil {
			t.Fatal(err)
		}
	}
	before := m.Generation()
	got, err := m.Apply(InputChanged)
	if err != nil {
		t.Fatal(err)
	}
	if got != Interrupted {
		t.Fatalf("got %v, want Interrupted", got)
	}
	if m.Generation() == before {
		t.Error("expected generation to bump on interrupt")
	}
}

func TestConfigChangeFromReadyGoesToIdle(t *testing.T) {
	m := NewMachine()
	for _, e := range []Event{StartHot, SchedulerSlotOpen, CompileSucceededNoPostprocess} {
		if _, err := m.Apply(e); err != nil {
			t.Fatal(err)
		}
	}
	got, err := m.Apply(ConfigOrManifestChanged)
	if err != nil {
		t.Fatal(err)
	}
	if got != Idle {
		t.Fatalf("got %v, want Idle", got)
	}
}

func TestTypecheckOnlyRestsAtIdleOnSuccess(t *testing.T) {
	m := NewMachine()
	for _, e := range []Event{StartTypecheckOnly, SchedulerSlotOpen} {
		if _, err := m.Apply(e); err != nil {
			t.Fatal(err)
		}
	}
	if m.Current() != ElmMakeRunning {
		t.Fatalf("current = %v, want ElmMakeRunning", m.Current())
	}
	got, err := m.Apply(TypecheckSucceeded)
	if err != nil {
		t.Fatal(err)
	}
	if got != Idle {
		t.Fatalf("got %v, want Idle", got)
	}
}

func TestClientConnectedEscalatesTypecheckOnlyToMake(t *testing.T) {
	m := NewMachine()
	if _, err := m.Apply(StartTypecheckOnly); err != nil {
		t.Fatal(err)
	}
	got, err := m.Apply(ClientConnected)
	if err != nil {
		t.Fatal(err)
	}
	if got != QueuedForMake {
		t.Fatalf("got %v, want QueuedForMake", got)
	}
}

func TestAtShutdownClassifiesInFlightAsStuck(t *testing.T) {
	if AtShutdown(ElmMakeRunning) != StuckInProgress {
		t.Error("expected StuckInProgress")
	}
	if AtShutdown(Ready) != Ready {
		t.Error("expected Ready to stay Ready")
	}
}

func TestStringCoversAllStates(t *testing.T) {
	for s := Idle; s <= StuckInProgress; s++ {
		if s.String() == "Unknown" {
			t.Errorf("state %d has no name", s)
		}
	}
}
