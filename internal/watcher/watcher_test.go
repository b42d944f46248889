package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/elm-watch/elm-watch-go/internal/paths"
)

func TestClassifyConfigChanged(t *testing.T) {
	dir := t.TempDir()
	configPath := paths.MustAbsolute(filepath.Join(dir, "elm-watch.json"))
	set := NewWatchedSet(configPath)

	ev := Classify(configPath, set)
	if ev.Classification != ConfigChanged {
		t.Errorf("classification = %v, want ConfigChanged", ev.Classification)
	}
}

func TestClassifyManifestChanged(t *testing.T) {
	dir := t.TempDir()
	configPath := paths.MustAbsolute(filepath.Join(dir, "elm-watch.json"))
	manifest := paths.MustAbsolute(filepath.Join(dir, "elm.json"))
	set := NewWatchedSet(configPath)
	set.SetTargetWatches("main", nil, manifest, paths.Absolute{})

	ev := Classify(manifest, set)
	if ev.Classification != ManifestChanged {
		t.Errorf("classification = %v, want ManifestChanged", ev.Classification)
	}
}

func TestClassifyElmSourceChangedTracksAffectedTargets(t *testing.T) {
	dir := t.TempDir()
	configPath := paths.MustAbsolute(filepath.Join(dir, "elm-watch.json"))
	source := paths.MustAbsolute(filepath.Join(dir, "src", "Main.elm"))
	set := NewWatchedSet(configPath)
	set.SetTargetWatches("main", []paths.Absolute{source}, paths.Absolute{}, paths.Absolute{})

	ev := Classify(source, set)
	if ev.Classification != ElmSourceChanged {
		t.Fatalf("classification = %v, want ElmSourceChanged", ev.Classification)
	}
	if len(ev.AffectedTargets) != 1 || ev.AffectedTargets[0] != "main" {
		t.Errorf("affected = %v", ev.AffectedTargets)
	}
}

func TestClassifyUnimportedElmSourceHasEmptyTargetList(t *testing.T) {
	dir := t.TempDir()
	configPath := paths.MustAbsolute(filepath.Join(dir, "elm-watch.json"))
	source := paths.MustAbsolute(filepath.Join(dir, "src", "Orphan.elm"))
	set := NewWatchedSet(configPath)

	ev := Classify(source, set)
	if ev.Classification != ElmSourceChanged {
		t.Fatalf("classification = %v, want ElmSourceChanged", ev.Classification)
	}
	if len(ev.AffectedTargets) != 0 {
		t.Errorf("expected no affected targets, got %v", ev.AffectedTargets)
	}
}

func TestClassifyUnrelatedFile(t *testing.T) {
	dir := t.TempDir()
	configPath := paths.MustAbsolute(filepath.Join(dir, "elm-watch.json"))
	set := NewWatchedSet(configPath)

	ev := Classify(paths.MustAbsolute(filepath.Join(dir, "README.md")), set)
	if ev.Classification != Unrelated {
		t.Errorf("classification = %v, want Unrelated", ev.Classification)
	}
}

func TestWatcherDebouncesBurstIntoOneEvent(t *testing.T) {
	dir := t.TempDir()
	configPath := paths.MustAbsolute(filepath.Join(dir, "elm-watch.json"))
	set := NewWatchedSet(configPath)

	w, err := New(set, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()
	if err := w.AddDir(paths.MustAbsolute(dir)); err != nil {
		t.Fatalf("AddDir: %v", err)
	}

	target := filepath.Join(dir, "elm-watch.json")
	for i := 0; i < 3; i++ {
		os.WriteFile(target, []byte("{}"), 0o644)
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case ev := <-w.Events():
		if ev.Classification != ConfigChanged {
			t.Errorf("classification = %v, want ConfigChanged", ev.Classification)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for debounced event")
	}
}
