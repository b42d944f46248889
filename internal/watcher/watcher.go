// Package watcher wraps fsnotify with debounce/coalescing and classifies
// surviving events against a project's config, manifest, source files,
// and post-process scripts.
package watcher

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/elm-watch/elm-watch-go/internal/paths"
)

// Classification is the result of classifying one debounced, coalesced
// change against the current project (spec.md §4.6).
type Classification int

const (
	Unrelated Classification = iota
	ConfigChanged
	ManifestChanged
	ElmSourceChanged
	PostprocessScriptChanged
)

// Event is one classified change delivered to the supervisor.
type Event struct {
	Path           paths.Absolute
	Classification Classification
	// AffectedTargets is populated for ElmSourceChanged: the targets
	// whose resolved import closure contains Path. Empty means "not
	// imported by any target" (the FYI case in spec.md §4.6).
	AffectedTargets []string
}

// DefaultDebounce matches the coalescing window implied by spec.md
// §4.6 ("a short window"); the teacher's equivalent poll loop in
// esmdev/hmr.go used 100ms, but fsnotify delivers real OS events so a
// much shorter window is enough to coalesce a single save's rename+write
// burst.
const DefaultDebounce = 10 * time.Millisecond

// WatchedSet is the mutable mapping the supervisor maintains from
// watched path to the set of target names whose import closure
// currently contains it, plus the config and manifest paths.
type WatchedSet struct {
	mu             sync.RWMutex
	configPath     paths.Absolute
	manifestPaths  map[string]bool
	scriptPaths    map[string]bool
	sourceTargets  map[string]map[string]bool // source path -> set of target names
}

// NewWatchedSet builds an empty set rooted at configPath.
func NewWatchedSet(configPath paths.Absolute) *WatchedSet {
	return &WatchedSet{
		configPath:    configPath,
		manifestPaths: map[string]bool{},
		scriptPaths:   map[string]bool{},
		sourceTargets: map[string]map[string]bool{},
	}
}

// SetTargetWatches replaces the watched source files recorded for
// target, and records manifestPath as one of the watched manifests.
// Called each time the supervisor resolves a target's inputs, before
// the target's compile is queued; it is not called again when the
// compile finishes.
func (w *WatchedSet) SetTargetWatches(target string, sourcePaths []paths.Absolute, manifestPath paths.Absolute, scriptPath paths.Absolute) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, targets := range w.sourceTargets {
		delete(targets, target)
		if len(targets) == 0 {
			delete(w.sourceTargets, key)
		}
	}
	for _, p := range sourcePaths {
		key := p.String()
		if w.sourceTargets[key] == nil {
			w.sourceTargets[key] = map[string]bool{}
		}
		w.sourceTargets[key][target] = true
	}
	if !manifestPath.IsZero() {
		w.manifestPaths[manifestPath.String()] = true
	}
	if !scriptPath.IsZero() {
		w.scriptPaths[scriptPath.String()] = true
	}
}

// Classify assigns a Classification to path, consulting set for
// manifest/source/script membership.
func Classify(path paths.Absolute, set *WatchedSet) Event {
	set.mu.RLock()
	defer set.mu.RUnlock()

	key := path.String()
	switch {
	case key == set.configPath.String():
		return Event{Path: path, Classification: ConfigChanged}
	case set.manifestPaths[key]:
		return Event{Path: path, Classification: ManifestChanged}
	case set.scriptPaths[key]:
		return Event{Path: path, Classification: PostprocessScriptChanged}
	case filepathHasElmExt(key):
		targets := set.sourceTargets[key]
		var names []string
		for name := range targets {
			names = append(names, name)
		}
		return Event{Path: path, Classification: ElmSourceChanged, AffectedTargets: names}
	default:
		return Event{Path: path, Classification: Unrelated}
	}
}

func filepathHasElmExt(p string) bool {
	return len(p) > 4 && p[len(p)-4:] == ".elm"
}

// Watcher debounces fsnotify events and delivers classified Events on
// Events(). Close releases the underlying fsnotify.Watcher.
type Watcher struct {
	fs       *fsnotify.Watcher
	set      *WatchedSet
	debounce time.Duration
	out      chan Event
	errs     chan error
	done     chan struct{}
}

// New creates a Watcher that watches no directory until AddDir is
// called; fsnotify does not watch recursively, so each directory to
// watch is added on its own.
func New(set *WatchedSet, debounce time.Duration) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{
		fs:       fs,
		set:      set,
		debounce: debounce,
		out:      make(chan Event),
		errs:     make(chan error),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// AddDir registers dir (non-recursively; fsnotify watches one directory
// level at a time) for watching.
func (w *Watcher) AddDir(dir paths.Absolute) error {
	return w.fs.Add(dir.String())
}

// Events returns the channel of classified, debounced events.
func (w *Watcher) Events() <-chan Event { return w.out }

// Errors returns the channel of underlying fsnotify errors.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops the watcher and releases its fsnotify.Watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}

// run coalesces bursts by path within w.debounce, same shape as the
// teacher's 100ms poll loop in esmdev/hmr.go but driven by real fsnotify
// events instead of a stat-based poll.
func (w *Watcher) run() {
	pending := map[string]*time.Timer{}
	var mu sync.Mutex

	fire := func(name string) {
		abs, err := paths.NewAbsolute(name)
		if err != nil {
			return
		}
		select {
		case w.out <- Classify(abs, w.set):
		case <-w.done:
		}
		mu.Lock()
		delete(pending, name)
		mu.Unlock()
	}

	for {
		select {
		case <-w.done:
			mu.Lock()
			for _, t := range pending {
				t.Stop()
			}
			mu.Unlock()
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			mu.Lock()
			if t, exists := pending[ev.Name]; exists {
				t.Reset(w.debounce)
			} else {
				name := ev.Name
				pending[name] = time.AfterFunc(w.debounce, func() { fire(name) })
			}
			mu.Unlock()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			case <-w.done:
			}
		}
	}
}
