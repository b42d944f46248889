// Package statefile persists elm-stuff/elm-watch-stuff.json: the chosen
// port and each target's last compilation mode.
package statefile

import (
	"encoding/json"
	"fmt"

	"github.com/elm-watch/elm-watch-go/internal/paths"
)

// FileName is the persisted state file's name, relative to a project's
// elm-stuff directory.
const FileName = "elm-watch-stuff.json"

// CompilationMode mirrors compiler.OptimizeLevel's three values as the
// JSON strings spec.md §6 names.
type CompilationMode string

const (
	Standard CompilationMode = "standard"
	Debug    CompilationMode = "debug"
	Optimize CompilationMode = "optimize"
)

// TargetState is one target's persisted entry.
type TargetState struct {
	CompilationMode CompilationMode `json:"compilationMode"`
}

// State is the full persisted document.
type State struct {
	Port    int                    `json:"port"`
	Targets map[string]TargetState `json:"targets"`
}

// Path returns the absolute path of the state file under root's
// elm-stuff directory.
func Path(root paths.Absolute) paths.Absolute {
	return root.Join("elm-stuff", FileName)
}

// Load reads and decodes the state file. A missing file is not an
// error: it returns a zero-value State with an empty Targets map, since
// the file doesn't exist on a project's first run.
func Load(root paths.Absolute) (State, error) {
	p := Path(root)
	if !p.Exists() {
		return State{Targets: map[string]TargetState{}}, nil
	}
	data, err := p.ReadFile()
	if err != nil {
		return State{}, fmt.Errorf("statefile: read: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("statefile: decode: %w", err)
	}
	if s.Targets == nil {
		s.Targets = map[string]TargetState{}
	}
	return s, nil
}

// Save writes s to the state file atomically. Called by the supervisor
// after any change (port chosen, a target's compilation mode changes),
// never from any other task.
func Save(root paths.Absolute, s State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("statefile: encode: %w", err)
	}
	return Path(root).WriteFileAtomic(data, 0o644)
}
