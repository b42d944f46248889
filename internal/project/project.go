// Package project holds the static data model read from elm-watch.json:
// a Project is one absolute root directory and a non-empty map of Targets.
package project

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/elm-watch/elm-watch-go/internal/paths"
)

// targetNameRe matches a non-whitespace first character (other than '-'),
// no newlines anywhere, and a non-whitespace last character. A single
// non-whitespace, non-'-' character is also valid.
var targetNameRe = regexp.MustCompile(`^[^\s\-][^\n]*[^\s]$|^[^\s\-]$`)

// ErrInvalidTargetNameMessage is the exact user-facing message required by the
// target-name-validation testable property in spec.md §8.
const ErrInvalidTargetNameMessage = "Target names must start with a non-whitespace character except `-`, cannot contain newlines and must end with a non-whitespace character"

// ValidateTargetName reports whether name satisfies the invariant in
// spec.md §3.
func ValidateTargetName(name string) error {
	if strings.Contains(name, "\n") || !targetNameRe.MatchString(name) {
		return fmt.Errorf("%s", ErrInvalidTargetNameMessage)
	}
	return nil
}

// InputModule is one configured input: the module specifier string as it
// appeared in elm-watch.json plus (once resolved) the absolute file path.
type InputModule struct {
	Specifier string
	Resolved  paths.Absolute
}

// Target is one compile unit: a name, an ordered non-empty list of
// inputs, one output path, and an optional post-process command.
//
// Targets are immutable once built; a config reload discards the old
// Project and Target values and constructs new ones rather than mutating
// in place (spec.md §3).
type Target struct {
	Name        string
	Inputs      []InputModule
	Output      paths.Absolute
	Postprocess []string // argv; Postprocess[0] == "elm-watch-node" selects the scripted variant
}

// IsScriptedPostprocess reports whether the target's post-process command
// selects the elm-watch-node (in-process script) variant.
func (t *Target) IsScriptedPostprocess() bool {
	return len(t.Postprocess) > 0 && t.Postprocess[0] == "elm-watch-node"
}

// Project is one elm-watch.json: an absolute root and a non-empty mapping
// from target name to Target.
type Project struct {
	Root    paths.Absolute
	Targets map[string]*Target
	// order preserves the config file's key order for the "configuration
	// order" scheduling tie-break in spec.md §5.
	order []string
}

// OrderedTargetNames returns target names in config file order, the
// lowest-priority scheduling tie-break.
func (p *Project) OrderedTargetNames() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// NewProject validates and constructs a Project from a decoded config
// document. It does not touch the filesystem beyond what paths.Absolute
// requires (no existence checks) — that is the resolver's job (§4.5).
func NewProject(root paths.Absolute, doc ConfigDocument, orderedNames []string) (*Project, error) {
	if len(doc.Targets) == 0 {
		return nil, fmt.Errorf("project: elm-watch.json must declare at least one target")
	}
	targets := make(map[string]*Target, len(doc.Targets))
	for _, name := range orderedNames {
		raw, ok := doc.Targets[name]
		if !ok {
			continue
		}
		if err := ValidateTargetName(name); err != nil {
			return nil, fmt.Errorf("project: target %q: %w", name, err)
		}
		if len(raw.Inputs) == 0 {
			return nil, fmt.Errorf("project: target %q: inputs must be non-empty", name)
		}
		if !strings.HasSuffix(raw.Output, ".js") {
			return nil, fmt.Errorf("project: target %q: output %q must end in .js", name, raw.Output)
		}
		inputs := make([]InputModule, 0, len(raw.Inputs))
		for _, spec := range raw.Inputs {
			if !strings.HasSuffix(spec, ".elm") {
				return nil, fmt.Errorf("project: target %q: input %q must end in .elm", name, spec)
			}
			inputs = append(inputs, InputModule{Specifier: spec})
		}
		target := &Target{
			Name:        name,
			Inputs:      inputs,
			Output:      root.Join(raw.Output),
			Postprocess: raw.Postprocess,
		}
		targets[name] = target
	}
	sorted := append([]string(nil), orderedNames...)
	sort.Strings(sorted) // not used below: the order is orderedNames as given, and a target missing from orderedNames is not added
	return &Project{Root: root, Targets: targets, order: orderedNames}, nil
}

// MatchTargets returns the targets whose name contains substr as a
// substring, per the CLI's substring-match rule (spec.md §6). An empty
// slice of substrs matches every target.
func (p *Project) MatchTargets(substrs []string) (matched []*Target, unknown []string) {
	if len(substrs) == 0 {
		for _, name := range p.order {
			matched = append(matched, p.Targets[name])
		}
		return matched, nil
	}
	seen := make(map[string]bool)
	for _, substr := range substrs {
		found := false
		for _, name := range p.order {
			if strings.Contains(name, substr) {
				found = true
				if !seen[name] {
					seen[name] = true
					matched = append(matched, p.Targets[name])
				}
			}
		}
		if !found {
			unknown = append(unknown, substr)
		}
	}
	return matched, unknown
}
