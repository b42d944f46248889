// Package resolver resolves a target's declared input module specifiers
// to files on disk, locates the project manifest they share, and walks
// the import graph to build a watched-file set.
package resolver

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/elm-watch/elm-watch-go/internal/paths"
	"github.com/elm-watch/elm-watch-go/internal/project"
)

// FailureKind enumerates the closed set of ways resolution can fail,
// per spec.md §4.5.
type FailureKind int

const (
	InputsNotFound FailureKind = iota
	InputsFailedToResolve
	DuplicateInputs
	ElmJsonNotFound
	NonUniqueElmJson
	NoCommonRoot
)

// Failure is a resolution error carrying its kind and the offending
// paths, so the CLI can render a scenario-specific message (spec.md §8).
type Failure struct {
	Kind  FailureKind
	Paths []string
	Cause error
}

func (f *Failure) Error() string {
	switch f.Kind {
	case InputsNotFound:
		return fmt.Sprintf("resolver: input(s) not found: %v", f.Paths)
	case InputsFailedToResolve:
		return fmt.Sprintf("resolver: failed to resolve input(s) %v: %v", f.Paths, f.Cause)
	case DuplicateInputs:
		return fmt.Sprintf("resolver: duplicate input(s): %v", f.Paths)
	case ElmJsonNotFound:
		return fmt.Sprintf("resolver: no elm.json found above %v", f.Paths)
	case NonUniqueElmJson:
		return fmt.Sprintf("resolver: input(s) do not share a single elm.json: %v", f.Paths)
	case NoCommonRoot:
		return fmt.Sprintf("resolver: input(s) share no common root: %v", f.Paths)
	default:
		return "resolver: resolution failed"
	}
}

func (f *Failure) Unwrap() error { return f.Cause }

// WatchedFileKind classifies a path in the watched-file set.
type WatchedFileKind int

const (
	ElmSource WatchedFileKind = iota
	ElmManifest
	ConfigFile
	PostprocessScript
	DerivedInput
)

// WatchedFile is one path the supervisor should react to on change.
type WatchedFile struct {
	Path paths.Absolute
	Kind WatchedFileKind
}

// Resolution is the successful result of resolving a target: the
// elm.json governing it, and the watched-file set derived from the
// transitive import closure.
type Resolution struct {
	ElmJSON          paths.Absolute
	Watched          []WatchedFile
	IncompleteReason error // non-nil if TroubleReadingElmFiles occurred; artifact is still usable
}

// moduleHeaderRe matches an Elm module declaration line, e.g.
// "module Main exposing (..)" or "port module Main.Sub exposing (..)".
var moduleHeaderRe = regexp.MustCompile(`(?m)^\s*(?:port\s+)?module\s+([A-Z][\w.]*)\s+exposing\b`)

// importRe matches a local (non-package) Elm import line.
var importRe = regexp.MustCompile(`(?m)^\s*import\s+([A-Z][\w.]*)`)

// ResolveTarget resolves t's inputs against root: checks existence and
// module-header-matches-path, locates the single shared elm.json, and
// walks the import closure best-effort.
func ResolveTarget(root paths.Absolute, t *project.Target) (Resolution, error) {
	if err := checkDuplicates(t); err != nil {
		return Resolution{}, err
	}

	var resolvedInputs []paths.Absolute
	var notFound []string
	for i, in := range t.Inputs {
		abs := root.Join(in.Specifier)
		if !abs.IsFile() {
			notFound = append(notFound, in.Specifier)
			continue
		}
		t.Inputs[i].Resolved = abs
		resolvedInputs = append(resolvedInputs, abs)
	}
	if len(notFound) > 0 {
		return Resolution{}, &Failure{Kind: InputsNotFound, Paths: notFound}
	}

	for _, abs := range resolvedInputs {
		data, err := abs.ReadFile()
		if err != nil {
			return Resolution{}, &Failure{Kind: InputsFailedToResolve, Paths: []string{abs.String()}, Cause: err}
		}
		m := moduleHeaderRe.FindSubmatch(data)
		if m == nil {
			return Resolution{}, &Failure{Kind: InputsFailedToResolve, Paths: []string{abs.String()}, Cause: fmt.Errorf("no module header found")}
		}
		expectedSuffix := strings.ReplaceAll(string(m[1]), ".", string(filepath.Separator)) + ".elm"
		if !strings.HasSuffix(abs.String(), expectedSuffix) {
			return Resolution{}, &Failure{Kind: InputsFailedToResolve, Paths: []string{abs.String()}, Cause: fmt.Errorf("module header %q does not match file path", m[1])}
		}
	}

	elmJSON, err := findSharedElmJSON(resolvedInputs)
	if err != nil {
		return Resolution{}, err
	}

	watched := []WatchedFile{
		{Path: elmJSON, Kind: ElmManifest},
	}
	seen := map[string]bool{}
	var incomplete error
	for _, abs := range resolvedInputs {
		closure, err := importClosure(abs, sourceRootsFor(elmJSON), seen)
		if err != nil && incomplete == nil {
			incomplete = fmt.Errorf("TroubleReadingElmFiles: %w", err)
		}
		watched = append(watched, closure...)
	}

	return Resolution{ElmJSON: elmJSON, Watched: watched, IncompleteReason: incomplete}, nil
}

func checkDuplicates(t *project.Target) error {
	seen := map[string]bool{}
	var dupes []string
	for _, in := range t.Inputs {
		if seen[in.Specifier] {
			dupes = append(dupes, in.Specifier)
		}
		seen[in.Specifier] = true
	}
	if len(dupes) > 0 {
		return &Failure{Kind: DuplicateInputs, Paths: dupes}
	}
	return nil
}

// findSharedElmJSON walks up from each input's directory looking for
// elm.json, and requires every input to find the same one.
func findSharedElmJSON(inputs []paths.Absolute) (paths.Absolute, error) {
	var shared paths.Absolute
	for _, abs := range inputs {
		found, ok := nearestElmJSON(abs.Dir())
		if !ok {
			return paths.Absolute{}, &Failure{Kind: ElmJsonNotFound, Paths: []string{abs.String()}}
		}
		if shared.IsZero() {
			shared = found
			continue
		}
		if shared.String() != found.String() {
			return paths.Absolute{}, &Failure{Kind: NonUniqueElmJson, Paths: []string{shared.String(), found.String()}}
		}
	}
	return shared, nil
}

func nearestElmJSON(dir paths.Absolute) (paths.Absolute, bool) {
	cur := dir
	for {
		candidate := cur.Join("elm.json")
		if candidate.IsFile() {
			return candidate, true
		}
		parent := cur.Dir()
		if parent.String() == cur.String() {
			return paths.Absolute{}, false
		}
		cur = parent
	}
}

// sourceRootsFor returns the manifest's directory and its src
// subdirectory as Elm source roots; elm.json's source-directories field
// is not read. Kept minimal since a best-effort closure only needs to find files that plausibly exist;
// a miss here only ever downgrades to TroubleReadingElmFiles, never an
// incorrect artifact.
func sourceRootsFor(elmJSON paths.Absolute) []paths.Absolute {
	return []paths.Absolute{elmJSON.Dir(), elmJSON.Dir().Join("src")}
}

// importClosure walks abs's local imports transitively, skipping
// modules already in seen. Read errors on a transitive file are
// reported but don't stop the walk — best-effort, same policy as
// esmdev/imports.go's extractMissingPkgs.
func importClosure(abs paths.Absolute, roots []paths.Absolute, seen map[string]bool) ([]WatchedFile, error) {
	key := abs.String()
	if seen[key] {
		return nil, nil
	}
	seen[key] = true

	var out []WatchedFile
	out = append(out, WatchedFile{Path: abs, Kind: ElmSource})

	f, err := os.Open(abs.String())
	if err != nil {
		return out, err
	}
	defer f.Close()

	var firstErr error
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := importRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		modulePath := strings.ReplaceAll(m[1], ".", string(filepath.Separator)) + ".elm"
		for _, root := range roots {
			candidate := root.Join(modulePath)
			if !candidate.IsFile() {
				continue
			}
			closure, err := importClosure(candidate, roots, seen)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			out = append(out, closure...)
			break
		}
	}
	if err := scanner.Err(); err != nil && firstErr == nil {
		firstErr = err
	}
	return out, firstErr
}
