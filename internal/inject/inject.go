// Package inject rewrites compiled Elm JS so it participates in hot
// module replacement: it locates known anchor points in the compiler's
// output by regex and applies a fixed set of search/replace edits.
package inject

import (
	"bytes"
	"fmt"
	"regexp"
	"sync"

	"github.com/elm-watch/elm-watch-go/internal/clientjs"
	"github.com/elm-watch/elm-watch-go/internal/compiler"
	"github.com/elm-watch/elm-watch-go/internal/paths"
)

// injectPoint is one anchor: probe confirms the landmark is present,
// search/replacement perform the actual rewrite. Kept as two separate
// regexes (rather than one) because some landmarks need a wider probe
// than the narrow text actually replaced, mirroring cjs_fixup.go's
// separation of detection from rewriting.
type injectPoint struct {
	purpose     string
	probe       *regexp.Regexp
	search      *regexp.Regexp
	replacement string
}

// programCtorRe locates `_Platform_initialize(` calls (program
// construction), the landmark that needs a handle captured for hot
// patching.
var programCtorRe = regexp.MustCompile(`_Platform_initialize`)

// viewRe locates the view-function registration inside a program
// record, the landmark whose identity determines whether a hot patch
// can swap rendering in place.
var viewRe = regexp.MustCompile(`\bimpl\.e\b`)

// debugMetadataRe locates the `_Platform_export` call, where elm-watch
// appends a record of each exported module's debug metadata consumed by
// the client runtime to decide full-reload vs hot-patch.
var debugMetadataRe = regexp.MustCompile(`_Platform_export\s*\(\s*\{`)

var injectPoints = []injectPoint{
	{
		purpose: "capture the program-constructor return value so the client runtime can re-invoke update/view on hot patch",
		probe:   programCtorRe,
		search:  regexp.MustCompile(`(var\s+\w+\s*=\s*)(_Platform_initialize\()`),
		replacement: "${1}window.__elmWatchProgram = $2",
	},
	{
		purpose: "tag the view function reference so the client runtime can detect a view-only change",
		probe:   viewRe,
		search:  regexp.MustCompile(`(impl\.e)`),
		replacement: "(window.__elmWatchLastView = $1)",
	},
	{
		purpose: "append elm-watch's own debug metadata block after the program registers its exports",
		probe:   debugMetadataRe,
		search:  regexp.MustCompile(`(_Platform_export\s*\(\s*\{)`),
		replacement: "$1\n__elmWatchDebugMetadata,",
	},
}

// Outcome classifies an Inject call's result.
type Outcome int

const (
	Injected Outcome = iota
	ProbeNotFound
)

// Result is the outcome of one Inject call.
type Result struct {
	Outcome Outcome
	Code    []byte // present when Outcome == Injected
	Meta    clientjs.ArtifactMeta // present when Outcome == Injected

	// ProbeNotFound payload
	Purpose        string
	Probe          string
	DiagnosticFile paths.Absolute
}

// Inject rewrites code so it participates in HMR. It does not check mode
// itself: TypeCheck runs produce no artifact to rewrite, so callers do
// not call Inject for that mode.
func Inject(code []byte, mode compiler.Mode, diagnosticDir paths.Absolute) Result {
	out := code
	for _, pt := range injectPoints {
		if !pt.probe.Match(out) {
			diag := writeDiagnostic(diagnosticDir, pt, out)
			return Result{
				Outcome:        ProbeNotFound,
				Purpose:        pt.purpose,
				Probe:          pt.probe.String(),
				DiagnosticFile: diag,
			}
		}
		out = pt.search.ReplaceAll(out, []byte(pt.replacement))
	}
	return Result{Outcome: Injected, Code: out, Meta: extractMeta(out, mode)}
}

var (
	diagnosticCountersMu sync.Mutex
	diagnosticCounters   = map[string]int{}
)

func writeDiagnostic(dir paths.Absolute, pt injectPoint, code []byte) paths.Absolute {
	key := dir.String()
	diagnosticCountersMu.Lock()
	n := diagnosticCounters[key] + 1
	diagnosticCounters[key] = n
	diagnosticCountersMu.Unlock()

	lines := bytes.SplitN(code, []byte("\n"), 21)
	head := lines
	if len(lines) > 20 {
		head = lines[:20]
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "purpose: %s\nprobe: %s\nsearch: %s\nreplacement: %s\n\n--- first 20 lines ---\n", pt.purpose, pt.probe.String(), pt.search.String(), pt.replacement)
	buf.Write(bytes.Join(head, []byte("\n")))

	file := dir.Join(fmt.Sprintf("InjectSearchAndReplaceNotFound-%d.txt", n))
	_ = file.WriteFileAtomic(buf.Bytes(), 0o644)
	return file
}
