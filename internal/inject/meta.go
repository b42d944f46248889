package inject

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"github.com/elm-watch/elm-watch-go/internal/clientjs"
	"github.com/elm-watch/elm-watch-go/internal/compiler"
)

// applicationCtorRe and friends locate the top-level program constructor a
// compiled bundle calls, the same landmark style as injectPoints above:
// narrow regexes over the compiled text rather than a JS parser.
var (
	applicationCtorRe = regexp.MustCompile(`_Browser_application\s*\(`)
	documentCtorRe    = regexp.MustCompile(`_Browser_document\s*\(`)
	elementCtorRe     = regexp.MustCompile(`_Browser_element\s*\(`)
)

// platformInitRe captures the full argument list _Platform_initialize is
// called with: its shape (flags decoder, init, update, subscriptions,
// view, and the ports/effect manager setup passed along with them) is a
// reasonable proxy for "would init produce a differently-shaped model",
// since a changed model shape almost always means a changed call site.
var platformInitRe = regexp.MustCompile(`_Platform_initialize\(([\s\S]*?)\)\s*;`)

// portRe matches `_Platform_export`'s ports sub-object keys, the only
// place compiled JS enumerates a program's port names.
var portRe = regexp.MustCompile(`ports:\s*\{([\s\S]*?)\}`)
var portNameRe = regexp.MustCompile(`'([A-Za-z_][A-Za-z0-9_]*)'\s*:`)

// recordCtorRe matches the record constructor functions elm compiles
// field-mangled record literals down to (`function(a,b,c){return {a:a,...}`
// shaped calls carry an record's field order in argument order).
var recordCtorRe = regexp.MustCompile(`\$author\$project\$[A-Za-z0-9_$]+\s*=\s*F\d`)

func extractProgramType(code []byte) clientjs.ProgramType {
	switch {
	case applicationCtorRe.Match(code):
		return clientjs.ProgramApplication
	case documentCtorRe.Match(code):
		return clientjs.ProgramDocument
	case elementCtorRe.Match(code):
		return clientjs.ProgramElement
	default:
		return clientjs.ProgramSandbox
	}
}

func extractPorts(code []byte) []string {
	m := portRe.FindSubmatch(code)
	if m == nil {
		return nil
	}
	names := portNameRe.FindAllSubmatch(m[1], -1)
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, string(n[1]))
	}
	return out
}

// fingerprint reduces a matched substring to a short, order-sensitive
// digest: the exact bytes don't matter to DecideReload, only whether two
// compiles produced the same ones.
func fingerprint(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

func extractDebugMetadata(code []byte) string {
	m := debugMetadataRe.FindIndex(code)
	if m == nil {
		return ""
	}
	// the call's argument opens right after the matched "(" + "{"; take a
	// bounded window of source following it as the metadata fingerprint
	// input, since the literal can be arbitrarily large.
	start := m[1]
	end := start + 2000
	if end > len(code) {
		end = len(code)
	}
	return fingerprint(code[start:end])
}

func extractFlagsShape(code []byte) string {
	m := platformInitRe.FindSubmatch(code)
	if m == nil {
		return ""
	}
	// The flags argument is the first element of the captured argument
	// list; a changed decoder call site changes this fingerprint.
	first := m[1]
	depth := 0
scan:
	for i, c := range m[1] {
		switch c {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				first = m[1][:i]
				break scan
			}
		}
	}
	return fingerprint(first)
}

func extractModelShape(code []byte) string {
	// Distinct from extractFlagsShape: fingerprint the full call rather
	// than just the first argument, since init/update/view identity
	// changes (not just flags) can change the produced model's shape.
	m := platformInitRe.Find(code)
	if m == nil {
		return ""
	}
	return fingerprint(m)
}

func extractRecordFieldOrder(code []byte) string {
	matches := recordCtorRe.FindAll(code, -1)
	if matches == nil {
		return ""
	}
	var all []byte
	for _, m := range matches {
		all = append(all, m...)
	}
	return fingerprint(all)
}

// extractMeta builds an ArtifactMeta from rewritten bundle code. DebugMode
// and OptimizeMode aren't extractable from the text alone — they're filled
// in by the caller, which already knows the compiler.OptimizeLevel it
// asked for.
func extractMeta(code []byte, mode compiler.Mode) clientjs.ArtifactMeta {
	return clientjs.ArtifactMeta{
		ProgramType:      extractProgramType(code),
		DebugMetadata:    extractDebugMetadata(code),
		RecordFieldOrder: extractRecordFieldOrder(code),
		FlagsShape:       extractFlagsShape(code),
		ModelShape:       extractModelShape(code),
		Ports:            extractPorts(code),
	}
}
