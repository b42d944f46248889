// Package postprocess runs a target's configured post-process command
// over its compiled JS, either as a plain shell command or as a
// long-lived elm-watch-node worker script.
package postprocess

import (
	"context"
	"fmt"

	"github.com/elm-watch/elm-watch-go/internal/compiler"
)

// Mode mirrors compiler.Mode; the post-process command receives it as
// one of its trailing argv tokens.
type Mode = compiler.Mode

// RunMode distinguishes a normal hot-mode run from a one-shot make run,
// passed through to the post-process command as documented in spec.md
// §4.3.
type RunMode int

const (
	Make RunMode = iota
	Hot
)

func (m RunMode) String() string {
	if m == Hot {
		return "hot"
	}
	return "make"
}

// Outcome classifies a Runner.Run result.
type Outcome int

const (
	Success Outcome = iota
	UserError   // stdin write failed and the process had not exited when the grace period ended: "forgot to read stdin"
	ScriptError // non-zero exit, or an EPIPE that raced a non-zero exit
)

// Result is the outcome of one post-process run.
type Result struct {
	Outcome    Outcome
	Code       []byte // present when Outcome == Success
	ExitReason string
	Stdout     []byte
	Stderr     []byte
	CommandEcho []string
}

// Runner post-processes one target's compiled JS.
type Runner interface {
	Run(ctx context.Context, target string, code []byte, mode Mode, runMode RunMode) Result
	// Close releases any resources held by the runner (e.g. a live
	// elm-watch-node worker process).
	Close()
}

// ErrUnknownVariant is returned by New when argv doesn't select either
// supported variant.
var ErrUnknownVariant = fmt.Errorf("postprocess: argv must be a shell command or start with elm-watch-node")

// New builds the Runner selected by a target's Postprocess argv: argv[0]
// == "elm-watch-node" selects the scripted worker variant; anything else
// is run as a shell command.
func New(argv []string) (Runner, error) {
	if len(argv) == 0 {
		return nil, ErrUnknownVariant
	}
	if argv[0] == "elm-watch-node" {
		if len(argv) < 2 {
			return nil, fmt.Errorf("postprocess: elm-watch-node requires a script path argument")
		}
		return newNodeRunner(argv[1], argv[2:]), nil
	}
	return newShellRunner(argv), nil
}
