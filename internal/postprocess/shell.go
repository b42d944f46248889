package postprocess

import (
	"context"
	"errors"
	"time"

	"github.com/elm-watch/elm-watch-go/internal/paths"
)

// epipeGracePeriod is the window the shell runner waits, after a stdin
// write fails, to see whether the process then exits cleanly (a raced
// EPIPE, not an error) or non-zero (the script genuinely crashed).
// spec.md §9 names this policy explicitly and asks implementers not to
// "fix" the race, only reproduce it.
const epipeGracePeriod = 500 * time.Millisecond

type shellRunner struct {
	argv []string
	env  paths.Environment
	dir  string
}

func newShellRunner(argv []string) *shellRunner {
	return &shellRunner{argv: argv, env: paths.SnapshotEnvironment()}
}

func (r *shellRunner) Close() {}

// Run spawns the configured command with (outputPath, compilationMode,
// runMode) appended to argv, pipes code over stdin, and reads the
// post-processed bytes from stdout.
func (r *shellRunner) Run(ctx context.Context, target string, code []byte, mode Mode, runMode RunMode) Result {
	args := append(append([]string{}, r.argv[1:]...), target, mode.String(), runMode.String())
	proc, err := paths.Spawn(ctx, r.argv[0], paths.SpawnOptions{
		Dir:       r.dir,
		Env:       r.env,
		Args:      args,
		WantStdin: true,
	})
	if err != nil {
		return Result{Outcome: ScriptError, ExitReason: err.Error(), CommandEcho: r.argv}
	}

	writeErrCh := make(chan error, 1)
	go func() {
		_, err := proc.Stdin().Write(code)
		closeErr := proc.Stdin().Close()
		if err == nil {
			err = closeErr
		}
		writeErrCh <- err
	}()

	writeErr := <-writeErrCh
	if writeErr == nil {
		res, waitErr := proc.Wait(ctx)
		return classifyShellResult(res, waitErr, r.argv)
	}

	// Stdin write failed. Race: does the process exit within the grace
	// period (a raced EPIPE, report the real exit), or does it hang
	// (treat the write failure itself as the error)?
	waitCtx, cancel := context.WithTimeout(ctx, epipeGracePeriod)
	defer cancel()
	res, waitErr := proc.Wait(waitCtx)
	if errors.Is(waitErr, context.DeadlineExceeded) {
		return Result{
			Outcome:     UserError,
			ExitReason:  "post-process command did not read all of stdin (forgot to read stdin?)",
			CommandEcho: r.argv,
		}
	}
	return classifyShellResult(res, waitErr, r.argv)
}

func classifyShellResult(res paths.SpawnResult, waitErr error, argv []string) Result {
	if waitErr != nil {
		return Result{Outcome: ScriptError, ExitReason: waitErr.Error(), Stdout: res.Stdout, Stderr: res.Stderr, CommandEcho: argv}
	}
	if res.ExitCode != 0 {
		return Result{Outcome: ScriptError, ExitReason: "non-zero exit", Stdout: res.Stdout, Stderr: res.Stderr, CommandEcho: argv}
	}
	return Result{Outcome: Success, Code: res.Stdout}
}
