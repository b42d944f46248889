package postprocess

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/elm-watch/elm-watch-go/internal/paths"
)

// nodeRequest/nodeResponse are the newline-delimited JSON messages
// exchanged with the long-lived elm-watch-node worker. Code is
// base64-encoded since compiled JS is not guaranteed valid UTF-8 once
// postprocess scripts start doing binary-unsafe string munging.
type nodeRequest struct {
	Target  string `json:"target"`
	Code    string `json:"code"`
	Mode    string `json:"mode"`
	RunMode string `json:"runMode"`
}

type nodeResponse struct {
	Ok    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// nodeRunner drives a single long-lived Node subprocess running
// scriptPath, loaded lazily on first request and torn down on Close or
// on a script-file change notification from the watcher (see
// internal/watcher's PostprocessScriptChanged classification).
type nodeRunner struct {
	scriptPath string
	scriptArgs []string
	env        paths.Environment

	mu     sync.Mutex
	proc   *paths.Process
	reader *bufio.Reader
}

func newNodeRunner(scriptPath string, scriptArgs []string) *nodeRunner {
	return &nodeRunner{scriptPath: scriptPath, scriptArgs: scriptArgs, env: paths.SnapshotEnvironment()}
}

func (r *nodeRunner) ensureStarted(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc != nil {
		return nil
	}
	proc, err := paths.Spawn(ctx, "node", paths.SpawnOptions{
		Env:              r.env,
		Args:             append([]string{r.scriptPath}, r.scriptArgs...),
		WantStdin:        true,
		WantStdoutStream: true,
	})
	if err != nil {
		return err
	}
	r.proc = proc
	r.reader = bufio.NewReader(proc.Stdout())
	return nil
}

// Close terminates the worker process. Safe to call when no worker has
// started yet.
func (r *nodeRunner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc != nil {
		r.proc.Kill()
		r.proc = nil
	}
}

func (r *nodeRunner) Run(ctx context.Context, target string, code []byte, mode Mode, runMode RunMode) Result {
	if err := r.ensureStarted(ctx); err != nil {
		return Result{Outcome: ScriptError, ExitReason: err.Error(), CommandEcho: []string{"elm-watch-node", r.scriptPath}}
	}

	req := nodeRequest{
		Target:  target,
		Code:    base64.StdEncoding.EncodeToString(code),
		Mode:    mode.String(),
		RunMode: runMode.String(),
	}
	line, err := json.Marshal(req)
	if err != nil {
		return Result{Outcome: ScriptError, ExitReason: err.Error()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.proc.Stdin().Write(append(line, '\n')); err != nil {
		return Result{Outcome: ScriptError, ExitReason: fmt.Sprintf("writing request to worker: %v", err)}
	}

	waitCh := make(chan struct {
		resp nodeResponse
		err  error
	}, 1)
	go func() {
		resp, err := r.readResponse()
		waitCh <- struct {
			resp nodeResponse
			err  error
		}{resp, err}
	}()

	select {
	case <-ctx.Done():
		return Result{Outcome: ScriptError, ExitReason: ctx.Err().Error()}
	case res := <-waitCh:
		if res.err != nil {
			return Result{Outcome: ScriptError, ExitReason: res.err.Error()}
		}
		if !res.resp.Ok {
			return Result{Outcome: ScriptError, ExitReason: res.resp.Error}
		}
		decoded, err := base64.StdEncoding.DecodeString(res.resp.Code)
		if err != nil {
			return Result{Outcome: ScriptError, ExitReason: fmt.Sprintf("decoding worker response: %v", err)}
		}
		return Result{Outcome: Success, Code: decoded}
	}
}

// readResponse reads one newline-delimited JSON response from the
// worker's stdout, the live stream paths.Process exposes through
// Stdout(). Separated out from Run's request-writing logic.
func (r *nodeRunner) readResponse() (nodeResponse, error) {
	if r.reader == nil {
		return nodeResponse{}, fmt.Errorf("postprocess: worker stdout stream not available")
	}
	line, err := r.reader.ReadBytes('\n')
	if err != nil {
		return nodeResponse{}, err
	}
	var resp nodeResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nodeResponse{}, err
	}
	return resp, nil
}
