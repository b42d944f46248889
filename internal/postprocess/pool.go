package postprocess

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxParallel is the default ELM_WATCH_MAX_PARALLEL value for the
// shell-variant pool (spec.md §4.3, §6).
const DefaultMaxParallel = 2

// Pool bounds concurrent post-process runs, mirroring
// esmdev.prebundleAllPackages's errgroup.SetLimit(runtime.NumCPU())
// idiom — here the limit is the configured parallelism cap rather than
// CPU count, since the bottleneck is usually a slow user script, not
// local cores. One Pool serves either the shell variant (capped by
// ELM_WATCH_MAX_PARALLEL) or the elm-watch-node variant (capped by a
// separate per-project worker count) — never both, per §4.3.
type Pool struct {
	limit int
}

// NewPool builds a Pool allowing at most limit concurrent runs. A limit
// <= 0 is treated as 1 so callers can't accidentally construct an
// unbounded pool.
func NewPool(limit int) *Pool {
	if limit <= 0 {
		limit = 1
	}
	return &Pool{limit: limit}
}

// Job is one queued post-process request.
type Job struct {
	Runner  Runner
	Target  string
	Code    []byte
	Mode    Mode
	RunMode RunMode
}

// RunAll runs every job, respecting the pool's concurrency limit, and
// returns results in the same order as jobs. Cancelling ctx cancels
// not-yet-started jobs and propagates to in-flight ones via their
// Runner's own ctx handling.
func (p *Pool) RunAll(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			results[i] = job.Runner.Run(gctx, job.Target, job.Code, job.Mode, job.RunMode)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
