// Package runnerpool implements C4: fans out one subprocess per test,
// bounded by MaxConcurrency, collects the trace each runner writes to the
// crank's run directory, and retries once for any test whose trace is
// missing or shape-malformed after the first pass.
package runnerpool

import (
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lotreace/skill-flywheel/pkg/testdef"
	"github.com/lotreace/skill-flywheel/pkg/trace"
)

// Config bounds the pool's concurrency and subprocess behavior.
type Config struct {
	RunnerBin      string
	MaxConcurrency int
	PerTestTimeout time.Duration
	ShutdownGrace  time.Duration
}

// Pool fans test executions out to runner subprocesses.
type Pool struct {
	cfg Config
}

// New creates a Pool from cfg, applying a minimum concurrency of 1.
func New(cfg Config) *Pool {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	return &Pool{cfg: cfg}
}

// Result is the outcome for one test after the fan-out and any retry.
type Result struct {
	TestID    string
	Trace     *trace.Trace
	Status    string // "ok", "error"
	Retried   bool
	RunnerErr error
}

// Run launches one runner subprocess per test in tests, bounded by
// MaxConcurrency, writing traces into runDir. It blocks until every runner
// completes or ctx is cancelled, then retries once for any test whose trace
// is absent or malformed.
func (p *Pool) Run(ctx context.Context, tests []testdef.TestDefinition, testsDir, runDir string) ([]Result, error) {
	results := make([]Result, len(tests))
	for i, td := range tests {
		results[i].TestID = td.ID
	}

	p.launchAll(ctx, tests, testsDir, runDir, results)
	p.collect(tests, runDir, results)

	retryIdx := make([]int, 0)
	retryTests := make([]testdef.TestDefinition, 0)
	for i, r := range results {
		if r.Status != "ok" {
			retryIdx = append(retryIdx, i)
			retryTests = append(retryTests, tests[i])
		}
	}

	if len(retryTests) > 0 {
		retryResults := make([]Result, len(retryTests))
		for i, td := range retryTests {
			retryResults[i].TestID = td.ID
		}
		p.launchAll(ctx, retryTests, testsDir, runDir, retryResults)
		p.collect(retryTests, runDir, retryResults)

		for j, origIdx := range retryIdx {
			retryResults[j].Retried = true
			results[origIdx] = retryResults[j]
		}
	}

	for i := range results {
		if results[i].Status != "ok" {
			results[i].Status = "error"
		}
	}

	return results, nil
}

// launchAll spawns one subprocess per test, bounded by MaxConcurrency, and
// waits for all to finish or for ctx to be cancelled.
func (p *Pool) launchAll(ctx context.Context, tests []testdef.TestDefinition, testsDir, runDir string, results []Result) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrency)

	for i, td := range tests {
		i, td := i, td
		g.Go(func() error {
			runCtx := gctx
			var cancel context.CancelFunc
			if p.cfg.PerTestTimeout > 0 {
				runCtx, cancel = context.WithTimeout(gctx, p.cfg.PerTestTimeout)
				defer cancel()
			}
			results[i].RunnerErr = p.runOne(runCtx, td, testsDir, runDir)
			return nil // per-test failures are local, never fail the group
		})
	}

	// Wait respects the grace period on cancellation: when ctx is done each
	// runner is sent an interrupt and is killed only if it is still running
	// ShutdownGrace later (see runOne).
	_ = g.Wait()
}

func (p *Pool) runOne(ctx context.Context, td testdef.TestDefinition, testsDir, runDir string) error {
	testPath := testsDir + "/" + td.ID + ".yaml"
	cmd := exec.CommandContext(ctx, p.cfg.RunnerBin,
		"--test", testPath,
		"--run-dir", runDir,
	)
	// Runner stdio is discarded by design: the orchestrator communicates
	// with runners only through the trace file on disk.
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = p.cfg.ShutdownGrace
	return cmd.Run()
}

// collect reads each test's trace file, marking status "ok" only when the
// trace loads and passes its shape check.
func (p *Pool) collect(tests []testdef.TestDefinition, runDir string, results []Result) {
	for i, td := range tests {
		path := trace.PathFor(runDir, td.ID)
		tr, ok, err := trace.Load(path)
		if err != nil || !ok {
			results[i].Status = "malformed"
			continue
		}
		results[i].Trace = tr
		results[i].Status = "ok"
	}
}
