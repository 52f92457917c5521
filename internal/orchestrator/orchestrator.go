// Package orchestrator fans planned jobs out across a bounded worker pool
// and owns the run directory: it recreates it, persists the run parameters
// before the first job starts, and aggregates every job summary.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/resolvelab/ecotest/internal/config"
	"github.com/resolvelab/ecotest/internal/plan"
	"github.com/resolvelab/ecotest/internal/progress"
	"github.com/resolvelab/ecotest/internal/runner"
)

// Options configures one run.
type Options struct {
	// Tool is the resolver executable under test.
	Tool string
	// Output is the run directory. Recreated empty on every run.
	Output string

	Mode            config.Mode
	Python          string
	Cache           string
	Offline         bool
	Latest          bool
	UnsafeExecution bool

	// Workers bounds the pool; 0 means twice the hardware parallelism. The
	// resolver is CPU and memory bound, so the pool stays near the core
	// count rather than the much higher fan-out used for network fetches.
	Workers int

	// Progress receives the live meter and the run summary. Defaults to
	// os.Stderr for the meter and os.Stdout for the summary when nil.
	Progress io.Writer

	Log *slog.Logger
}

// Result aggregates a completed run.
type Result struct {
	Summaries []runner.Summary
	Total     int
	Success   int
}

// Run executes all jobs. Completion order is non-deterministic and carries
// no meaning; the artifact tree is keyed by package name. A runner error
// (failed launch, failed write) cancels the whole run; non-zero resolver
// exits are ordinary results.
func Run(ctx context.Context, jobs []plan.Job, opts Options) (*Result, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 2 * runtime.GOMAXPROCS(0)
	}
	meterOut := opts.Progress
	if meterOut == nil {
		meterOut = os.Stderr
	}

	// A run directory is never merged with a previous run.
	if err := os.RemoveAll(opts.Output); err != nil {
		return nil, fmt.Errorf("clear run dir: %w", err)
	}
	if err := os.MkdirAll(opts.Output, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(opts.Output, ".gitignore"), []byte("*\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write gitignore: %w", err)
	}
	// Written synchronously before any dispatch so that even a crashed run
	// leaves a loadable config behind.
	runCfg := config.RunConfig{
		Mode:            opts.Mode,
		Python:          opts.Python,
		Latest:          opts.Latest,
		UnsafeExecution: opts.UnsafeExecution,
	}
	if err := runCfg.Write(opts.Output); err != nil {
		return nil, err
	}

	log.Info("starting run",
		"mode", opts.Mode, "jobs", len(jobs), "workers", workers, "output", opts.Output)

	meter := progress.NewMeter(meterOut, len(jobs))
	params := runner.Params{
		Python:          opts.Python,
		Cache:           opts.Cache,
		Offline:         opts.Offline,
		UnsafeExecution: opts.UnsafeExecution,
	}

	var mu sync.Mutex
	result := &Result{Total: len(jobs)}

	p := pool.New().
		WithMaxGoroutines(workers).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()
	for _, job := range jobs {
		job := job
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			summary, err := runner.Run(runner.Request{
				Package:   job.Package,
				Payload:   job.Payload,
				Tool:      opts.Tool,
				Mode:      opts.Mode,
				Params:    params,
				OutputDir: opts.Output,
			})
			if err != nil {
				return fmt.Errorf("package %s: %w", job.Package, err)
			}
			mu.Lock()
			result.Summaries = append(result.Summaries, summary)
			if summary.ExitCode == 0 {
				result.Success++
			}
			mu.Unlock()
			meter.Advance(job.Package)
			return nil
		})
	}
	err := p.Wait()
	meter.Done()
	if err != nil {
		return nil, err
	}
	return result, nil
}
