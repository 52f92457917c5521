package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/resolvelab/ecotest/internal/config"
	"github.com/resolvelab/ecotest/internal/fetch"
	"github.com/resolvelab/ecotest/internal/orchestrator"
	"github.com/resolvelab/ecotest/internal/plan"
	"github.com/resolvelab/ecotest/internal/report"
)

type resolveCmd struct {
	app *app

	Tool            string `long:"tool" required:"true" description:"path to the resolver executable under test"`
	Mode            string `long:"mode" default:"compile" choice:"compile" choice:"lock" choice:"pyproject-toml" choice:"sync" description:"how the resolver is invoked"`
	Input           string `long:"input" description:"corpus CSV or manifest directory (defaults per mode)"`
	Output          string `long:"output" default:"output" description:"run directory, recreated empty"`
	Python          string `short:"p" long:"python" default:"3.13" description:"target interpreter version"`
	Cache           string `long:"cache" description:"shared resolver cache directory"`
	Limit           int    `long:"limit" description:"plan at most this many jobs"`
	Workers         int    `long:"workers" description:"worker pool size (default: twice the hardware parallelism)"`
	Offline         bool   `long:"offline" description:"forbid network access during resolution"`
	Latest          bool   `long:"latest" description:"pin every package to its latest known version"`
	Stats           bool   `long:"stats" description:"print the slowest and most memory-hungry resolutions"`
	UnsafeExecution bool   `long:"i-am-in-docker" description:"execute arbitrary code while resolving; use only in isolated environments such as docker"`
}

func (c *resolveCmd) Execute([]string) error {
	mode, err := config.ParseMode(c.Mode)
	if err != nil {
		return err
	}
	paths := c.app.paths()
	harness, err := config.LoadHarnessConfig(paths.Root)
	if err != nil {
		return err
	}

	input := c.Input
	if input == "" {
		if mode.UsesManifestDir() {
			input = paths.ManifestDir
		} else {
			input = paths.TopPackages
		}
	}
	cache := c.Cache
	if cache == "" {
		cache = paths.Cache
	}
	workers := c.Workers
	if workers == 0 {
		workers = harness.Workers
	}

	p, err := plan.Build(plan.Options{
		Mode:            mode,
		Input:           input,
		Limit:           c.Limit,
		Latest:          c.Latest,
		LatestVersions:  paths.LatestVersions,
		UnsafeExecution: c.UnsafeExecution,
		Exclude:         harness.Exclude,
		Log:             c.app.log,
	})
	if err != nil {
		return err
	}
	if p.NoProject > 0 {
		fmt.Printf("`pyproject.toml`s without `[project]`: %d\n", p.NoProject)
	}
	if p.DynamicDependencies > 0 {
		fmt.Printf("`pyproject.toml`s with `dynamic = ['dependencies']`: %d\n", p.DynamicDependencies)
	}

	result, err := orchestrator.Run(c.app.ctx, p.Jobs, orchestrator.Options{
		Tool:            c.Tool,
		Output:          c.Output,
		Mode:            mode,
		Python:          c.Python,
		Cache:           cache,
		Offline:         c.Offline,
		Latest:          c.Latest,
		UnsafeExecution: c.UnsafeExecution,
		Workers:         workers,
		Log:             c.app.log,
	})
	if err != nil {
		return err
	}
	orchestrator.WriteSummary(os.Stdout, result, c.Stats)
	return nil
}

type reportCmd struct {
	app *app

	Markdown bool   `long:"markdown" description:"render a Markdown report with collapsible diffs"`
	Output   string `long:"output" description:"write the report to a file instead of stdout"`
	Args     struct {
		Base   string `positional-arg-name:"BASE" description:"base run directory"`
		Branch string `positional-arg-name:"BRANCH" description:"branch run directory"`
	} `positional-args:"yes" required:"yes"`
}

func (c *reportCmd) Execute([]string) error {
	comparison, err := report.Compare(c.Args.Base, c.Args.Branch)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if c.Markdown {
		return comparison.WriteMarkdown(w)
	}
	return comparison.WriteText(w)
}

type fetchCmd struct {
	app *app

	Input  string `long:"input" description:"catalog CSV of (repo_name, ref) rows (default: the root data dir)"`
	Output string `long:"output" description:"manifest output directory (default: the root manifest dir)"`
}

func (c *fetchCmd) Execute([]string) error {
	paths := c.app.paths()
	input := c.Input
	if input == "" {
		input = paths.ManifestCatalog
	}
	output := c.Output
	if output == "" {
		output = paths.ManifestDir
	}

	success, err := fetch.All(c.app.ctx, input, output, fetch.Options{Log: c.app.log})
	if err != nil {
		return err
	}
	fmt.Printf("Successes: %d\n", success)
	return nil
}

type pipelineCmd struct {
	app *app

	Base            string `long:"base" description:"base run tree (default: <root>/base)"`
	Branch          string `long:"branch" description:"branch run tree (default: <root>/branch)"`
	Cache           string `long:"cache" description:"shared resolver cache directory"`
	Python          string `long:"python" default:"3.13" description:"target interpreter version"`
	Limit           int    `long:"limit" description:"plan at most this many jobs per mode"`
	Latest          bool   `long:"latest" description:"pin every package to its latest known version"`
	Report          string `long:"report" description:"also write a combined Markdown report to this file"`
	OnlyReport      bool   `long:"only-report" description:"skip resolving and report existing run trees"`
	UnsafeExecution bool   `long:"i-am-in-docker" description:"execute arbitrary code while resolving; use only in isolated environments such as docker"`
	Args            struct {
		ToolBase   string `positional-arg-name:"TOOL_BASE" description:"base resolver build"`
		ToolBranch string `positional-arg-name:"TOOL_BRANCH" description:"branch resolver build"`
	} `positional-args:"yes" required:"yes"`
}

// pipelineModes are compared in the full pipeline. Sync is excluded: it
// installs packages and is only meaningful inside a disposable container.
var pipelineModes = []config.Mode{config.ModeCompile, config.ModeLock, config.ModeProjectFile}

func (c *pipelineCmd) Execute([]string) error {
	paths := c.app.paths()
	baseTree := c.Base
	if baseTree == "" {
		baseTree = paths.Base
	}
	branchTree := c.Branch
	if branchTree == "" {
		branchTree = paths.Branch
	}
	cache := c.Cache
	if cache == "" {
		cache = paths.Cache
	}

	if !c.OnlyReport {
		if _, err := os.Stat(paths.ManifestDir); os.IsNotExist(err) {
			if _, err := fetch.All(c.app.ctx, paths.ManifestCatalog, paths.ManifestDir, fetch.Options{Log: c.app.log}); err != nil {
				return err
			}
		}
		for _, mode := range pipelineModes {
			for _, side := range []struct{ tool, tree string }{
				{c.Args.ToolBase, baseTree},
				{c.Args.ToolBranch, branchTree},
			} {
				if err := c.resolveOne(mode, side.tool, filepath.Join(side.tree, mode.String()), cache, paths); err != nil {
					return err
				}
			}
		}
	}

	for _, mode := range pipelineModes {
		comparison, err := report.Compare(
			filepath.Join(baseTree, mode.String()),
			filepath.Join(branchTree, mode.String()))
		if err != nil {
			return err
		}
		if err := comparison.WriteText(os.Stdout); err != nil {
			return err
		}
	}

	if c.Report == "" {
		return nil
	}
	f, err := os.Create(c.Report)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()
	fmt.Fprintln(f, "## Ecosystem testing report")
	for _, mode := range pipelineModes {
		comparison, err := report.Compare(
			filepath.Join(baseTree, mode.String()),
			filepath.Join(branchTree, mode.String()))
		if err != nil {
			return err
		}
		if err := comparison.WriteMarkdown(f); err != nil {
			return err
		}
	}
	return nil
}

func (c *pipelineCmd) resolveOne(mode config.Mode, tool, output, cache string, paths config.Paths) error {
	input := paths.TopPackages
	latest := c.Latest
	if mode.UsesManifestDir() {
		input = paths.ManifestDir
		// Latest pinning only applies to name-list corpora.
		latest = false
	}
	p, err := plan.Build(plan.Options{
		Mode:            mode,
		Input:           input,
		Limit:           c.Limit,
		Latest:          latest,
		LatestVersions:  paths.LatestVersions,
		UnsafeExecution: c.UnsafeExecution,
		Log:             c.app.log,
	})
	if err != nil {
		return err
	}
	result, err := orchestrator.Run(c.app.ctx, p.Jobs, orchestrator.Options{
		Tool:            tool,
		Output:          output,
		Mode:            mode,
		Python:          c.Python,
		Cache:           cache,
		Latest:          latest,
		UnsafeExecution: c.UnsafeExecution,
		Log:             c.app.log,
	})
	if err != nil {
		return err
	}
	orchestrator.WriteSummary(os.Stdout, result, false)
	return nil
}
