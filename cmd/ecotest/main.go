// ecotest runs two builds of a dependency resolver over large package
// corpora and diffs the captured results to surface behavioral regressions.
//
// Usage:
//
//	ecotest fetch                          # download the manifest corpus
//	ecotest resolve --tool ./resolver-base --mode lock --output base/lock
//	ecotest resolve --tool ./resolver-dev  --mode lock --output branch/lock
//	ecotest report base/lock branch/lock --markdown
//	ecotest run ./resolver-base ./resolver-dev --report report.md
//
// Every resolver invocation leaves a per-package artifact directory
// (stdout.txt, stderr.txt, summary.json, mode-dependent lock output) under
// the run directory; reports are computed purely from two such directories.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/jessevdk/go-flags"

	"github.com/resolvelab/ecotest/internal/config"
	"github.com/resolvelab/ecotest/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

type globalOptions struct {
	Debug bool   `long:"debug" description:"enable debug logging"`
	Root  string `long:"root" description:"root directory for corpora, caches and default run dirs (default: $ECOTEST_ROOT or the working directory)"`
}

// app carries what every subcommand needs.
type app struct {
	opts globalOptions
	log  *slog.Logger
	ctx  context.Context
}

func (a *app) paths() config.Paths {
	if a.opts.Root != "" {
		return config.NewPaths(a.opts.Root)
	}
	return config.DefaultPaths()
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{ctx: ctx}
	parser := flags.NewParser(&a.opts, flags.Default)
	parser.Name = "ecotest"
	parser.CommandHandler = func(cmd flags.Commander, cmdArgs []string) error {
		a.log = logging.Setup(a.opts.Debug)
		return cmd.Execute(cmdArgs)
	}

	mustAddCommand(parser, "resolve",
		"Run the resolver over a corpus",
		"Plans jobs from a corpus and runs the resolver once per package, capturing all outputs into a run directory.",
		&resolveCmd{app: a})
	mustAddCommand(parser, "report",
		"Diff two completed runs",
		"Compares two run directories produced under identical parameters and reports fixed, regressed and differing packages.",
		&reportCmd{app: a})
	mustAddCommand(parser, "fetch",
		"Download the manifest corpus",
		"Fetches one project manifest per repository listed in the catalog CSV.",
		&fetchCmd{app: a})
	mustAddCommand(parser, "run",
		"Full pipeline: resolve base and branch, then report",
		"Runs the compile, lock and pyproject-toml corpora against both resolver builds and prints the comparison, optionally writing a Markdown report.",
		&pipelineCmd{app: a})

	if _, err := parser.ParseArgs(args); err != nil {
		if flags.WroteHelp(err) {
			return 0
		}
		var flagsErr *flags.Error
		if !errors.As(err, &flagsErr) {
			// go-flags prints its own errors; command failures are ours.
			fmt.Fprintf(os.Stderr, "ecotest: %v\n", err)
		}
		return 1
	}
	return 0
}

func mustAddCommand(parser *flags.Parser, name, short, long string, cmd flags.Commander) {
	if _, err := parser.AddCommand(name, short, long, cmd); err != nil {
		panic(err)
	}
}
