package report

import (
	"fmt"
	"io"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/resolvelab/ecotest/internal/config"
)

const separator = "--------------------------------\n"

// wholeArtifact is a context window large enough to always show the full
// document: compile output is a flat dependency list where the whole picture
// matters, while lock artifacts are large and only local changes do.
const wholeArtifact = 999999

func unifiedDiff(base, branch string, context int) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(base),
		B:        difflib.SplitLines(branch),
		FromFile: "base",
		ToFile:   "branch",
		Context:  context,
	})
}

// WriteText renders the comparison as a plain-text report.
func (c *Comparison) WriteText(w io.Writer) error {
	for _, pkg := range c.MissingInBranch {
		fmt.Fprintf(w, "Package %s not found in branch\n", pkg)
	}

	for _, d := range c.Differences {
		fmt.Fprint(w, separator)
		fmt.Fprintf(w, "Package %s\n", d.Package)
		if err := writeDiffs(w, d, 3, ""); err != nil {
			return err
		}
	}

	if len(c.Regressed) > 0 {
		fmt.Fprint(w, separator)
		fmt.Fprintln(w, "Packages regressed in branch")
		for _, pkg := range c.Regressed {
			fmt.Fprintf(w, "* %s\n", pkg)
		}
		fmt.Fprintln(w)
	}
	if len(c.Fixed) > 0 {
		fmt.Fprint(w, separator)
		fmt.Fprintln(w, "Packages fixed in branch")
		for _, pkg := range c.Fixed {
			fmt.Fprintf(w, "* %s\n", pkg)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Successfully resolved packages: %d/%d (%s)\n",
		c.Successful, c.Total, percent(c.Successful, c.Total))
	if len(c.Differences) == 0 {
		fmt.Fprintf(w, "All resolutions are identical (%d total).\n", c.Successful)
	} else {
		fmt.Fprintf(w, "Different resolutions: %d/%d\n", len(c.Differences), c.Successful)
	}
	return nil
}

// WriteMarkdown renders the comparison as a Markdown section with
// collapsible per-package diffs.
func (c *Comparison) WriteMarkdown(w io.Writer) error {
	mode := c.Config.Mode
	fmt.Fprintf(w, "**%s**\n", markdownModeName(mode))
	fmt.Fprintf(w, " * Dataset: %s\n", datasetDescription(mode))
	fmt.Fprintf(w, " * Command: %s\n", commandDescription(c.Config))
	fmt.Fprintf(w, " * Successfully resolved packages: %d/%d (%s). Only success resolutions can be compared.\n",
		c.Successful, c.Total, percent(c.Successful, c.Total))
	fmt.Fprintln(w)

	for _, pkg := range c.MissingInBranch {
		fmt.Fprintf(w, "Package %s not found in branch\n", pkg)
	}

	if len(c.Differences) == 0 {
		fmt.Fprintf(w, "All resolutions are identical (%d total).\n\n", c.Successful)
	} else {
		fmt.Fprintf(w, "Different resolutions: %d/%d\n", len(c.Differences), c.Successful)
	}

	if len(c.Regressed) > 0 {
		fmt.Fprintln(w, "**Packages regressed in branch**")
		for _, pkg := range c.Regressed {
			fmt.Fprintf(w, "* %s\n", pkg)
		}
		fmt.Fprintln(w)
	}
	if len(c.Fixed) > 0 {
		fmt.Fprintln(w, "**Packages fixed in branch**")
		for _, pkg := range c.Fixed {
			fmt.Fprintf(w, "* %s\n", pkg)
		}
		fmt.Fprintln(w)
	}

	context := 3
	if mode.ComparesStdout() {
		context = wholeArtifact
	}
	for _, d := range c.Differences {
		fmt.Fprintf(w, "\n<details>\n<summary>%s</summary>\n\n", d.Package)
		if err := writeDiffs(w, d, context, "diff"); err != nil {
			return err
		}
		fmt.Fprint(w, "</details>\n\n")
	}
	return nil
}

// writeDiffs emits the artifact and stderr diffs of one package. fence
// selects Markdown code fencing; empty means bare text.
func writeDiffs(w io.Writer, d Difference, context int, fence string) error {
	write := func(base, branch string) error {
		if base == branch {
			return nil
		}
		diff, err := unifiedDiff(base, branch, context)
		if err != nil {
			return fmt.Errorf("diff %s: %w", d.Package, err)
		}
		if fence != "" {
			fmt.Fprintf(w, "```%s\n%s\n```\n", fence, diff)
		} else {
			fmt.Fprint(w, diff)
		}
		return nil
	}
	if err := write(d.BaseArtifact, d.BranchArtifact); err != nil {
		return err
	}
	return write(d.BaseStderr, d.BranchStderr)
}

func percent(part, total int) string {
	if total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.0f%%", 100*float64(part)/float64(total))
}

func markdownModeName(mode config.Mode) string {
	if mode == config.ModeProjectFile {
		return "pyproject.toml"
	}
	return mode.String()
}

func datasetDescription(mode config.Mode) string {
	if mode.UsesManifestDir() {
		return "A set of top level `pyproject.toml` from GitHub projects popular in 2025. " +
			"Only `pyproject.toml` files with a `[project]` section and static dependencies are included."
	}
	return "The top 15k PyPI packages. A handful of pathological cases were filtered out."
}

func commandDescription(cfg config.RunConfig) string {
	command := "`lock`"
	switch cfg.Mode {
	case config.ModeCompile:
		command = "`pip compile`"
	case config.ModeSync:
		command = "`sync`"
	}
	suffix := "."
	if cfg.Latest {
		suffix = " pinned to the latest package version."
	}
	build := " with `--no-build`"
	if cfg.UnsafeExecution {
		build = ""
	}
	return fmt.Sprintf("%s%s on Python %s%s", command, build, cfg.Python, suffix)
}
