// Package report loads two completed run trees and classifies every
// package's outcome: stable, regressed, fixed, or differing. Iteration is
// lexical over the base run so reports are reproducible.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/resolvelab/ecotest/internal/config"
	"github.com/resolvelab/ecotest/internal/runner"
)

// Execution time fluctuates between runs; matching durations are replaced
// with a fixed token before stderr is compared.
var timePattern = regexp.MustCompile(`(0\.)?(\d+)ms|(\d+)\.(\d+)s`)

// NormalizeTimings replaces millisecond and second scale durations with
// "[TIME]".
func NormalizeTimings(s string) string {
	return timePattern.ReplaceAllString(s, "[TIME]")
}

// Difference holds the comparable artifacts of one differing package, with
// stderr already timing-normalized. Diff rendering happens at output time
// because the context window depends on the output format and mode.
type Difference struct {
	Package        string
	BaseArtifact   string
	BranchArtifact string
	BaseStderr     string
	BranchStderr   string
}

// Comparison is the classified outcome of diffing a branch run against a
// base run executed under the same configuration.
type Comparison struct {
	Config config.RunConfig

	// Total counts packages present in both runs; Successful those that
	// resolved in base. Only successful resolutions are compared.
	Total      int
	Successful int

	// MissingInBranch packages exist in base only. Reported, never counted.
	MissingInBranch []string
	// Fixed packages failed in base but resolve in branch.
	Fixed []string
	// Regressed packages resolved in base but fail in branch, or lost their
	// comparable artifact.
	Regressed []string

	Differences []Difference
}

// Compare refuses to diff runs whose persisted configurations differ: the
// comparison would be meaningless.
func Compare(baseDir, branchDir string) (*Comparison, error) {
	baseCfg, err := config.ReadRunConfig(baseDir)
	if err != nil {
		return nil, err
	}
	branchCfg, err := config.ReadRunConfig(branchDir)
	if err != nil {
		return nil, err
	}
	if baseCfg != branchCfg {
		return nil, fmt.Errorf("runs are not comparable: base %+v != branch %+v", baseCfg, branchCfg)
	}

	packages, err := packageDirs(baseDir)
	if err != nil {
		return nil, err
	}

	c := &Comparison{Config: baseCfg}
	for _, pkg := range packages {
		if err := c.comparePackage(baseDir, branchDir, pkg); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Comparison) comparePackage(baseDir, branchDir, pkg string) error {
	branchPkg := filepath.Join(branchDir, pkg)
	if info, err := os.Stat(branchPkg); err != nil || !info.IsDir() {
		c.MissingInBranch = append(c.MissingInBranch, pkg)
		return nil
	}
	c.Total++

	baseSummary, err := readSummary(filepath.Join(baseDir, pkg))
	if err != nil {
		return err
	}
	branchSummary, err := readSummary(branchPkg)
	if err != nil {
		return err
	}

	if baseSummary.ExitCode != 0 {
		if branchSummary.ExitCode == 0 {
			c.Fixed = append(c.Fixed, pkg)
		}
		// Error-message churn between two failing runs carries no signal.
		return nil
	}
	c.Successful++

	if branchSummary.ExitCode != 0 {
		c.Regressed = append(c.Regressed, pkg)
		return nil
	}

	mode := c.Config.Mode
	baseArtifact, err := readArtifact(filepath.Join(baseDir, pkg), mode, "base", pkg)
	if err != nil {
		return err
	}
	branchArtifact, ok, err := readBranchArtifact(branchPkg, mode, pkg)
	if err != nil {
		return err
	}
	if !ok {
		// Resolved in base, produced no artifact in branch.
		c.Regressed = append(c.Regressed, pkg)
		return nil
	}

	baseStderr, err := readNormalizedStderr(filepath.Join(baseDir, pkg))
	if err != nil {
		return err
	}
	branchStderr, err := readNormalizedStderr(branchPkg)
	if err != nil {
		return err
	}

	if baseArtifact != branchArtifact || baseStderr != branchStderr {
		c.Differences = append(c.Differences, Difference{
			Package:        pkg,
			BaseArtifact:   baseArtifact,
			BranchArtifact: branchArtifact,
			BaseStderr:     baseStderr,
			BranchStderr:   branchStderr,
		})
	}
	return nil
}

// readArtifact loads the comparable output of a successful resolution:
// captured stdout for compile mode, the lock artifact otherwise. In lock
// style modes a non-empty stdout violates the run invariant and poisons the
// whole comparison.
func readArtifact(pkgDir string, mode config.Mode, side, pkg string) (string, error) {
	stdout, err := os.ReadFile(filepath.Join(pkgDir, "stdout.txt"))
	if err != nil {
		return "", fmt.Errorf("read stdout: %w", err)
	}
	if mode.ComparesStdout() {
		return string(stdout), nil
	}
	if strings.TrimSpace(string(stdout)) != "" {
		return "", fmt.Errorf("stdout not empty (%s): %s", side, pkg)
	}
	lock, err := os.ReadFile(filepath.Join(pkgDir, runner.LockFile))
	if err != nil {
		return "", fmt.Errorf("read lock artifact: %w", err)
	}
	return string(lock), nil
}

// readBranchArtifact is readArtifact for the branch side, where a missing
// lock artifact is a regression signal rather than an error.
func readBranchArtifact(pkgDir string, mode config.Mode, pkg string) (string, bool, error) {
	if !mode.ComparesStdout() {
		if _, err := os.Stat(filepath.Join(pkgDir, runner.LockFile)); os.IsNotExist(err) {
			return "", false, nil
		}
	}
	artifact, err := readArtifact(pkgDir, mode, "branch", pkg)
	if err != nil {
		return "", false, err
	}
	return artifact, true, nil
}

func readNormalizedStderr(pkgDir string) (string, error) {
	stderr, err := os.ReadFile(filepath.Join(pkgDir, "stderr.txt"))
	if err != nil {
		return "", fmt.Errorf("read stderr: %w", err)
	}
	return NormalizeTimings(string(stderr)), nil
}

func readSummary(pkgDir string) (runner.Summary, error) {
	data, err := os.ReadFile(filepath.Join(pkgDir, "summary.json"))
	if err != nil {
		return runner.Summary{}, fmt.Errorf("read summary: %w", err)
	}
	var s runner.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return runner.Summary{}, fmt.Errorf("parse summary: %w", err)
	}
	return s, nil
}

func packageDirs(runDir string) ([]string, error) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return nil, fmt.Errorf("read run dir: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}
