//go:build !windows

package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resolvelab/ecotest/internal/config"
	"github.com/resolvelab/ecotest/internal/plan"
)

func fakeTool(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-resolver")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func testOptions(t *testing.T, script string) Options {
	t.Helper()
	return Options{
		Tool:     fakeTool(t, script),
		Output:   filepath.Join(t.TempDir(), "out"),
		Mode:     config.ModeCompile,
		Python:   "3.13",
		Cache:    t.TempDir(),
		Workers:  4,
		Progress: io.Discard,
	}
}

func TestRun_ProducesCompleteArtifactTree(t *testing.T) {
	t.Parallel()

	jobs := []plan.Job{
		{Package: "alpha", Payload: "alpha"},
		{Package: "beta", Payload: "beta"},
		{Package: "gamma", Payload: "gamma"},
	}
	opts := testOptions(t, "cat > /dev/null\necho done\n")

	result, err := Run(context.Background(), jobs, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Success)
	assert.Len(t, result.Summaries, 3)

	// One artifact directory and one summary per job.
	for _, job := range jobs {
		dir := filepath.Join(opts.Output, job.Package)
		assert.FileExists(t, filepath.Join(dir, "summary.json"))
		assert.FileExists(t, filepath.Join(dir, "stdout.txt"))
		assert.FileExists(t, filepath.Join(dir, "stderr.txt"))
	}

	// Aggregation must not depend on completion order.
	packages := make([]string, len(result.Summaries))
	for i, s := range result.Summaries {
		packages[i] = s.Package
	}
	sort.Strings(packages)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, packages)
}

func TestRun_WritesRunConfigBeforeJobs(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, "echo ok\n")
	opts.Mode = config.ModeCompile
	opts.Latest = true

	_, err := Run(context.Background(), []plan.Job{{Package: "a", Payload: "a"}}, opts)
	require.NoError(t, err)

	cfg, err := config.ReadRunConfig(opts.Output)
	require.NoError(t, err)
	assert.Equal(t, config.RunConfig{Mode: config.ModeCompile, Python: "3.13", Latest: true}, cfg)

	gitignore, err := os.ReadFile(filepath.Join(opts.Output, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "*\n", string(gitignore))
}

func TestRun_RecreatesOutputDir(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, "echo ok\n")
	stale := filepath.Join(opts.Output, "stale-package")
	require.NoError(t, os.MkdirAll(stale, 0o755))

	_, err := Run(context.Background(), []plan.Job{{Package: "a", Payload: "a"}}, opts)
	require.NoError(t, err)

	_, statErr := os.Stat(stale)
	assert.True(t, os.IsNotExist(statErr), "previous run contents must not be merged")
}

func TestRun_CountsFailuresWithoutAborting(t *testing.T) {
	t.Parallel()

	// beta fails to resolve; that is the signal being measured.
	opts := testOptions(t, `case "$(cat)" in beta) exit 1 ;; *) exit 0 ;; esac`+"\n")
	jobs := []plan.Job{
		{Package: "alpha", Payload: "alpha"},
		{Package: "beta", Payload: "beta"},
	}

	result, err := Run(context.Background(), jobs, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Success)
}

func TestRun_When_LaunchFails_AbortsRun(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, "echo ok\n")
	opts.Tool = filepath.Join(t.TempDir(), "no-such-tool")

	_, err := Run(context.Background(), []plan.Job{{Package: "a", Payload: "a"}}, opts)
	assert.Error(t, err)
}

func TestWriteSummary_PrintsSuccessRateAndStats(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, "cat > /dev/null\nexit 0\n")
	jobs := []plan.Job{
		{Package: "alpha", Payload: "alpha"},
		{Package: "beta", Payload: "beta"},
	}
	result, err := Run(context.Background(), jobs, opts)
	require.NoError(t, err)

	var buf strings.Builder
	WriteSummary(&buf, result, true)
	out := buf.String()
	assert.Contains(t, out, "Success: 2/2 (100%)")
	assert.Contains(t, out, "top 5 slowest resolutions")
	assert.Contains(t, out, "top 5 max RSS")
}

func TestRun_SummariesMatchPersistedFiles(t *testing.T) {
	t.Parallel()

	opts := testOptions(t, "exit 3\n")
	result, err := Run(context.Background(), []plan.Job{{Package: "a", Payload: "a"}}, opts)
	require.NoError(t, err)
	require.Len(t, result.Summaries, 1)

	data, err := os.ReadFile(filepath.Join(opts.Output, "a", "summary.json"))
	require.NoError(t, err)
	var persisted map[string]any
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, float64(3), persisted["exit_code"])
	assert.Equal(t, "a", persisted["package"])
}
