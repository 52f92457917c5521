//go:build !windows

package runner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resolvelab/ecotest/internal/config"
)

// fakeTool writes a shell script that stands in for the resolver.
func fakeTool(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-resolver")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func runRequest(t *testing.T, tool, script string, mode config.Mode) Request {
	t.Helper()
	if script != "" {
		tool = fakeTool(t, script)
	}
	return Request{
		Package:   "demo",
		Payload:   "demo",
		Tool:      tool,
		Mode:      mode,
		Params:    Params{Python: "3.13", Cache: t.TempDir()},
		OutputDir: t.TempDir(),
	}
}

func readSummary(t *testing.T, req Request) Summary {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(req.OutputDir, req.Package, "summary.json"))
	require.NoError(t, err)
	var s Summary
	require.NoError(t, json.Unmarshal(data, &s))
	return s
}

func TestRun_When_Success(t *testing.T) {
	t.Parallel()

	req := runRequest(t, "", "echo resolved\necho 'took 12ms' >&2\nexit 0\n", config.ModeCompile)
	summary, err := Run(req)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.ExitCode)
	assert.Equal(t, "demo", summary.Package)
	assert.Greater(t, summary.Time, 0.0)
	if runtime.GOOS == "linux" || runtime.GOOS == "darwin" {
		assert.Greater(t, summary.MaxRSS, uint64(0))
	}

	dir := filepath.Join(req.OutputDir, "demo")
	stdout, err := os.ReadFile(filepath.Join(dir, "stdout.txt"))
	require.NoError(t, err)
	assert.Equal(t, "resolved\n", string(stdout))
	stderr, err := os.ReadFile(filepath.Join(dir, "stderr.txt"))
	require.NoError(t, err)
	assert.Equal(t, "took 12ms\n", string(stderr))

	// The persisted summary matches the returned one exactly.
	assert.Equal(t, summary, readSummary(t, req))
}

func TestRun_When_NonZeroExit(t *testing.T) {
	t.Parallel()

	req := runRequest(t, "", "echo 'no solution' >&2\nexit 7\n", config.ModeCompile)
	summary, err := Run(req)
	require.NoError(t, err, "a failing resolution is a recorded outcome, not a runner error")
	assert.Equal(t, 7, summary.ExitCode)
	assert.Equal(t, 7, readSummary(t, req).ExitCode)
}

func TestRun_When_KilledBySignal(t *testing.T) {
	t.Parallel()

	req := runRequest(t, "", "kill -9 $$\n", config.ModeCompile)
	summary, err := Run(req)
	require.NoError(t, err)
	// SIGKILL is represented distinctly, not coerced into an exit code.
	assert.Equal(t, -9, summary.ExitCode)
	assert.Equal(t, -9, readSummary(t, req).ExitCode)
}

func TestRun_When_ChildFloodsStderrBeforeReadingStdin(t *testing.T) {
	t.Parallel()

	// Writes far more than a pipe buffer to stderr before touching stdin. A
	// sequential drain would deadlock here.
	script := `i=0
while [ $i -lt 4000 ]; do
  echo "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx" >&2
  i=$((i+1))
done
cat
`
	req := runRequest(t, "", script, config.ModeCompile)
	summary, err := Run(req)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ExitCode)

	stderr, err := os.ReadFile(filepath.Join(req.OutputDir, "demo", "stderr.txt"))
	require.NoError(t, err)
	assert.Greater(t, len(stderr), 64*1024)
}

func TestRun_PipesPayloadToStdin(t *testing.T) {
	t.Parallel()

	req := runRequest(t, "", "cat > stdin-copy.txt\n", config.ModeCompile)
	req.Payload = "flask==2.0.0"
	_, err := Run(req)
	require.NoError(t, err)

	copied, err := os.ReadFile(filepath.Join(req.OutputDir, "demo", "stdin-copy.txt"))
	require.NoError(t, err)
	assert.Equal(t, "flask==2.0.0", string(copied))
}

func TestRun_WritesManifestBeforeLaunch(t *testing.T) {
	t.Parallel()

	req := runRequest(t, "", "cat pyproject.toml > seen.txt\n", config.ModeLock)
	req.Payload = "flask==2.0.0"
	_, err := Run(req)
	require.NoError(t, err)

	seen, err := os.ReadFile(filepath.Join(req.OutputDir, "demo", "seen.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(seen), `"flask==2.0.0"`)
}

func TestRun_SanitizesVirtualEnv(t *testing.T) {
	t.Setenv("VIRTUAL_ENV", "/somewhere/.venv")

	req := runRequest(t, "", `echo "${VIRTUAL_ENV:-unset}"`+"\n", config.ModeCompile)
	_, err := Run(req)
	require.NoError(t, err)

	stdout, err := os.ReadFile(filepath.Join(req.OutputDir, "demo", "stdout.txt"))
	require.NoError(t, err)
	assert.Equal(t, "unset\n", string(stdout))
}

func TestRun_When_SyncMode_RemovesVenv(t *testing.T) {
	t.Parallel()

	req := runRequest(t, "", "mkdir -p .venv/bin\ntouch .venv/bin/python\n", config.ModeSync)
	req.Payload = "[project]\nname = \"demo\"\nversion = \"1.0.0\"\n"
	_, err := Run(req)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(req.OutputDir, "demo", ".venv"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_When_LaunchFails(t *testing.T) {
	t.Parallel()

	req := runRequest(t, filepath.Join(t.TempDir(), "missing-tool"), "", config.ModeCompile)
	_, err := Run(req)
	assert.Error(t, err)
}

func TestRun_When_PackageDirAlreadyExists(t *testing.T) {
	t.Parallel()

	req := runRequest(t, "", "exit 0\n", config.ModeCompile)
	_, err := Run(req)
	require.NoError(t, err)
	_, err = Run(req)
	assert.Error(t, err, "a run owns exactly one directory per package")
}
