package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/resolvelab/ecotest/internal/config"
)

// Summary is the persisted per-job result. exit_code keeps signal deaths as
// a negative signal number; max_rss follows the platform unit (KiB on Linux,
// bytes on Darwin) and is zero where rusage is unavailable.
type Summary struct {
	Package  string  `json:"package"`
	ExitCode int     `json:"exit_code"`
	MaxRSS   uint64  `json:"max_rss"`
	Time     float64 `json:"time"`
}

// Request describes one job: which package, which payload, which resolver
// build, and where artifacts go.
type Request struct {
	Package string
	Payload string

	// Tool is the path to the resolver executable under test.
	Tool string

	Mode   config.Mode
	Params Params

	// OutputDir is the run root; the job owns OutputDir/Package.
	OutputDir string
}

// Run executes the resolver once and persists stdout.txt, stderr.txt and
// summary.json into the job's artifact directory. A non-zero exit of the
// tool is a recorded outcome, not an error; Run errors only when the process
// cannot be launched or an artifact cannot be written.
func Run(req Request) (Summary, error) {
	packageDir := filepath.Join(req.OutputDir, req.Package)
	// Exactly one artifact directory per package per run.
	if err := os.Mkdir(packageDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("create package dir: %w", err)
	}

	inv := BuildInvocation(req.Mode, req.Payload, req.Params)
	if inv.Manifest != "" {
		manifestPath := filepath.Join(packageDir, ManifestFile)
		if err := os.WriteFile(manifestPath, []byte(inv.Manifest), 0o644); err != nil {
			return Summary{}, fmt.Errorf("write manifest: %w", err)
		}
	}

	start := time.Now()

	cmd := exec.Command(req.Tool, inv.Args...)
	cmd.Dir = packageDir
	cmd.Env = sanitizedEnv(os.Environ())

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Summary{}, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Summary{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Summary{}, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Summary{}, fmt.Errorf("launch %s: %w", req.Tool, err)
	}

	// Both pipes are drained concurrently while we block on exit: reading
	// them one after the other deadlocks as soon as the process fills the
	// pipe we are not reading. Both drains finish before the process is
	// reaped.
	var outBuf, errBuf []byte
	var wg conc.WaitGroup
	wg.Go(func() { outBuf, _ = io.ReadAll(stdout) })
	wg.Go(func() { errBuf, _ = io.ReadAll(stderr) })

	// A fast-exiting process may never read its stdin.
	if inv.Stdin != "" {
		if _, err := io.WriteString(stdin, inv.Stdin); err != nil && !errors.Is(err, syscall.EPIPE) {
			_ = stdin.Close()
			wg.Wait()
			_ = cmd.Wait()
			return Summary{}, fmt.Errorf("write stdin: %w", err)
		}
	}
	_ = stdin.Close()
	wg.Wait()

	// Wait reaps the process and collects rusage in the same wait4 call, so
	// peak RSS always belongs to the process we reaped.
	waitErr := cmd.Wait()
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return Summary{}, fmt.Errorf("wait for %s: %w", req.Tool, waitErr)
	}
	exitCode, maxRSS := exitStatus(cmd.ProcessState)

	if req.Mode == config.ModeSync {
		// The installed environment is not part of what is being tested.
		if err := os.RemoveAll(filepath.Join(packageDir, ".venv")); err != nil {
			return Summary{}, fmt.Errorf("remove venv: %w", err)
		}
	}

	if err := os.WriteFile(filepath.Join(packageDir, "stdout.txt"), outBuf, 0o644); err != nil {
		return Summary{}, fmt.Errorf("write stdout: %w", err)
	}
	if err := os.WriteFile(filepath.Join(packageDir, "stderr.txt"), errBuf, 0o644); err != nil {
		return Summary{}, fmt.Errorf("write stderr: %w", err)
	}

	summary := Summary{
		Package:  req.Package,
		ExitCode: exitCode,
		MaxRSS:   maxRSS,
		Time:     time.Since(start).Seconds(),
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return Summary{}, fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(packageDir, "summary.json"), data, 0o644); err != nil {
		return Summary{}, fmt.Errorf("write summary: %w", err)
	}
	return summary, nil
}

// sanitizedEnv drops any active virtual environment so the resolver picks
// its interpreter from the flags alone.
func sanitizedEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, "VIRTUAL_ENV=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}
