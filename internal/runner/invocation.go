// Package runner executes one resolver process per job and captures its
// full interaction: stdout, stderr, exit status and peak resident memory.
package runner

import (
	"fmt"

	"github.com/resolvelab/ecotest/internal/config"
)

// ManifestFile is the project manifest written into a package directory for
// manifest-consuming modes.
const ManifestFile = "pyproject.toml"

// LockFile is the lock artifact the resolver produces next to the manifest.
const LockFile = "uv.lock"

// Invocation is the side-effect-free description of one resolver call:
// which arguments to pass, what to pipe to stdin, and which manifest to
// write before launch. Building it never touches the filesystem, so the
// mode -> command mapping is testable without spawning anything.
type Invocation struct {
	// Args is the argument vector after the executable path.
	Args []string
	// Stdin is piped to the process; empty means stdin is closed
	// immediately.
	Stdin string
	// Manifest, when non-empty, is written to pyproject.toml in the package
	// directory before the process starts.
	Manifest string
}

// Params are the run-level inputs of command construction.
type Params struct {
	Python          string
	Cache           string
	Offline         bool
	UnsafeExecution bool
}

// BuildInvocation maps (mode, payload, params) to a resolver invocation.
// Identical inputs always produce identical invocations.
func BuildInvocation(mode config.Mode, payload string, p Params) Invocation {
	shared := []string{"--cache-dir", p.Cache, "--color", "never", "--no-python-downloads"}
	if !p.UnsafeExecution {
		// Building source distributions runs arbitrary code; forbidden
		// outside isolated environments.
		shared = append(shared, "--no-build")
	}
	if p.Offline {
		shared = append(shared, "--offline")
	}

	switch mode {
	case config.ModeCompile:
		args := []string{
			"pip", "compile", "-", "-p", p.Python,
			// The results are more reproducible when platform independent.
			"--universal", "--no-header", "--no-annotate",
		}
		return Invocation{Args: append(args, shared...), Stdin: payload}
	case config.ModeLock:
		manifest := fmt.Sprintf(`[project]
name = "testing"
version = "0.1.0"
requires-python = ">=%s"
dependencies = [%q]
`, p.Python, payload)
		return Invocation{Args: append([]string{"lock"}, shared...), Manifest: manifest}
	case config.ModeProjectFile:
		return Invocation{Args: append([]string{"lock"}, shared...), Manifest: payload}
	case config.ModeSync:
		args := append([]string{"sync"}, shared...)
		args = append(args, "--preview")
		if !p.UnsafeExecution {
			// The root project itself is not what is being tested.
			args = append(args, "--no-install-project")
		}
		return Invocation{Args: args, Manifest: payload}
	default:
		panic(fmt.Sprintf("unknown mode: %q", mode))
	}
}
