package config

import "fmt"

// Mode selects how the resolver under test is invoked and which corpus a run
// consumes.
type Mode string

const (
	// ModeCompile resolves a requirements manifest piped via stdin.
	ModeCompile Mode = "compile"
	// ModeLock locks a synthesized single-requirement project manifest.
	ModeLock Mode = "lock"
	// ModeProjectFile locks a verbatim project manifest from the corpus.
	ModeProjectFile Mode = "pyproject-toml"
	// ModeSync additionally installs the locked environment (preview).
	ModeSync Mode = "sync"
)

// Modes lists every valid mode in declaration order.
var Modes = []Mode{ModeCompile, ModeLock, ModeProjectFile, ModeSync}

// ParseMode converts a mode string into a Mode, rejecting unknown values.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if s == string(m) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode: %q", s)
}

func (m Mode) String() string { return string(m) }

// UsesManifestDir reports whether the mode consumes a directory of project
// manifests rather than a CSV of package names.
func (m Mode) UsesManifestDir() bool {
	return m == ModeProjectFile || m == ModeSync
}

// ComparesStdout reports whether the mode's comparable artifact is the
// captured standard output. Every other mode compares the lock artifact and
// requires standard output to be empty.
func (m Mode) ComparesStdout() bool {
	return m == ModeCompile
}
