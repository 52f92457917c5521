//go:build windows

package runner

import "os"

// exitStatus extracts the exit code of a reaped process. Windows has no
// combined reap+rusage call, so peak resident memory is recorded as zero.
func exitStatus(ps *os.ProcessState) (int, uint64) {
	return ps.ExitCode(), 0
}
