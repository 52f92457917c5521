//go:build !windows

package runner

import (
	"os"
	"syscall"
)

// exitStatus extracts the exit code and peak resident memory from a reaped
// process. Signal deaths are kept distinguishable from exit codes as a
// negative signal number.
func exitStatus(ps *os.ProcessState) (int, uint64) {
	code := ps.ExitCode()
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		code = -int(ws.Signal())
	}
	var maxRSS uint64
	if ru, ok := ps.SysUsage().(*syscall.Rusage); ok && ru != nil && ru.Maxrss > 0 {
		maxRSS = uint64(ru.Maxrss)
	}
	return code, maxRSS
}
