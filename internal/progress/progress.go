// Package progress provides a single-line progress meter with in-place
// terminal updates. When the output is not a terminal, updates append
// instead of overwriting so logs stay readable.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// Meter tracks completion of a fixed number of jobs and renders a one-line
// status. Safe for concurrent Advance calls.
type Meter struct {
	out   io.Writer
	isTTY bool
	total int

	mu      sync.Mutex
	done    int
	drawn   bool
	lastTag string
}

// NewMeter creates a meter for total jobs writing to out.
func NewMeter(out io.Writer, total int) *Meter {
	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	return &Meter{out: out, isTTY: isTTY, total: total}
}

// Advance records one finished job. tag names a still-pending job to show
// next to the counter, matching how long runs are usually watched: for the
// stragglers.
func (m *Meter) Advance(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.done++
	m.lastTag = tag
	m.render()
}

// Done finishes the meter, leaving the final state on its own line.
func (m *Meter) Done() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isTTY && m.drawn {
		_, _ = fmt.Fprint(m.out, "\n")
	}
}

func (m *Meter) render() {
	line := fmt.Sprintf("%d/%d", m.done, m.total)
	if m.lastTag != "" {
		line += " " + m.lastTag
	}
	if m.isTTY {
		// Return to column 0 and clear to end of line; the line is
		// overwritten in place.
		_, _ = fmt.Fprintf(m.out, "\r\033[K%s", line)
		m.drawn = true
		return
	}
	_, _ = fmt.Fprintln(m.out, line)
}
