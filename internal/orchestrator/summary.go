package orchestrator

import (
	"fmt"
	"io"
	"runtime"
	"sort"

	"github.com/charmbracelet/lipgloss"

	"github.com/resolvelab/ecotest/internal/runner"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
)

// WriteSummary prints the aggregate success rate and, when stats is set, the
// top five slowest and most memory-hungry successful resolutions.
func WriteSummary(w io.Writer, result *Result, stats bool) {
	rate := 0.0
	if result.Total > 0 {
		rate = 100 * float64(result.Success) / float64(result.Total)
	}
	fmt.Fprintln(w, successStyle.Render(
		fmt.Sprintf("Success: %d/%d (%.0f%%)", result.Success, result.Total, rate)))

	if !stats {
		return
	}

	successes := make([]runner.Summary, 0, len(result.Summaries))
	for _, s := range result.Summaries {
		if s.ExitCode == 0 {
			successes = append(successes, s)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, headingStyle.Render("# top 5 slowest resolutions for successes"))
	slowest := append([]runner.Summary(nil), successes...)
	sort.Slice(slowest, func(i, j int) bool { return slowest[i].Time > slowest[j].Time })
	for _, s := range top5(slowest) {
		fmt.Fprintf(w, "%s: %.2fs (exit code: %d)\n", s.Package, s.Time, s.ExitCode)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, headingStyle.Render("# top 5 max RSS for successes"))
	largest := append([]runner.Summary(nil), successes...)
	sort.Slice(largest, func(i, j int) bool { return largest[i].MaxRSS > largest[j].MaxRSS })
	for _, s := range top5(largest) {
		fmt.Fprintf(w, "%s: %.1f MB (exit code: %d)\n", s.Package, maxRSSMegabytes(s.MaxRSS), s.ExitCode)
	}
}

func top5(s []runner.Summary) []runner.Summary {
	if len(s) > 5 {
		return s[:5]
	}
	return s
}

// maxRSSMegabytes converts a raw max RSS value to megabytes. The kernel
// reports KiB on Linux and bytes on Darwin.
func maxRSSMegabytes(raw uint64) float64 {
	switch runtime.GOOS {
	case "darwin":
		return float64(raw) / 1024 / 1024
	default:
		return float64(raw) / 1024
	}
}
