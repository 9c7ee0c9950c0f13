package result

import (
	"fmt"
	"strings"
	"time"

	"loadphase/internal/stats"
	"loadphase/internal/tui/styles"
)

// View renders the final snapshot of a finished run.
func View(s stats.Snapshot) string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("📊 Run Complete"))
	b.WriteString("\n\n")

	b.WriteString(styles.Active.Render("Overview"))
	b.WriteString("\n")
	elapsed := time.Duration(s.ElapsedSeconds * float64(time.Second)).Round(time.Millisecond)
	overview := fmt.Sprintf(
		"Run:        %s\nDuration:   %s\nLast phase: %s (%d%%)\nCompleted:  %d\nErrors:     %d (%.2f%%)\nRPS:        %.2f",
		s.RunID, elapsed, s.Phase, s.IntensityPercent,
		s.CompletedRequests, s.Errors, s.ErrorRatePercent, s.RequestsPerSecondObserved,
	)
	b.WriteString(styles.Box.Render(overview))
	b.WriteString("\n\n")

	if s.CompletedRequests > 0 {
		b.WriteString(styles.Active.Render("Latency"))
		b.WriteString("\n")
		latency := fmt.Sprintf(
			"P50: %.2f ms\nP90: %.2f ms\nP99: %.2f ms\nMax: %.2f ms",
			s.LatencyP50Ms, s.LatencyP90Ms, s.LatencyP99Ms, s.LatencyMaxMs,
		)
		b.WriteString(styles.Box.Render(latency))
		b.WriteString("\n\n")
	}

	b.WriteString(styles.Subtle.Render("Press any key to exit"))
	b.WriteString("\n")
	return b.String()
}
