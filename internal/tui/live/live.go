package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"loadphase/internal/stats"
	"loadphase/internal/tui/components"
	"loadphase/internal/tui/styles"
)

// Model renders the running statistics of one load run.
type Model struct {
	Stats    stats.Snapshot
	Progress progress.Model

	IntensityLine components.Sparkline
	RpsLine       components.Sparkline
	ChunksLine    components.Sparkline

	// Duration is the configured run length; 0 means open ended.
	Duration   time.Duration
	LastUpdate time.Time
	LastReqs   uint64

	Width  int
	Height int
}

func NewModel(duration time.Duration) Model {
	intensity := components.NewSparkline(40, "Intensity (%)", styles.Warn)
	intensity.Ceiling = 100

	return Model{
		Progress:      progress.New(progress.WithDefaultGradient()),
		IntensityLine: intensity,
		RpsLine:       components.NewSparkline(40, "RPS (interval)", styles.Active),
		ChunksLine:    components.NewSparkline(40, "Buffered chunks", styles.Value),
		Duration:      duration,
		LastUpdate:    time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stats.Snapshot:
		now := time.Now()
		dt := max(now.Sub(m.LastUpdate).Seconds(), 0.01)

		// counters reset when a new run starts
		var delta uint64
		if msg.CompletedRequests >= m.LastReqs {
			delta = msg.CompletedRequests - m.LastReqs
		}

		m.IntensityLine.Add(float64(msg.IntensityPercent))
		m.RpsLine.Add(float64(delta) / dt)
		m.ChunksLine.Add(float64(msg.BufferedChunks))

		m.Stats = msg
		m.LastReqs = msg.CompletedRequests
		m.LastUpdate = now

		return m, m.Progress.SetPercent(m.Percent())

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = max(msg.Width-4, 10)

		third := max(msg.Width/3-6, 10)
		m.IntensityLine.SetWidth(third)
		m.RpsLine.SetWidth(third)
		m.ChunksLine.SetWidth(third)
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

// Percent is the share of the configured duration already elapsed. Open
// ended runs report 0.
func (m Model) Percent() float64 {
	if m.Duration <= 0 {
		return 0
	}
	return min(m.Stats.ElapsedSeconds/m.Duration.Seconds(), 1)
}

func (m Model) View() string {
	s := strings.Builder{}
	st := m.Stats

	phase := styles.Intensity(st.IntensityPercent).Render(fmt.Sprintf("%s  %d%%", st.Phase, st.IntensityPercent))
	col1 := fmt.Sprintf("PHASE: %s\nWORKERS: %d/%d", phase, st.ActiveWorkers, st.Workers)
	col2 := styles.ErrorRate(st.ErrorRatePercent).Render(
		fmt.Sprintf("REQ: %d\nERR: %d (%.2f%%)", st.CompletedRequests, st.Errors, st.ErrorRatePercent))
	col3 := fmt.Sprintf("RPS: %.2f\nCHUNKS: %d", st.RequestsPerSecondObserved, st.BufferedChunks)
	cols := []string{styles.Box.Render(col1), styles.Box.Render(col2), styles.Box.Render(col3)}
	if st.ProcessRSSBytes > 0 {
		cols = append(cols, styles.Box.Render(fmt.Sprintf("RSS: %.1f MiB\nCPU: %.1f%%",
			float64(st.ProcessRSSBytes)/(1<<20), st.ProcessCPUPercent)))
	}

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cols...))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.IntensityLine.View()),
		styles.Box.Render(m.RpsLine.View()),
		styles.Box.Render(m.ChunksLine.View()),
	))
	s.WriteString("\n\n")

	if st.CompletedRequests > 0 {
		latencies := fmt.Sprintf(
			"P50: %.2f ms  |  P90: %.2f ms  |  P99: %.2f ms  |  Max: %.2f ms",
			st.LatencyP50Ms, st.LatencyP90Ms, st.LatencyP99Ms, st.LatencyMaxMs,
		)
		s.WriteString(styles.Box.Width(max(m.Width-4, 20)).Render(latencies))
		s.WriteString("\n\n")
	}

	elapsed := time.Duration(st.ElapsedSeconds * float64(time.Second)).Round(time.Second)
	if m.Duration > 0 {
		s.WriteString(m.Progress.View())
		s.WriteString("\n")
		s.WriteString(styles.Subtle.Render(fmt.Sprintf("%s / %s", elapsed, m.Duration)))
	} else {
		s.WriteString(styles.Subtle.Render(fmt.Sprintf("Elapsed %s (runs until stopped)", elapsed)))
	}

	return s.String()
}
