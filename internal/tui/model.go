// Package tui is the interactive dashboard shown while a run is active.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"loadphase/internal/runner"
	"loadphase/internal/stats"
	"loadphase/internal/tui/live"
	"loadphase/internal/tui/result"
	"loadphase/internal/tui/styles"
	"loadphase/internal/tui/workers"
)

const tickInterval = 500 * time.Millisecond

// Controller is what the dashboard needs from runner.Controller.
type Controller interface {
	Stop()
	Snapshot() stats.Snapshot
	Workers() []runner.WorkerStatus
	Profile() runner.LoadProfile
	Done() <-chan struct{}
}

type tickMsg time.Time

// doneMsg reports that the run has fully stopped.
type doneMsg struct{}

type Model struct {
	ctrl    Controller
	updates <-chan stats.Snapshot
	profile runner.LoadProfile

	Live        live.Model
	Workers     workers.Model
	ShowWorkers bool

	Stopping bool
	Final    *stats.Snapshot
	Quitting bool

	Width  int
	Height int
}

// NewModel watches the run already started on ctrl. updates is fed by a
// stats.Reporter through a stats.ChanSink.
func NewModel(ctrl Controller, updates <-chan stats.Snapshot) Model {
	p := ctrl.Profile()
	return Model{
		ctrl:    ctrl,
		updates: updates,
		profile: p,
		Live:    live.NewModel(p.Duration()),
		Workers: workers.NewModel(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForUpdate(m.updates),
		waitForDone(m.ctrl.Done()),
		tickCmd(),
	)
}

func waitForUpdate(sub <-chan stats.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-sub
		if !ok {
			return nil
		}
		return s
	}
}

func waitForDone(done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return doneMsg{}
	}
}

// stopCmd runs Stop off the UI goroutine since it blocks until workers exit.
func stopCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		ctrl.Stop()
		return doneMsg{}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.Final != nil {
			m.Quitting = true
			return m, tea.Quit
		}
		switch msg.String() {
		case "ctrl+c", "q":
			if m.Stopping {
				return m, nil
			}
			m.Stopping = true
			return m, stopCmd(m.ctrl)
		case "w":
			m.ShowWorkers = !m.ShowWorkers
			m.Workers.Refresh(m.ctrl.Workers())
			return m, nil
		}
		if m.ShowWorkers {
			m.Workers, cmd = m.Workers.Update(msg)
		}
		return m, cmd

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Live, _ = m.Live.Update(msg)
		m.Workers, _ = m.Workers.Update(msg)
		return m, nil

	case stats.Snapshot:
		m.Live, cmd = m.Live.Update(msg)
		return m, tea.Batch(cmd, waitForUpdate(m.updates))

	case tickMsg:
		if m.Final != nil {
			return m, nil
		}
		if m.ShowWorkers {
			m.Workers.Refresh(m.ctrl.Workers())
		}
		return m, tickCmd()

	case doneMsg:
		if m.Final != nil {
			return m, nil
		}
		final := m.ctrl.Snapshot()
		m.Final = &final
		m.Live, cmd = m.Live.Update(final)
		if m.Stopping {
			// stopped from the keyboard, no need to linger on the summary
			m.Quitting = true
			return m, tea.Quit
		}
		return m, cmd
	}

	m.Live, cmd = m.Live.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.Quitting {
		return ""
	}
	if m.Final != nil {
		return result.View(*m.Final)
	}

	s := strings.Builder{}
	s.WriteString(styles.Title.Render("🚀 loadphase"))
	s.WriteString("\n")
	s.WriteString(styles.Subtle.Render(profileLine(m.profile)))
	s.WriteString("\n\n")

	s.WriteString(m.Live.View())
	s.WriteString("\n\n")

	if m.ShowWorkers {
		s.WriteString(m.Workers.View())
		s.WriteString("\n")
	}

	if m.Stopping {
		s.WriteString(styles.Warn.Render("Stopping, waiting for workers to exit..."))
	} else {
		s.WriteString(styles.RenderKey("q", "stop") + "  " + styles.RenderKey("w", "workers"))
	}
	return s.String()
}

func profileLine(p runner.LoadProfile) string {
	modes := []string{}
	if p.CPUIntensive {
		modes = append(modes, "cpu")
	}
	if p.MemoryIntensive {
		modes = append(modes, "memory")
	}
	if p.NetworkEnabled() {
		modes = append(modes, fmt.Sprintf("network %.1f/s x %d url(s)", p.RequestsPerSecond, len(p.TargetURLs)))
	}
	if len(modes) == 0 {
		modes = append(modes, "idle")
	}
	return fmt.Sprintf("Concurrency %d | %s", p.Concurrency, strings.Join(modes, ", "))
}

// Run shows the dashboard until the run ends and a key is pressed, or the
// user stops it. It returns the final snapshot.
func Run(ctrl Controller, updates <-chan stats.Snapshot, opts ...tea.ProgramOption) (stats.Snapshot, error) {
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	p := tea.NewProgram(NewModel(ctrl, updates), opts...)
	if _, err := p.Run(); err != nil {
		ctrl.Stop()
		return ctrl.Snapshot(), fmt.Errorf("dashboard: %w", err)
	}
	// a no-op when the run already ended
	ctrl.Stop()
	return ctrl.Snapshot(), nil
}
