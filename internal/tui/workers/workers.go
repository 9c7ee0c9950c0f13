// Package workers renders per-worker status as a table.
package workers

import (
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"loadphase/internal/runner"
	"loadphase/internal/tui/styles"
)

type Model struct {
	Table table.Model

	Width  int
	Height int
}

func NewModel() Model {
	columns := []table.Column{
		{Title: "ID", Width: 4},
		{Title: "State", Width: 11},
		{Title: "Phase", Width: 14},
		{Title: "Int %", Width: 6},
		{Title: "Chunks", Width: 8},
		{Title: "Cycles", Width: 10},
		{Title: "Error", Width: 30},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(6),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Model{Table: t}
}

// Rows converts statuses to table rows in the given order.
func Rows(statuses []runner.WorkerStatus) []table.Row {
	rows := make([]table.Row, len(statuses))
	for i, st := range statuses {
		errText := ""
		if st.Err != nil {
			errText = st.Err.Error()
		}
		rows[i] = table.Row{
			strconv.Itoa(st.ID),
			st.State.String(),
			st.Phase,
			strconv.Itoa(st.IntensityPercent),
			strconv.Itoa(st.BufferChunks),
			strconv.FormatUint(st.Cycles, 10),
			errText,
		}
	}
	return rows
}

func (m *Model) Refresh(statuses []runner.WorkerStatus) {
	m.Table.SetRows(Rows(statuses))
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.WindowSizeMsg); ok {
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetWidth(max(msg.Width-6, 20))
	}

	var cmd tea.Cmd
	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	return styles.Box.Render(m.Table.View())
}
