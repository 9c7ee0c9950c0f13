package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var levels = []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// Sparkline is a one-row scrolling bar chart scaled to the visible window.
type Sparkline struct {
	Data    []float64
	Width   int
	// Ceiling fixes the scale when > 0, e.g. 100 for percentages.
	Ceiling float64
	Style   lipgloss.Style
	Label   string
}

func NewSparkline(width int, label string, style lipgloss.Style) Sparkline {
	return Sparkline{
		Width: width,
		Label: label,
		Style: style,
		Data:  make([]float64, 0, width),
	}
}

func (s *Sparkline) Add(v float64) {
	if v < 0 {
		v = 0
	}
	s.Data = append(s.Data, v)
	if s.Width > 0 && len(s.Data) > s.Width {
		s.Data = s.Data[len(s.Data)-s.Width:]
	}
}

func (s *Sparkline) SetWidth(w int) {
	s.Width = w
	if w > 0 && len(s.Data) > w {
		s.Data = s.Data[len(s.Data)-w:]
	}
}

// Max is the top of the current scale.
func (s Sparkline) Max() float64 {
	if s.Ceiling > 0 {
		return s.Ceiling
	}
	m := 0.0
	for _, v := range s.Data {
		m = max(m, v)
	}
	return m
}

// Graph renders the bars without the label.
func (s Sparkline) Graph() string {
	if s.Width <= 0 {
		return ""
	}

	top := s.Max()
	var g strings.Builder
	for _, v := range s.Data {
		if top == 0 {
			g.WriteString(levels[0])
			continue
		}
		idx := int(v / top * float64(len(levels)-1))
		idx = min(max(idx, 0), len(levels)-1)
		g.WriteString(levels[idx])
	}
	if pad := s.Width - len(s.Data); pad > 0 {
		g.WriteString(strings.Repeat(" ", pad))
	}
	return g.String()
}

func (s Sparkline) View() string {
	if s.Width <= 0 {
		return ""
	}
	return s.Style.Render(s.Label) + "\n" + s.Style.Render(s.Graph())
}
