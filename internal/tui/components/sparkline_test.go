package components

import (
	"testing"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestSparklineScrolls(t *testing.T) {
	s := NewSparkline(3, "rps", lipgloss.NewStyle())
	for _, v := range []float64{1, 2, 3, 4, 5} {
		s.Add(v)
	}
	assert.Equal(t, []float64{3, 4, 5}, s.Data)
	assert.Equal(t, 5.0, s.Max())
}

func TestSparklineGraph(t *testing.T) {
	s := NewSparkline(4, "", lipgloss.NewStyle())
	s.Add(0)
	s.Add(8)

	g := s.Graph()
	assert.Equal(t, 4, utf8.RuneCountInString(g))
	assert.Equal(t, " █  ", g)

	s.Ceiling = 16
	assert.Equal(t, " ▄  ", s.Graph())
}

func TestSparklineEmptyAndNegative(t *testing.T) {
	s := NewSparkline(2, "", lipgloss.NewStyle())
	s.Add(-3)
	assert.Equal(t, []float64{0}, s.Data)
	assert.Equal(t, "  ", s.Graph())

	s.SetWidth(0)
	assert.Empty(t, s.View())
}
