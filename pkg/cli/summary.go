package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme of styled output.
type Theme struct {
	Primary lipgloss.Color
	Warn    lipgloss.Color
	Dim     lipgloss.Color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Warn:    lipgloss.Color("#ffb86c"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Value  lipgloss.Style
	Status lipgloss.Style
	Warn   lipgloss.Style
	Box    lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label:  lipgloss.NewStyle().Foreground(t.Dim),
		Value:  lipgloss.NewStyle(),
		Status: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Warn:   lipgloss.NewStyle().Bold(true).Foreground(t.Warn),
		Box:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Primary).Padding(0, 1),
	}
}

// Row is one labelled line of a Summary.
type Row struct {
	Label string
	Value string
}

// Summary is a boxed key/value report.
type Summary struct {
	// Styles defaults to NewStyles(DefaultTheme).
	Styles *Styles
	Title  string
	Status string
	// Warn renders Status with the warning style.
	Warn bool
	Rows []Row
}

// Render renders the summary.
func (s Summary) Render() string {
	st := NewStyles(DefaultTheme)
	if s.Styles != nil {
		st = *s.Styles
	}
	width := 0
	for _, r := range s.Rows {
		width = max(width, lipgloss.Width(r.Label))
	}

	status := st.Status
	if s.Warn {
		status = st.Warn
	}
	lines := []string{st.Title.Render(s.Title) + " " + status.Render("["+s.Status+"]")}
	for _, r := range s.Rows {
		label := r.Label + strings.Repeat(" ", width-lipgloss.Width(r.Label))
		lines = append(lines, st.Label.Render(label)+"  "+st.Value.Render(r.Value))
	}
	return st.Box.Render(strings.Join(lines, "\n"))
}
