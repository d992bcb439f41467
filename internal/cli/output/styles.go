package output

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Styles holds the lipgloss styles used by the CLI.
type Styles struct {
	Title     lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Info      lipgloss.Style
	Muted     lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Code      lipgloss.Style
}

// NewStyles creates styles bound to w. Colors are dropped when w is not a
// terminal.
func NewStyles(w io.Writer, isTTY bool) *Styles {
	re := lipgloss.NewRenderer(w)
	if !isTTY {
		re.SetColorProfile(termenv.Ascii)
	}

	return &Styles{
		Title:     re.NewStyle().Bold(true),
		Success:   re.NewStyle().Foreground(lipgloss.Color("10")),
		Error:     re.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Warning:   re.NewStyle().Foreground(lipgloss.Color("11")),
		Info:      re.NewStyle().Foreground(lipgloss.Color("12")),
		Muted:     re.NewStyle().Foreground(lipgloss.Color("8")),
		User:      re.NewStyle().Foreground(lipgloss.Color("14")).Bold(true),
		Assistant: re.NewStyle().Foreground(lipgloss.Color("13")).Bold(true),
		Code:      re.NewStyle().Foreground(lipgloss.Color("8")).PaddingLeft(2),
	}
}
