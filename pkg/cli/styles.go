package cli

import "github.com/charmbracelet/lipgloss"

// Theme defines the color scheme for terminal output.
type Theme struct {
	Primary lipgloss.Color // Main accent color
	Dim     lipgloss.Color // Dimmed/border color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all table styles derived from a theme.
type Styles struct {
	Header lipgloss.Style
	Cell   lipgloss.Style
	Number lipgloss.Style
	Border lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Header: lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Cell:   lipgloss.NewStyle().Padding(0, 1),
		Number: lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Right),
		Border: lipgloss.NewStyle().Foreground(t.Dim),
	}
}
