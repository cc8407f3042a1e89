package ui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Background(lipgloss.Color("63")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63"))

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	utilColor = lipgloss.Color("208")
	memColor  = lipgloss.Color("39")
	ramColor  = lipgloss.Color("10")
)

// usageColor goes green, yellow, red as percent rises.
func usageColor(percent float64) lipgloss.Color {
	if percent >= 90 {
		return lipgloss.Color("196")
	} else if percent >= 70 {
		return lipgloss.Color("11")
	}
	return lipgloss.Color("10")
}
