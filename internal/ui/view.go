package ui

import (
	"fmt"
	"strings"

	"github.com/alpindale/smi-dashboard/internal/version"
	"github.com/charmbracelet/lipgloss"
)

func (m Model) View() string {
	var content string
	switch m.screen {
	case ScreenWaiting:
		content = m.renderWaiting()
	default:
		content = m.renderDashboard()
	}

	if m.updateInfo != nil {
		content += "\n" + renderUpdateNotification(*m.updateInfo)
	}
	return content
}

func (m Model) renderWaiting() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("  GPU Dashboard - %s  ", m.source)))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("v%s | Backend: %s | Interval: %s | 'q' quit",
		version.ShortVersion(), m.backend, formatInterval(m.interval))))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("  %s Waiting for the first poll...\n", m.spinner.View()))
	return b.String()
}

func renderUpdateNotification(info version.UpdateInfo) string {
	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11")).
		Bold(true)
	return style.Render(fmt.Sprintf("Update available: %s -> %s  %s",
		info.CurrentVersion, info.LatestVersion, info.URL))
}
