package ui

import (
	"fmt"
	"strings"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"github.com/alpindale/smi-dashboard/internal/host"
	"github.com/alpindale/smi-dashboard/internal/output/console"
	"github.com/alpindale/smi-dashboard/internal/telemetry"
	"github.com/alpindale/smi-dashboard/internal/version"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

const barWidth = 50

func renderProgressBar(percent float64, width int, color lipgloss.Color) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(float64(width) * percent / 100.0)
	empty := width - filled

	filledStyle := lipgloss.NewStyle().Foreground(color)
	emptyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	return filledStyle.Render(strings.Repeat("█", filled)) +
		emptyStyle.Render(strings.Repeat("░", empty))
}

// deviceRows builds one table row per device. Devices a reading does not
// cover show N/A.
func deviceRows(snap telemetry.Snapshot, metrics []base.Metric) []table.Row {
	rows := make([]table.Row, 0, snap.Devices)
	for i := 0; i < snap.Devices; i++ {
		row := table.Row{fmt.Sprintf("GPU %d", i)}
		for _, m := range metrics {
			r := snap.Reading(m)
			cell := "N/A"
			if i < len(r) {
				cell = console.FormatSample(m, r[i])
			}
			row = append(row, cell)
		}
		rows = append(rows, row)
	}
	return rows
}

func (m Model) renderDashboard() string {
	var b strings.Builder

	title := fmt.Sprintf("  GPU Dashboard - %s  ", m.source)
	subtitle := fmt.Sprintf("v%s | Backend: %s | Last Updated: %s | Interval: %s | 'r' rescan devices | 'q' quit",
		version.ShortVersion(), m.backend, m.lastUpdate.Format("15:04:05"), formatInterval(m.interval))

	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(subtitle))
	b.WriteString("\n\n")

	if m.snap == nil {
		return b.String()
	}

	if m.snap.Devices == 0 {
		b.WriteString(headerStyle.Render("● GPUs"))
		b.WriteString("  ")
		b.WriteString(mutedStyle.Render("no devices reported"))
		b.WriteString("\n")
	} else {
		b.WriteString(renderAggregateSection(*m.snap))
		b.WriteString("\n")
		b.WriteString(headerStyle.Render(fmt.Sprintf("● GPU Information (%d)", m.snap.Devices)))
		b.WriteString("\n\n")
		b.WriteString(m.table.View())
		b.WriteString("\n")
	}

	if m.snap.Host != nil {
		b.WriteString("\n")
		b.WriteString(renderHostSection(*m.snap.Host))
	}

	return b.String()
}

// renderAggregateSection shows the mean utilization and memory use over the
// devices that reported a value.
func renderAggregateSection(snap telemetry.Snapshot) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("● Total GPU Pressure"))
	b.WriteString("\n\n")

	lines := []struct {
		label  string
		metric base.Metric
		color  lipgloss.Color
	}{
		{"Util", base.Utilization, utilColor},
		{"VRAM", base.MemoryUse, memColor},
	}
	for _, l := range lines {
		r, ok := snap.Readings[l.metric]
		if !ok {
			continue
		}
		label := lipgloss.NewStyle().Foreground(l.color).Render(l.label)
		mean, ok := r.Mean()
		if !ok {
			b.WriteString(fmt.Sprintf("  %s N/A\n", label))
			continue
		}
		b.WriteString(fmt.Sprintf("  %s %.1f%% average across %d/%d GPUs\n", label, mean, r.Available(), r.Len()))
		b.WriteString("  ")
		b.WriteString(renderProgressBar(mean, barWidth*2, l.color))
		b.WriteString("\n")
	}

	return b.String()
}

func renderHostSection(info host.Info) string {
	var b strings.Builder

	var parts []string
	if info.CPU.Model != "" {
		parts = append(parts, info.CPU.Model)
	}
	if info.CPU.Count > 0 {
		parts = append(parts, fmt.Sprintf("%d cores", info.CPU.Count))
	}
	if info.CPU.Usage >= 0 {
		parts = append(parts, fmt.Sprintf("Usage: %.1f%%", info.CPU.Usage))
	} else {
		parts = append(parts, "Usage: N/A")
	}
	b.WriteString(headerStyle.Render("● CPU") + "  " + strings.Join(parts, "  |  ") + "\n")
	if info.CPU.Usage >= 0 {
		b.WriteString("  ")
		b.WriteString(renderProgressBar(info.CPU.Usage, barWidth, usageColor(info.CPU.Usage)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("● RAM Information"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %.1f GB / %.1f GB (%.1f%%)\n",
		float64(info.RAM.Used)/1024.0, float64(info.RAM.Total)/1024.0, info.RAM.UsagePercent))
	b.WriteString("  ")
	b.WriteString(renderProgressBar(info.RAM.UsagePercent, barWidth, ramColor))
	b.WriteString("\n")

	return b.String()
}
