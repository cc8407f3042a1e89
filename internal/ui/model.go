// Package ui is the terminal view of the sampler, run by the top command.
package ui

import (
	"fmt"
	"time"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"github.com/alpindale/smi-dashboard/internal/sampler"
	"github.com/alpindale/smi-dashboard/internal/telemetry"
	"github.com/alpindale/smi-dashboard/internal/version"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type Screen int

const (
	ScreenWaiting Screen = iota
	ScreenDashboard
)

var columnTitles = map[base.Metric]string{
	base.Utilization:    "Util %",
	base.MemoryUse:      "Mem %",
	base.ClockFrequency: "SCLK MHz",
	base.PCIeBandwidth:  "PCIe MB/s",
	base.Voltage:        "Voltage mV",
}

type Options struct {
	// shown in the title, e.g. "localhost" or the ssh host alias
	Source   string
	Backend  string
	Interval time.Duration
	Metrics  []base.Metric
	Updates  <-chan sampler.Update
	// asks the sampler to re-query the device count; may be nil
	Refresh      func()
	CheckUpdates bool
}

type Model struct {
	screen       Screen
	source       string
	backend      string
	interval     time.Duration
	metrics      []base.Metric
	updates      <-chan sampler.Update
	refresh      func()
	checkUpdates bool

	spinner    spinner.Model
	table      table.Model
	snap       *telemetry.Snapshot
	lastUpdate time.Time
	refreshes  int
	updateInfo *version.UpdateInfo
	width      int
	height     int
}

// SnapshotMsg carries one poll result into the model.
type SnapshotMsg struct {
	Snapshot telemetry.Snapshot
}

type streamClosedMsg struct{}

type UpdateCheckMsg struct {
	Info version.UpdateInfo
	Err  error
}

func formatInterval(interval time.Duration) string {
	seconds := interval.Seconds()
	if seconds < 1 {
		return fmt.Sprintf("%.2fs", seconds)
	} else if seconds < 10 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	return fmt.Sprintf("%.0fs", seconds)
}

func NewModel(opts Options) Model {
	if len(opts.Metrics) == 0 {
		opts.Metrics = base.DeviceMetrics
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		screen:       ScreenWaiting,
		source:       opts.Source,
		backend:      opts.Backend,
		interval:     opts.Interval,
		metrics:      opts.Metrics,
		updates:      opts.Updates,
		refresh:      opts.Refresh,
		checkUpdates: opts.CheckUpdates,
		spinner:      s,
		table:        newDeviceTable(opts.Metrics),
	}
}

func newDeviceTable(metrics []base.Metric) table.Model {
	columns := []table.Column{{Title: "GPU", Width: 6}}
	for _, m := range metrics {
		title := columnTitles[m]
		width := len(title)
		if width < 8 {
			width = 8
		}
		columns = append(columns, table.Column{Title: title, Width: width + 2})
	}

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))

	return table.New(
		table.WithColumns(columns),
		table.WithHeight(3),
		table.WithFocused(true),
		table.WithStyles(styles),
	)
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, waitForUpdate(m.updates)}
	if m.checkUpdates {
		cmds = append(cmds, checkForUpdates)
	}
	return tea.Batch(cmds...)
}

func (m Model) Screen() Screen {
	return m.screen
}

// Refreshes counts the device rescans requested with 'r'.
func (m Model) Refreshes() int {
	return m.refreshes
}
