package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"github.com/alpindale/smi-dashboard/internal/host"
	"github.com/alpindale/smi-dashboard/internal/sampler"
	"github.com/alpindale/smi-dashboard/internal/telemetry"
	"github.com/alpindale/smi-dashboard/internal/version"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot() telemetry.Snapshot {
	return telemetry.Snapshot{
		Time:    time.Date(2024, 5, 1, 12, 30, 45, 0, time.Local),
		Backend: "amd",
		Devices: 2,
		Readings: map[base.Metric]base.Reading{
			base.Utilization:   {{Index: 0, Value: 40, Valid: true}, {Index: 1, Value: 60, Valid: true}},
			base.MemoryUse:     {{Index: 0, Value: 12, Valid: true}, {Index: 1}},
			base.PCIeBandwidth: {{Index: 0, Value: 1.5, Valid: true}},
		},
	}
}

func key(s string) tea.KeyMsg {
	if s == "ctrl+c" {
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		percent float64
		filled  int
	}{
		{0, 0},
		{50, 5},
		{100, 10},
		{150, 10},
		{-5, 0},
	}
	for _, tt := range tests {
		bar := renderProgressBar(tt.percent, 10, lipgloss.Color("208"))
		assert.Equal(t, tt.filled, strings.Count(bar, "█"), "percent %v", tt.percent)
		assert.Equal(t, 10-tt.filled, strings.Count(bar, "░"), "percent %v", tt.percent)
	}
}

func TestFormatInterval(t *testing.T) {
	assert.Equal(t, "0.50s", formatInterval(500*time.Millisecond))
	assert.Equal(t, "2.0s", formatInterval(2*time.Second))
	assert.Equal(t, "30s", formatInterval(30*time.Second))
}

func TestDeviceRows(t *testing.T) {
	rows := deviceRows(snapshot(), []base.Metric{base.Utilization, base.MemoryUse, base.PCIeBandwidth, base.Voltage})
	assert.Equal(t, []table.Row{
		{"GPU 0", "40", "12", "1.500", "N/A"},
		{"GPU 1", "60", "N/A", "N/A", "N/A"},
	}, rows)
}

func TestSnapshotMsgSwitchesToDashboard(t *testing.T) {
	updates := make(chan sampler.Update, 1)
	m := NewModel(Options{Source: "localhost", Backend: "amd", Interval: time.Second, Updates: updates})
	assert.Equal(t, ScreenWaiting, m.Screen())
	assert.Contains(t, m.View(), "Waiting for the first poll")

	next, cmd := m.Update(SnapshotMsg{Snapshot: snapshot()})
	m = next.(Model)
	assert.Equal(t, ScreenDashboard, m.Screen())
	assert.Len(t, m.table.Rows(), 2)
	require.NotNil(t, cmd)

	view := m.View()
	assert.Contains(t, view, "GPU Dashboard - localhost")
	assert.Contains(t, view, "Last Updated: 12:30:45")
	assert.Contains(t, view, "50.0% average across 2/2 GPUs")
	assert.Contains(t, view, "12.0% average across 1/2 GPUs")

	updates <- sampler.Update{Snapshot: snapshot()}
	msg := cmd()
	assert.IsType(t, SnapshotMsg{}, msg)
}

func TestStreamClosedQuits(t *testing.T) {
	updates := make(chan sampler.Update)
	close(updates)

	msg := waitForUpdate(updates)()
	assert.Equal(t, streamClosedMsg{}, msg)

	_, cmd := NewModel(Options{Updates: updates}).Update(msg)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestKeys(t *testing.T) {
	refreshed := 0
	m := NewModel(Options{Refresh: func() { refreshed++ }})

	next, cmd := m.Update(key("r"))
	m = next.(Model)
	assert.Nil(t, cmd)
	assert.Equal(t, 1, refreshed)
	assert.Equal(t, 1, m.Refreshes())

	for _, k := range []string{"q", "ctrl+c"} {
		_, cmd := m.Update(key(k))
		require.NotNil(t, cmd, k)
		assert.Equal(t, tea.Quit(), cmd(), k)
	}
}

func TestRefreshWithoutCallback(t *testing.T) {
	next, _ := NewModel(Options{}).Update(key("r"))
	assert.Equal(t, 0, next.(Model).Refreshes())
}

func TestNoDevices(t *testing.T) {
	next, _ := NewModel(Options{}).Update(SnapshotMsg{Snapshot: telemetry.Snapshot{Time: time.Now(), Backend: "nvidia"}})
	assert.Contains(t, next.(Model).View(), "no devices reported")
}

func TestHostSection(t *testing.T) {
	out := renderHostSection(host.Info{
		CPU: host.CPUInfo{Model: "EPYC 7763", Count: 128, Usage: -1},
		RAM: host.RAMInfo{Total: 2048, Used: 1024, UsagePercent: 50},
	})
	assert.Contains(t, out, "EPYC 7763")
	assert.Contains(t, out, "128 cores")
	assert.Contains(t, out, "Usage: N/A")
	assert.Contains(t, out, "1.0 GB / 2.0 GB (50.0%)")
}

func TestUpdateNotification(t *testing.T) {
	m := NewModel(Options{})
	next, _ := m.Update(UpdateCheckMsg{Info: version.UpdateInfo{Available: true, CurrentVersion: "0.1.0", LatestVersion: "v0.2.0"}})
	assert.Contains(t, next.(Model).View(), "Update available: 0.1.0 -> v0.2.0")

	next, _ = m.Update(UpdateCheckMsg{Info: version.UpdateInfo{Available: false}})
	assert.NotContains(t, next.(Model).View(), "Update available")
}
