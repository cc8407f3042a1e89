package ui

import (
	"context"

	"github.com/alpindale/smi-dashboard/internal/sampler"
	"github.com/alpindale/smi-dashboard/internal/version"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			if m.refresh != nil {
				m.refresh()
				m.refreshes++
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		if m.screen != ScreenWaiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case SnapshotMsg:
		snap := msg.Snapshot
		m.snap = &snap
		m.lastUpdate = snap.Time
		m.screen = ScreenDashboard
		rows := deviceRows(snap, m.metrics)
		m.table.SetRows(rows)
		m.table.SetHeight(len(rows) + 2)
		return m, waitForUpdate(m.updates)

	case streamClosedMsg:
		return m, tea.Quit

	case UpdateCheckMsg:
		if msg.Err == nil && msg.Info.Available {
			info := msg.Info
			m.updateInfo = &info
		}
		return m, nil
	}

	return m, nil
}

// waitForUpdate blocks on the sampler subscription and turns the next
// update into a SnapshotMsg.
func waitForUpdate(updates <-chan sampler.Update) tea.Cmd {
	if updates == nil {
		return nil
	}
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return streamClosedMsg{}
		}
		return SnapshotMsg{Snapshot: u.Snapshot}
	}
}

func checkForUpdates() tea.Msg {
	info, err := version.CheckForUpdates(context.Background())
	return UpdateCheckMsg{Info: info, Err: err}
}
