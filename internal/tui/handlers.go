package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// decisionCycle is the order the f key walks the decision filter.
var decisionCycle = []string{"", "blocked", "flagged", "allowed", "info"}

func (m model) handleKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "1":
		m.activeTab = tabEvents
		m.cursor = 0
		return m, nil
	case "2":
		m.activeTab = tabAlerts
		m.cursor = 0
		return m, nil
	case "3":
		m.activeTab = tabSessions
		m.cursor = 0
		return m, nil

	case "tab":
		m.activeTab = (m.activeTab + 1) % 3
		m.cursor = 0
		return m, nil

	case "j", "down":
		if m.cursor < m.rowCount()-1 {
			m.cursor++
		}
		return m, nil
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "g", "home":
		m.cursor = 0
		return m, nil
	case "G", "end":
		if n := m.rowCount(); n > 0 {
			m.cursor = n - 1
		}
		return m, nil

	case "r":
		m.status = ""
		return m, m.refreshCmd()

	case "f":
		if m.activeTab == tabEvents {
			m.decisionFilter = nextDecision(m.decisionFilter)
			m.cursor = 0
			return m, fetchEvents(m.ctx, m.client, m.decisionFilter)
		}
		return m, nil

	case "enter":
		return m.handleEnter()
	}

	return m, nil
}

// handleEnter resolves the selected alert or releases the selected
// session; it is a no-op on the events tab.
func (m model) handleEnter() (model, tea.Cmd) {
	switch m.activeTab {
	case tabAlerts:
		if m.cursor < len(m.alerts) && !m.alerts[m.cursor].Resolved {
			return m, resolveAlert(m.ctx, m.client, m.alerts[m.cursor].ID)
		}
	case tabSessions:
		if m.cursor < len(m.sessions) && m.sessions[m.cursor].Quarantined {
			return m, releaseSession(m.ctx, m.client, m.sessions[m.cursor].ID)
		}
	}
	return m, nil
}

func nextDecision(current string) string {
	for i, d := range decisionCycle {
		if d == current {
			return decisionCycle[(i+1)%len(decisionCycle)]
		}
	}
	return ""
}
