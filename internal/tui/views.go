package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func renderView(m model) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(" AegisGate Monitor "))
	b.WriteString("\n\n")

	b.WriteString(renderTabs(m.activeTab))
	b.WriteString("\n\n")

	// Content area: total height minus title, tabs, status, help.
	contentHeight := m.height - 8
	if contentHeight < 5 {
		contentHeight = 5
	}

	switch m.activeTab {
	case tabAlerts:
		b.WriteString(renderAlerts(m, contentHeight))
	case tabSessions:
		b.WriteString(renderSessions(m, contentHeight))
	default:
		b.WriteString(renderEvents(m, contentHeight))
	}

	b.WriteString("\n")
	b.WriteString(renderStatus(m))
	b.WriteString("\n")
	b.WriteString(renderHelp(m.activeTab))

	return b.String()
}

func renderTabs(active tab) string {
	labels := []string{"1:Events", "2:Alerts", "3:Sessions"}
	parts := make([]string, len(labels))
	for i, label := range labels {
		if tab(i) == active {
			parts[i] = tabActiveStyle.Render(label)
		} else {
			parts[i] = tabInactiveStyle.Render(label)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func renderEvents(m model, height int) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-9s %-22s %-8s %-14s %s",
		"TIME", "EVENT", "DECISION", "SESSION", "DETAIL")))
	b.WriteString("\n")

	if len(m.events) == 0 {
		b.WriteString(statusStyle.Render("  no events"))
		return b.String()
	}

	start, end := window(m.cursor, len(m.events), height-1)
	for i := start; i < end; i++ {
		ev := m.events[i]
		line := fmt.Sprintf("%-9s %-22s %-8s %-14s %s",
			ev.Timestamp,
			clip(ev.Event, 22),
			ev.Decision,
			clip(ev.SessionID, 14),
			clip(ev.Summary, 40))
		if i == m.cursor {
			b.WriteString(selectedStyle.Render(line))
		} else {
			b.WriteString(decisionStyle(ev.Decision).Render(line))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderAlerts(m model, height int) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-9s %-20s %-9s %s",
		"TIME", "RULE", "STATE", "MESSAGE")))
	b.WriteString("\n")

	if len(m.alerts) == 0 {
		b.WriteString(statusStyle.Render("  no alerts"))
		return b.String()
	}

	start, end := window(m.cursor, len(m.alerts), height-1)
	for i := start; i < end; i++ {
		a := m.alerts[i]
		state := "active"
		style := decisionStyle("blocked")
		if a.Resolved {
			state = "resolved"
			style = decisionStyle("info")
		}
		line := fmt.Sprintf("%-9s %-20s %-9s %s",
			a.TriggeredAt, clip(a.RuleName, 20), state, clip(a.Message, 48))
		if i == m.cursor {
			b.WriteString(selectedStyle.Render(line))
		} else {
			b.WriteString(style.Render(line))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderSessions(m model, height int) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-24s %-12s %-7s %-8s %s",
		"SESSION", "STATE", "BLOCKS", "RETRIES", "LAST SEEN")))
	b.WriteString("\n")

	if len(m.sessions) == 0 {
		b.WriteString(statusStyle.Render("  no tracked sessions"))
		return b.String()
	}

	start, end := window(m.cursor, len(m.sessions), height-1)
	for i := start; i < end; i++ {
		s := m.sessions[i]
		state := "active"
		style := decisionStyle("allowed")
		if s.Quarantined {
			state = "quarantined"
			style = decisionStyle("blocked")
		}
		line := fmt.Sprintf("%-24s %-12s %-7d %-8d %s",
			clip(s.ID, 24), state, s.Blocks, s.Retries, s.LastSeen)
		if i == m.cursor {
			b.WriteString(selectedStyle.Render(line))
		} else {
			b.WriteString(style.Render(line))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderStatus(m model) string {
	if m.err != nil {
		return errorStyle.Render("error: " + m.err.Error())
	}
	parts := []string{}
	if !m.lastUpdate.IsZero() {
		parts = append(parts, "updated "+m.lastUpdate.Format("15:04:05"))
	}
	if m.decisionFilter != "" {
		parts = append(parts, "filter: "+m.decisionFilter)
	}
	if m.status != "" {
		parts = append(parts, m.status)
	}
	return statusStyle.Render(strings.Join(parts, "  |  "))
}

func renderHelp(active tab) string {
	common := "1/2/3: tabs  j/k: move  r: refresh  q: quit"
	switch active {
	case tabEvents:
		return helpStyle.Render(common + "  f: cycle decision filter")
	case tabAlerts:
		return helpStyle.Render(common + "  enter: resolve alert")
	case tabSessions:
		return helpStyle.Render(common + "  enter: release session")
	}
	return helpStyle.Render(common)
}

// window picks the visible slice [start, end) keeping the cursor in view.
func window(cursor, total, height int) (int, int) {
	if height < 1 {
		height = 1
	}
	start := 0
	if cursor >= height {
		start = cursor - height + 1
	}
	end := start + height
	if end > total {
		end = total
	}
	return start, end
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return s[:max-1] + "…"
}
