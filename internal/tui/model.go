// Package tui is the interactive terminal monitor for a running gate.
// It polls the admin API and renders live audit events, active alerts,
// and tracked sessions in a tabbed dashboard.
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aegis-gate/aegisgate-go/internal/alerting"
	"github.com/aegis-gate/aegisgate-go/internal/cliclient"
	"github.com/aegis-gate/aegisgate-go/internal/contracts"
	"github.com/aegis-gate/aegisgate-go/internal/guard"
)

type tab int

const (
	tabEvents tab = iota
	tabAlerts
	tabSessions
)

// eventRow is one audit event flattened for display.
type eventRow struct {
	ID        string
	Timestamp string
	Event     string
	Decision  string
	SessionID string
	Summary   string
}

// alertRow is one alert flattened for display.
type alertRow struct {
	ID          string
	RuleName    string
	Message     string
	TriggeredAt string
	Resolved    bool
}

// sessionRow is one guard session flattened for display.
type sessionRow struct {
	ID          string
	Quarantined bool
	Blocks      int
	Retries     int
	LastSeen    string
}

// Client is the slice of the admin API the monitor needs.
type Client interface {
	Events(ctx context.Context, q cliclient.EventsQuery) (*contracts.EventsPage, error)
	Alerts(ctx context.Context, activeOnly bool) ([]alerting.Alert, error)
	Sessions(ctx context.Context) ([]guard.SessionInfo, error)
	ReleaseSession(ctx context.Context, id string) error
	ResolveAlert(ctx context.Context, id string) error
}

// model is the Bubble Tea model for the monitor.
type model struct {
	client Client
	ctx    context.Context

	// UI state
	activeTab      tab
	cursor         int
	width          int
	height         int
	decisionFilter string // "" means all

	// Data
	events     []eventRow
	alerts     []alertRow
	sessions   []sessionRow
	lastUpdate time.Time
	err        error
	status     string

	refreshInterval time.Duration
}

// Messages

type eventsMsg struct{ events []eventRow }

type alertsMsg struct{ alerts []alertRow }

type sessionsMsg struct{ sessions []sessionRow }

type actionDoneMsg struct{ status string }

type errMsg struct{ err error }

type tickMsg time.Time

// Commands

func fetchEvents(ctx context.Context, client Client, decision string) tea.Cmd {
	return func() tea.Msg {
		page, err := client.Events(ctx, cliclient.EventsQuery{Decision: decision, Limit: 200})
		if err != nil {
			return errMsg{err}
		}
		rows := make([]eventRow, 0, len(page.Events))
		for _, rec := range page.Events {
			rows = append(rows, eventRow{
				ID:        rec.ID,
				Timestamp: rec.Timestamp.Local().Format("15:04:05"),
				Event:     rec.Event,
				Decision:  rec.Decision,
				SessionID: rec.SessionID,
				Summary:   summarizeContext(rec.Context),
			})
		}
		return eventsMsg{rows}
	}
}

func fetchAlerts(ctx context.Context, client Client) tea.Cmd {
	return func() tea.Msg {
		alerts, err := client.Alerts(ctx, false)
		if err != nil {
			return errMsg{err}
		}
		rows := make([]alertRow, 0, len(alerts))
		for _, a := range alerts {
			rows = append(rows, alertRow{
				ID:          a.ID,
				RuleName:    a.RuleName,
				Message:     a.Message,
				TriggeredAt: a.TriggeredAt.Local().Format("15:04:05"),
				Resolved:    a.Resolved,
			})
		}
		return alertsMsg{rows}
	}
}

func fetchSessions(ctx context.Context, client Client) tea.Cmd {
	return func() tea.Msg {
		sessions, err := client.Sessions(ctx)
		if err != nil {
			return errMsg{err}
		}
		rows := make([]sessionRow, 0, len(sessions))
		for _, s := range sessions {
			rows = append(rows, sessionRow{
				ID:          s.ID,
				Quarantined: s.Quarantined,
				Blocks:      s.Blocks,
				Retries:     s.Retries,
				LastSeen:    s.LastSeen.Local().Format("15:04:05"),
			})
		}
		return sessionsMsg{rows}
	}
}

func releaseSession(ctx context.Context, client Client, id string) tea.Cmd {
	return func() tea.Msg {
		if err := client.ReleaseSession(ctx, id); err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{status: "released session " + id}
	}
}

func resolveAlert(ctx context.Context, client Client, id string) tea.Cmd {
	return func() tea.Msg {
		if err := client.ResolveAlert(ctx, id); err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{status: "resolved alert " + id}
	}
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// summarizeContext picks the most telling context fields for the one
// line available per event.
func summarizeContext(context map[string]interface{}) string {
	for _, key := range []string{"reason", "gate", "tool", "rule_name", "violation_type", "source"} {
		if v, ok := context[key].(string); ok && v != "" {
			return fmt.Sprintf("%s=%s", key, v)
		}
	}
	if v, ok := context["score"].(float64); ok {
		return fmt.Sprintf("score=%.2f", v)
	}
	return ""
}

// NewModel builds the monitor model.
func NewModel(ctx context.Context, client Client, refreshInterval time.Duration) tea.Model {
	return model{
		client:          client,
		ctx:             ctx,
		activeTab:       tabEvents,
		refreshInterval: refreshInterval,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		fetchEvents(m.ctx, m.client, m.decisionFilter),
		fetchAlerts(m.ctx, m.client),
		fetchSessions(m.ctx, m.client),
		tickCmd(m.refreshInterval),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case eventsMsg:
		m.events = msg.events
		m.lastUpdate = time.Now()
		m.err = nil
		m.clampCursor()
		return m, nil

	case alertsMsg:
		m.alerts = msg.alerts
		m.lastUpdate = time.Now()
		m.err = nil
		m.clampCursor()
		return m, nil

	case sessionsMsg:
		m.sessions = msg.sessions
		m.lastUpdate = time.Now()
		m.err = nil
		m.clampCursor()
		return m, nil

	case actionDoneMsg:
		m.status = msg.status
		return m, m.refreshCmd()

	case errMsg:
		m.err = msg.err
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), tickCmd(m.refreshInterval))
	}

	return m, nil
}

func (m model) View() string {
	return renderView(m)
}

// refreshCmd refetches the data behind every tab.
func (m model) refreshCmd() tea.Cmd {
	return tea.Batch(
		fetchEvents(m.ctx, m.client, m.decisionFilter),
		fetchAlerts(m.ctx, m.client),
		fetchSessions(m.ctx, m.client),
	)
}

// rowCount is the number of rows on the active tab.
func (m model) rowCount() int {
	switch m.activeTab {
	case tabAlerts:
		return len(m.alerts)
	case tabSessions:
		return len(m.sessions)
	default:
		return len(m.events)
	}
}

func (m *model) clampCursor() {
	if n := m.rowCount(); m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}
