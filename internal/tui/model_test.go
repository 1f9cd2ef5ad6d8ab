package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-gate/aegisgate-go/internal/alerting"
	"github.com/aegis-gate/aegisgate-go/internal/cliclient"
	"github.com/aegis-gate/aegisgate-go/internal/contracts"
	"github.com/aegis-gate/aegisgate-go/internal/guard"
	"github.com/aegis-gate/aegisgate-go/internal/storage"
)

type fakeClient struct {
	events   []*storage.EventRecord
	alerts   []alerting.Alert
	sessions []guard.SessionInfo

	released []string
	resolved []string
	fail     bool
}

func (f *fakeClient) Events(_ context.Context, q cliclient.EventsQuery) (*contracts.EventsPage, error) {
	if f.fail {
		return nil, errors.New("daemon unreachable")
	}
	out := make([]*storage.EventRecord, 0, len(f.events))
	for _, e := range f.events {
		if q.Decision == "" || e.Decision == q.Decision {
			out = append(out, e)
		}
	}
	return &contracts.EventsPage{Events: out}, nil
}

func (f *fakeClient) Alerts(context.Context, bool) ([]alerting.Alert, error) {
	if f.fail {
		return nil, errors.New("daemon unreachable")
	}
	return f.alerts, nil
}

func (f *fakeClient) Sessions(context.Context) ([]guard.SessionInfo, error) {
	if f.fail {
		return nil, errors.New("daemon unreachable")
	}
	return f.sessions, nil
}

func (f *fakeClient) ReleaseSession(_ context.Context, id string) error {
	f.released = append(f.released, id)
	return nil
}

func (f *fakeClient) ResolveAlert(_ context.Context, id string) error {
	f.resolved = append(f.resolved, id)
	return nil
}

func testClient() *fakeClient {
	now := time.Now()
	return &fakeClient{
		events: []*storage.EventRecord{
			{ID: "01A", Timestamp: now, Event: "input_blocked", Decision: "blocked",
				SessionID: "sess-1", Context: map[string]interface{}{"reason": "composite score 0.80"}},
			{ID: "01B", Timestamp: now, Event: "input_scanned", Decision: "allowed", SessionID: "sess-2"},
		},
		alerts: []alerting.Alert{
			{ID: "al-1", RuleName: "Input block spike", Message: "12 blocks in 5m", TriggeredAt: now},
		},
		sessions: []guard.SessionInfo{
			{ID: "sess-1", Quarantined: true, Blocks: 3, LastSeen: now},
		},
	}
}

// drain runs a command tree and feeds every resulting message back into
// the model, mirroring what the Bubble Tea runtime does.
func drain(t *testing.T, m tea.Model, cmd tea.Cmd) tea.Model {
	t.Helper()
	if cmd == nil {
		return m
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		for _, sub := range batch {
			m = drain(t, m, sub)
		}
		return m
	}
	if msg == nil {
		return m
	}
	m, _ = m.Update(msg)
	return m
}

func initialized(t *testing.T, client Client) model {
	t.Helper()
	var m tea.Model = NewModel(context.Background(), client, time.Hour)
	mm := m.(model)
	m = drain(t, m, tea.Batch(
		fetchEvents(mm.ctx, client, ""),
		fetchAlerts(mm.ctx, client),
		fetchSessions(mm.ctx, client),
	))
	return m.(model)
}

func TestInitialFetchPopulatesTabs(t *testing.T) {
	m := initialized(t, testClient())

	require.Len(t, m.events, 2)
	assert.Equal(t, "input_blocked", m.events[0].Event)
	assert.Equal(t, "reason=composite score 0.80", m.events[0].Summary)
	require.Len(t, m.alerts, 1)
	require.Len(t, m.sessions, 1)
}

func TestDecisionFilterCycles(t *testing.T) {
	client := testClient()
	m := initialized(t, client)

	var next tea.Model
	var cmd tea.Cmd
	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'f'}})
	m = next.(model)
	assert.Equal(t, "blocked", m.decisionFilter)

	m = drain(t, m, cmd).(model)
	require.Len(t, m.events, 1)
	assert.Equal(t, "blocked", m.events[0].Decision)
}

func TestEnterReleasesQuarantinedSession(t *testing.T) {
	client := testClient()
	m := initialized(t, client)

	var next tea.Model
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'3'}})
	m = next.(model)
	assert.Equal(t, tabSessions, m.activeTab)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	require.NotNil(t, cmd)
	drain(t, m, cmd)
	assert.Equal(t, []string{"sess-1"}, client.released)
}

func TestEnterResolvesActiveAlert(t *testing.T) {
	client := testClient()
	m := initialized(t, client)

	var next tea.Model
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'2'}})
	m = next.(model)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	require.NotNil(t, cmd)
	drain(t, m, cmd)
	assert.Equal(t, []string{"al-1"}, client.resolved)
}

func TestFetchErrorSurfacesInStatusLine(t *testing.T) {
	client := testClient()
	client.fail = true
	m := initialized(t, client)

	require.Error(t, m.err)
	assert.Contains(t, renderView(m), "daemon unreachable")
}

func TestCursorClampsWhenDataShrinks(t *testing.T) {
	client := testClient()
	m := initialized(t, client)
	m.cursor = 1

	client.events = client.events[:1]
	m = drain(t, m, fetchEvents(m.ctx, client, "")).(model)
	assert.Equal(t, 0, m.cursor)
}

func TestQuitKey(t *testing.T) {
	m := initialized(t, testClient())
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
