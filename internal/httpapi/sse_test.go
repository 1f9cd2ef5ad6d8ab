package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-gate/aegisgate-go/internal/audit"
)

type sseFrame struct {
	event string
	data  string
}

// readFrames consumes the stream until want frames with a non-ping
// event type have arrived. The caller bounds the read with the request
// context; a dead stream surfaces as too few frames, not a hang.
func readFrames(t *testing.T, body io.Reader, want int) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var current sseFrame

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.event != "" && current.event != "ping" {
				frames = append(frames, current)
			}
			current = sseFrame{}
			if len(frames) >= want {
				return frames
			}
		}
	}
	return frames
}

func openStream(t *testing.T, ts *httptest.Server, path string) (*http.Response, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return resp, cancel
}

func TestEventStreamDeliversLiveEntries(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	resp, cancel := openStream(t, ts, "/api/v1/events/stream")
	defer cancel()
	defer resp.Body.Close()

	// The subscriber registers shortly after the response headers come
	// back, so emit until the reader has what it needs.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				env.bus.Emit(audit.Entry{
					Event:     audit.EventInputBlocked,
					Decision:  audit.DecisionBlocked,
					SessionID: "sse-live",
				})
			}
		}
	}()

	frames := readFrames(t, resp.Body, 1)
	close(stop)
	wg.Wait()

	require.NotEmpty(t, frames)
	assert.Equal(t, audit.EventInputBlocked, frames[0].event)

	var entry audit.Entry
	require.NoError(t, json.Unmarshal([]byte(frames[0].data), &entry))
	assert.Equal(t, "sse-live", entry.SessionID)
	assert.NotEmpty(t, entry.ID)
}

func TestEventStreamReplayWithFilter(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	env.bus.Emit(audit.Entry{Event: audit.EventInputBlocked, Decision: audit.DecisionBlocked, SessionID: "first"})
	env.bus.Emit(audit.Entry{Event: audit.EventInputScanned, Decision: audit.DecisionAllowed, SessionID: "noise"})
	env.bus.Emit(audit.Entry{Event: audit.EventInputBlocked, Decision: audit.DecisionBlocked, SessionID: "second"})

	resp, cancel := openStream(t, ts, "/api/v1/events/stream?recent=10&event="+audit.EventInputBlocked)
	defer cancel()
	defer resp.Body.Close()

	frames := readFrames(t, resp.Body, 2)
	require.Len(t, frames, 2)

	var replayed []string
	for _, frame := range frames {
		assert.Equal(t, audit.EventInputBlocked, frame.event)
		var entry audit.Entry
		require.NoError(t, json.Unmarshal([]byte(frame.data), &entry))
		replayed = append(replayed, entry.SessionID)
	}
	assert.Equal(t, []string{"first", "second"}, replayed, "replay runs oldest first")
}

func TestEventStreamHeadRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodHead, ts.URL+"/api/v1/events/stream", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
}
