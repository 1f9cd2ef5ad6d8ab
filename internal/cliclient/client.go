// Package cliclient is the HTTP client the CLI and the event monitor
// use to talk to a running gate daemon's admin API.
package cliclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-gate/aegisgate-go/internal/alerting"
	"github.com/aegis-gate/aegisgate-go/internal/audit"
	"github.com/aegis-gate/aegisgate-go/internal/cli/output"
	"github.com/aegis-gate/aegisgate-go/internal/contracts"
	"github.com/aegis-gate/aegisgate-go/internal/guard"
	"github.com/aegis-gate/aegisgate-go/internal/scanner"
	"github.com/aegis-gate/aegisgate-go/internal/storage"
)

const defaultTimeout = 30 * time.Second

// Client talks to the gate admin API. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// New builds a client for the given base URL, e.g.
// "http://127.0.0.1:8787". An empty apiKey sends no credentials.
func New(baseURL, apiKey string, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

// Ping reports whether the daemon answers its health probe.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	return nil
}

// Version fetches the daemon's build information.
func (c *Client) Version(ctx context.Context) (*contracts.VersionInfo, error) {
	var info contracts.VersionInfo
	if err := c.getRaw(ctx, "/version", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Scan runs a one-shot scan of text on the daemon.
func (c *Client) Scan(ctx context.Context, req contracts.ScanRequest) (*scanner.Result, error) {
	var result scanner.Result
	if err := c.post(ctx, "/api/v1/scan", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ValidateAction screens a proposed tool call on the daemon.
func (c *Client) ValidateAction(ctx context.Context, req contracts.ValidateActionRequest) (map[string]interface{}, error) {
	var decision map[string]interface{}
	if err := c.post(ctx, "/api/v1/actions/validate", req, &decision); err != nil {
		return nil, err
	}
	return decision, nil
}

// EventsQuery narrows an event listing.
type EventsQuery struct {
	Event     string
	Decision  string
	SessionID string
	Limit     int
	Cursor    string
}

func (q EventsQuery) values() url.Values {
	v := url.Values{}
	if q.Event != "" {
		v.Set("event", q.Event)
	}
	if q.Decision != "" {
		v.Set("decision", q.Decision)
	}
	if q.SessionID != "" {
		v.Set("session_id", q.SessionID)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		v.Set("cursor", q.Cursor)
	}
	return v
}

// Events lists persisted audit events, newest first.
func (c *Client) Events(ctx context.Context, q EventsQuery) (*contracts.EventsPage, error) {
	var page contracts.EventsPage
	if err := c.get(ctx, "/api/v1/events", q.values(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Event fetches one audit event by ID.
func (c *Client) Event(ctx context.Context, id string) (*storage.EventRecord, error) {
	var record storage.EventRecord
	if err := c.get(ctx, "/api/v1/events/"+url.PathEscape(id), nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Search runs a full-text query over the event index.
func (c *Client) Search(ctx context.Context, query string, limit int) (*contracts.SearchPage, error) {
	v := url.Values{"q": []string{query}}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	var page contracts.SearchPage
	if err := c.get(ctx, "/api/v1/events", v, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Sessions lists tracked guard sessions, most recently seen first.
func (c *Client) Sessions(ctx context.Context) ([]guard.SessionInfo, error) {
	var sessions []guard.SessionInfo
	if err := c.get(ctx, "/api/v1/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ReleaseSession lifts a session's quarantine.
func (c *Client) ReleaseSession(ctx context.Context, id string) error {
	return c.post(ctx, "/api/v1/sessions/"+url.PathEscape(id)+"/release", nil, nil)
}

// Alerts lists alerts; activeOnly restricts to unresolved ones.
func (c *Client) Alerts(ctx context.Context, activeOnly bool) ([]alerting.Alert, error) {
	v := url.Values{}
	if activeOnly {
		v.Set("active", "true")
	}
	var alerts []alerting.Alert
	if err := c.get(ctx, "/api/v1/alerts", v, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

// ResolveAlert marks one alert resolved.
func (c *Client) ResolveAlert(ctx context.Context, id string) error {
	return c.post(ctx, "/api/v1/alerts/"+url.PathEscape(id)+"/resolve", nil, nil)
}

// StreamOptions filter the live event stream.
type StreamOptions struct {
	Event     string
	Decision  string
	SessionID string
	Recent    int
}

// StreamEvents connects to the SSE endpoint and delivers audit entries
// on the returned channel until the context is canceled or the server
// closes the stream. Heartbeats are consumed internally.
func (c *Client) StreamEvents(ctx context.Context, opts StreamOptions) (<-chan audit.Entry, error) {
	v := url.Values{}
	if opts.Event != "" {
		v.Set("event", opts.Event)
	}
	if opts.Decision != "" {
		v.Set("decision", opts.Decision)
	}
	if opts.SessionID != "" {
		v.Set("session_id", opts.SessionID)
	}
	if opts.Recent > 0 {
		v.Set("recent", strconv.Itoa(opts.Recent))
	}

	endpoint := c.baseURL + "/api/v1/events/stream"
	if len(v) > 0 {
		endpoint += "?" + v.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	// Streaming cannot live under the client-wide timeout.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	entries := make(chan audit.Entry, 16)
	go c.readStream(resp.Body, entries)
	return entries, nil
}

func (c *Client) readStream(body io.ReadCloser, entries chan<- audit.Entry) {
	defer close(entries)
	defer body.Close()

	scan := bufio.NewScanner(body)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event string
	for scan.Scan() {
		line := scan.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			// comment / keepalive preamble
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if event == "ping" {
				continue
			}
			var entry audit.Entry
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &entry); err != nil {
				c.logger.Debugw("Dropping malformed stream entry", "error", err)
				continue
			}
			entries <- entry
		case line == "":
			event = ""
		}
	}
	if err := scan.Err(); err != nil {
		c.logger.Debugw("Event stream closed", "error", err)
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

// getRaw fetches a path that responds without the APIResponse envelope.
func (c *Client) getRaw(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

// do executes the request and unwraps the APIResponse envelope.
func (c *Client) do(req *http.Request, out interface{}) error {
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return output.NewStructuredError(output.ErrCodeTimeout, "request to the daemon timed out")
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return output.NewStructuredError(output.ErrCodeAuthRequired, "daemon rejected the API key").
			WithGuidance("set api.api_key in the configuration to match the daemon's")
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data,omitempty"`
		Error   string          `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !envelope.Success {
		if envelope.Error != "" {
			return fmt.Errorf("%s", envelope.Error)
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return nil
}
