// Package alerting evaluates rules over the audit stream and raises
// alerts through pluggable channels (webhook, log, callback, desktop).
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aegis-gate/aegisgate-go/internal/audit"
)

// ConditionKind is the closed set of rule conditions.
type ConditionKind string

const (
	// ConditionRateSpike counts occurrences of a named event in a window.
	ConditionRateSpike ConditionKind = "rate_spike"
	// ConditionSessionKills counts session terminations.
	ConditionSessionKills ConditionKind = "session_kills"
	// ConditionCostAnomaly counts chain budget exhaustions.
	ConditionCostAnomaly ConditionKind = "cost_anomaly"
	// ConditionScanBlockRate fires on the blocked/total scan ratio.
	ConditionScanBlockRate ConditionKind = "scan_block_rate"
	// ConditionRepeatedAttacker counts blocked decisions for one session.
	ConditionRepeatedAttacker ConditionKind = "repeated_attacker"
)

// ActionKind selects the alert channel.
type ActionKind string

const (
	ActionWebhook  ActionKind = "webhook"
	ActionLog      ActionKind = "log"
	ActionCallback ActionKind = "callback"
	ActionDesktop  ActionKind = "desktop"
)

// Condition describes when a rule fires.
type Condition struct {
	Kind      ConditionKind `json:"kind" mapstructure:"kind"`
	Event     string        `json:"event,omitempty" mapstructure:"event"`           // rate_spike only
	Threshold float64       `json:"threshold" mapstructure:"threshold"`             // count, or ratio for scan_block_rate
	Window    time.Duration `json:"window" mapstructure:"window"`                   // evaluation window
	MinSample int           `json:"min_sample,omitempty" mapstructure:"min_sample"` // scan_block_rate only
}

// Action describes how a fired rule is delivered.
type Action struct {
	Kind        ActionKind  `json:"kind" mapstructure:"kind"`
	WebhookURL  string      `json:"webhook_url,omitempty" mapstructure:"webhook_url"`
	BearerToken string      `json:"-" mapstructure:"-"` // resolved by the config layer, never serialized
	Callback    func(Alert) `json:"-" mapstructure:"-"`
}

// DefaultCooldownMs suppresses refires of the same rule for a minute.
const DefaultCooldownMs = 60_000

// Rule pairs a condition with a delivery action.
type Rule struct {
	ID         string    `json:"id" mapstructure:"id"`
	Name       string    `json:"name" mapstructure:"name"`
	Enabled    bool      `json:"enabled" mapstructure:"enabled"`
	Condition  Condition `json:"condition" mapstructure:"condition"`
	Action     Action    `json:"action" mapstructure:"action"`
	CooldownMs int       `json:"cooldown_ms" mapstructure:"cooldown_ms"`
}

func (r *Rule) cooldown() time.Duration {
	if r.CooldownMs <= 0 {
		return DefaultCooldownMs * time.Millisecond
	}
	return time.Duration(r.CooldownMs) * time.Millisecond
}

// Alert is a fired rule instance.
type Alert struct {
	ID          string                 `json:"id"`
	RuleID      string                 `json:"rule_id"`
	RuleName    string                 `json:"rule_name"`
	Message     string                 `json:"message"`
	TriggeredAt time.Time              `json:"triggered_at"`
	Resolved    bool                   `json:"resolved"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// observation is the slice of an audit entry the rules need.
type observation struct {
	at        time.Time
	event     string
	decision  audit.Decision
	sessionID string
}

// Config controls the engine.
type Config struct {
	Rules          []Rule        `json:"rules" mapstructure:"rules"`
	WebhookTimeout time.Duration `json:"webhook_timeout" mapstructure:"webhook_timeout"`
	HistoryLimit   int           `json:"history_limit" mapstructure:"history_limit"`
	MaxAlerts      int           `json:"max_alerts" mapstructure:"max_alerts"`
	OnAlert        func(Alert)   `json:"-" mapstructure:"-"` // engine-wide hook, fired for every alert
}

// DefaultConfig returns engine defaults with no rules.
func DefaultConfig() Config {
	return Config{
		WebhookTimeout: 5 * time.Second,
		HistoryLimit:   10_000,
		MaxAlerts:      1_000,
	}
}

// DefaultRules is a usable starter set, all delivered via log.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "input-block-spike",
			Enabled:   true,
			Condition: Condition{Kind: ConditionRateSpike, Event: audit.EventInputBlocked, Threshold: 10, Window: time.Minute},
			Action:    Action{Kind: ActionLog},
		},
		{
			Name:      "session-kills",
			Enabled:   true,
			Condition: Condition{Kind: ConditionSessionKills, Threshold: 3, Window: 10 * time.Minute},
			Action:    Action{Kind: ActionLog},
		},
		{
			Name:      "cost-anomaly",
			Enabled:   true,
			Condition: Condition{Kind: ConditionCostAnomaly, Threshold: 5, Window: 10 * time.Minute},
			Action:    Action{Kind: ActionLog},
		},
		{
			Name:      "scan-block-rate",
			Enabled:   true,
			Condition: Condition{Kind: ConditionScanBlockRate, Threshold: 0.5, Window: 5 * time.Minute, MinSample: 10},
			Action:    Action{Kind: ActionLog},
		},
		{
			Name:      "repeated-attacker",
			Enabled:   true,
			Condition: Condition{Kind: ConditionRepeatedAttacker, Threshold: 5, Window: 5 * time.Minute},
			Action:    Action{Kind: ActionLog},
		},
	}
}

// Engine evaluates rules against the audit stream.
type Engine struct {
	mu        sync.Mutex
	rules     []Rule
	history   []observation
	maxWindow time.Duration
	lastFired map[string]time.Time
	alerts    []*Alert
	byID      map[string]*Alert

	cfg        Config
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewEngine creates an alerting engine. Rules without IDs get one assigned.
func NewEngine(cfg Config, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	def := DefaultConfig()
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = def.WebhookTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = def.MaxAlerts
	}

	maxWindow := time.Minute
	rules := make([]Rule, len(cfg.Rules))
	copy(rules, cfg.Rules)
	for i := range rules {
		if rules[i].ID == "" {
			rules[i].ID = uuid.NewString()
		}
		if rules[i].Condition.Window > maxWindow {
			maxWindow = rules[i].Condition.Window
		}
	}

	return &Engine{
		rules:     rules,
		maxWindow: maxWindow,
		lastFired: make(map[string]time.Time),
		byID:      make(map[string]*Alert),
		cfg:       cfg,
		httpClient: &http.Client{
			Timeout: cfg.WebhookTimeout,
		},
		logger: logger,
	}
}

// Rules returns a copy of the configured rules.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Run consumes audit entries until the channel closes or ctx is done.
// Wire it to bus.Subscribe() in its own goroutine.
func (e *Engine) Run(ctx context.Context, entries <-chan audit.Entry) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			e.Evaluate(entry)
		}
	}
}

// Evaluate records the entry and checks every enabled rule. Fired rules
// outside their cooldown create alerts and invoke their channels before
// returning. Evaluation time derives from the entry timestamp so replays
// behave identically.
func (e *Engine) Evaluate(entry audit.Entry) []Alert {
	now := entry.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	e.mu.Lock()
	e.record(observation{
		at:        now,
		event:     entry.Event,
		decision:  entry.Decision,
		sessionID: entry.SessionID,
	})

	var fired []Alert
	for i := range e.rules {
		rule := &e.rules[i]
		if !rule.Enabled {
			continue
		}
		if last, ok := e.lastFired[rule.ID]; ok && now.Sub(last) < rule.cooldown() {
			continue
		}

		message, context, ok := e.check(rule, entry, now)
		if !ok {
			continue
		}

		alert := Alert{
			ID:          uuid.NewString(),
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			Message:     message,
			TriggeredAt: now,
			Context:     context,
		}
		e.lastFired[rule.ID] = now
		e.store(&alert)
		fired = append(fired, alert)
	}
	e.mu.Unlock()

	if len(fired) > 0 {
		e.dispatch(fired)
	}
	return fired
}

// record appends an observation and prunes stale history. Must hold mu.
func (e *Engine) record(obs observation) {
	e.history = append(e.history, obs)

	cutoff := obs.at.Add(-e.maxWindow)
	firstLive := 0
	for firstLive < len(e.history) && e.history[firstLive].at.Before(cutoff) {
		firstLive++
	}
	if firstLive > 0 {
		e.history = append([]observation(nil), e.history[firstLive:]...)
	}
	if len(e.history) > e.cfg.HistoryLimit {
		e.history = append([]observation(nil), e.history[len(e.history)-e.cfg.HistoryLimit:]...)
	}
}

// check evaluates one rule. Must hold mu.
func (e *Engine) check(rule *Rule, entry audit.Entry, now time.Time) (string, map[string]interface{}, bool) {
	cond := rule.Condition
	cutoff := now.Add(-cond.Window)

	switch cond.Kind {
	case ConditionRateSpike:
		count := e.countInWindow(cutoff, func(o observation) bool { return o.event == cond.Event })
		if float64(count) >= cond.Threshold {
			return fmt.Sprintf("%d %q events in %s", count, cond.Event, cond.Window),
				map[string]interface{}{"count": count, "event": cond.Event, "window": cond.Window.String()}, true
		}

	case ConditionSessionKills:
		count := e.countInWindow(cutoff, func(o observation) bool { return o.event == audit.EventSessionTerminated })
		if float64(count) >= cond.Threshold {
			return fmt.Sprintf("%d session terminations in %s", count, cond.Window),
				map[string]interface{}{"count": count, "window": cond.Window.String()}, true
		}

	case ConditionCostAnomaly:
		count := e.countInWindow(cutoff, func(o observation) bool { return o.event == audit.EventDenialOfWallet })
		if float64(count) >= cond.Threshold {
			return fmt.Sprintf("%d denial-of-wallet blocks in %s", count, cond.Window),
				map[string]interface{}{"count": count, "window": cond.Window.String()}, true
		}

	case ConditionScanBlockRate:
		blocked := e.countInWindow(cutoff, func(o observation) bool { return o.event == audit.EventInputBlocked })
		total := blocked + e.countInWindow(cutoff, func(o observation) bool { return o.event == audit.EventInputScanned })
		if total >= cond.MinSample && total > 0 {
			ratio := float64(blocked) / float64(total)
			if ratio >= cond.Threshold {
				return fmt.Sprintf("scan block rate %.0f%% (%d/%d) in %s", ratio*100, blocked, total, cond.Window),
					map[string]interface{}{"blocked": blocked, "total": total, "ratio": ratio, "window": cond.Window.String()}, true
			}
		}

	case ConditionRepeatedAttacker:
		if entry.SessionID == "" {
			break
		}
		count := e.countInWindow(cutoff, func(o observation) bool {
			return o.decision == audit.DecisionBlocked && o.sessionID == entry.SessionID
		})
		if float64(count) >= cond.Threshold {
			return fmt.Sprintf("session %s blocked %d times in %s", entry.SessionID, count, cond.Window),
				map[string]interface{}{"session_id": entry.SessionID, "count": count, "window": cond.Window.String()}, true
		}

	default:
		e.logger.Warnw("Unknown alert condition kind", "kind", cond.Kind, "rule", rule.Name)
	}

	return "", nil, false
}

func (e *Engine) countInWindow(cutoff time.Time, match func(observation) bool) int {
	count := 0
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].at.Before(cutoff) {
			break
		}
		if match(e.history[i]) {
			count++
		}
	}
	return count
}

// store keeps the alert. Past the cap it evicts the oldest resolved
// alert, or the oldest outright when none are resolved. Must hold mu.
func (e *Engine) store(alert *Alert) {
	e.alerts = append(e.alerts, alert)
	e.byID[alert.ID] = alert

	if len(e.alerts) <= e.cfg.MaxAlerts {
		return
	}
	evict := 0
	for i, a := range e.alerts {
		if a.Resolved {
			evict = i
			break
		}
	}
	delete(e.byID, e.alerts[evict].ID)
	e.alerts = append(e.alerts[:evict], e.alerts[evict+1:]...)
}

// dispatch delivers alerts over their channels. Webhooks post in
// parallel; failures are logged and never surface to producers.
func (e *Engine) dispatch(alerts []Alert) {
	g := new(errgroup.Group)

	for _, alert := range alerts {
		rule := e.ruleByID(alert.RuleID)
		if rule == nil {
			continue
		}

		if e.cfg.OnAlert != nil {
			e.cfg.OnAlert(alert)
		}

		switch rule.Action.Kind {
		case ActionLog, "":
			e.logger.Warnw("Alert triggered",
				"rule", alert.RuleName,
				"alert_id", alert.ID,
				"message", alert.Message)

		case ActionCallback:
			if rule.Action.Callback != nil {
				rule.Action.Callback(alert)
			}

		case ActionDesktop:
			if err := beeep.Notify("AegisGate alert", alert.Message, ""); err != nil {
				e.logger.Warnw("Desktop notification failed", "error", err)
			}

		case ActionWebhook:
			a := alert
			url := rule.Action.WebhookURL
			token := rule.Action.BearerToken
			g.Go(func() error {
				if err := e.postWebhook(url, token, a); err != nil {
					e.logger.Warnw("Alert webhook failed",
						"rule", a.RuleName,
						"url", url,
						"error", err)
				}
				return nil
			})
		}
	}

	_ = g.Wait()
}

func (e *Engine) ruleByID(id string) *Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID == id {
			return &e.rules[i]
		}
	}
	return nil
}

func (e *Engine) postWebhook(url, token string, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WebhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// ResolveAlert marks an alert resolved.
func (e *Engine) ResolveAlert(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	alert, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("alert not found: %s", id)
	}
	if !alert.Resolved {
		alert.Resolved = true
		resolvedAt := time.Now().UTC()
		alert.ResolvedAt = &resolvedAt
	}
	return nil
}

// ActiveAlerts returns unresolved alerts, newest first.
func (e *Engine) ActiveAlerts() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Alert
	for _, alert := range e.alerts {
		if !alert.Resolved {
			out = append(out, *alert)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	return out
}

// AllAlerts returns every retained alert, newest first.
func (e *Engine) AllAlerts() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Alert, 0, len(e.alerts))
	for _, alert := range e.alerts {
		out = append(out, *alert)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	return out
}
