package action

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultWindow is used when a window string fails to parse.
const DefaultWindow = time.Minute

var windowPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// parseWindow turns "{N}{s|m|h|d}" into a duration. Malformed input,
// including zero counts, falls back to DefaultWindow.
func parseWindow(s string) time.Duration {
	m := windowPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return DefaultWindow
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return DefaultWindow
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second
	case "m":
		return time.Duration(n) * time.Minute
	case "h":
		return time.Duration(n) * time.Hour
	default:
		return time.Duration(n) * 24 * time.Hour
	}
}

// checkRate admits or rejects one call to tool under its configured
// rate window. Admitted calls are counted immediately so concurrent
// callers cannot overshoot the cap.
func (v *Validator) checkRate(tool string, now time.Time) (string, bool) {
	limit, ok := v.cfg.Load().RateLimits[tool]
	if !ok || limit.Max <= 0 {
		return "", false
	}
	window := parseWindow(limit.Window)
	cutoff := now.Add(-window)

	v.mu.Lock()
	defer v.mu.Unlock()

	kept := v.rateWindows[tool][:0]
	for _, at := range v.rateWindows[tool] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) >= limit.Max {
		v.rateWindows[tool] = kept
		return fmt.Sprintf("rate limit exceeded for tool %q: %d calls per %s", tool, limit.Max, window), true
	}
	v.rateWindows[tool] = append(kept, now)
	return "", false
}

// walletWindow holds the denial-of-wallet counters for the current
// window. Counters reset in bulk once the window elapses.
type walletWindow struct {
	start           time.Time
	toolCalls       int
	sandboxTriggers int
}

// checkWallet counts this call against the denial-of-wallet window and
// reports whether any budget is now exceeded. Blocked calls stay
// counted; an attacker does not get the attempt refunded.
func (v *Validator) checkWallet(now time.Time) (string, map[string]interface{}, bool) {
	w := v.cfg.Load().Wallet
	window := parseWindow(w.Window)

	v.mu.Lock()
	defer v.mu.Unlock()

	v.resetWalletLocked(now, window)
	v.wallet.toolCalls++

	operations := v.wallet.toolCalls + v.wallet.sandboxTriggers
	counters := map[string]interface{}{
		"tool_calls":       v.wallet.toolCalls,
		"operations":       operations,
		"sandbox_triggers": v.wallet.sandboxTriggers,
		"window":           window.String(),
	}

	switch {
	case v.wallet.toolCalls > w.MaxToolCalls:
		return fmt.Sprintf("tool call budget exceeded: %d of %d in %s", v.wallet.toolCalls, w.MaxToolCalls, window), counters, true
	case operations > w.MaxOperations:
		return fmt.Sprintf("operation budget exceeded: %d of %d in %s", operations, w.MaxOperations, window), counters, true
	case v.wallet.sandboxTriggers > w.MaxSandboxTriggers:
		return fmt.Sprintf("sandbox trigger budget exceeded: %d of %d in %s", v.wallet.sandboxTriggers, w.MaxSandboxTriggers, window), counters, true
	}
	return "", nil, false
}

func (v *Validator) resetWalletLocked(now time.Time, window time.Duration) {
	if v.wallet.start.IsZero() || now.Sub(v.wallet.start) > window {
		v.wallet = walletWindow{start: now}
	}
}

// RecordSandboxTrigger counts one sandbox routing toward the
// denial-of-wallet operation budget.
func (v *Validator) RecordSandboxTrigger() {
	now := v.now()
	window := parseWindow(v.cfg.Load().Wallet.Window)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetWalletLocked(now, window)
	v.wallet.sandboxTriggers++
}
