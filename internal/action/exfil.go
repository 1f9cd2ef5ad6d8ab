package action

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprint reduces content to a 128-bit hex digest. Membership
// checks work without retaining the data itself.
func fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:16])
}

// RecordReadData fingerprints every line of tool output long enough to
// identify data, so later outbound calls can be checked for copies.
// A no-op unless the exfiltration guard is enabled.
func (v *Validator) RecordReadData(output string) {
	cfg := v.cfg.Load()
	if !cfg.DataFlow.NoExfiltration || output == "" {
		return
	}
	minLen := cfg.DataFlow.MinLineLength

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if len(line) >= minLen {
			v.fingerprints[fingerprint(line)] = struct{}{}
		}
	}
}

// paramCarriesRecordedData reports the first parameter whose value, in
// full or as any of its lines, matches a recorded fingerprint.
func (v *Validator) paramCarriesRecordedData(params map[string]interface{}) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.fingerprints) == 0 {
		return "", false
	}
	minLen := v.cfg.Load().DataFlow.MinLineLength

	var match string
	walkParams(params, "", func(path, _, value string) bool {
		if v.matchesFingerprintLocked(value, minLen) {
			match = path
			return false
		}
		return true
	})
	return match, match != ""
}

func (v *Validator) matchesFingerprintLocked(value string, minLen int) bool {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) >= minLen {
		if _, ok := v.fingerprints[fingerprint(trimmed)]; ok {
			return true
		}
	}
	if !strings.Contains(value, "\n") {
		return false
	}
	for _, line := range strings.Split(value, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < minLen {
			continue
		}
		if _, ok := v.fingerprints[fingerprint(line)]; ok {
			return true
		}
	}
	return false
}
