// Package analysis provides the statistical text analyzers used by the
// input scanner: Shannon entropy, character n-gram perplexity, and
// Unicode script classification.
package analysis

import "math"

// EntropyConfig tunes the entropy analyzer.
type EntropyConfig struct {
	// WindowSize is the sliding window length in runes.
	WindowSize int `json:"window_size"`

	// Threshold is the max-window entropy at which input is anomalous.
	Threshold float64 `json:"threshold"`
}

// DefaultEntropyConfig returns the standard entropy settings.
func DefaultEntropyConfig() *EntropyConfig {
	return &EntropyConfig{
		WindowSize: 50,
		Threshold:  4.5,
	}
}

// EntropyResult reports whole-text and windowed entropy.
type EntropyResult struct {
	Mean      float64 `json:"mean"`
	MaxWindow float64 `json:"max_window"`
	Anomalous bool    `json:"anomalous"`
}

// ShannonEntropy calculates the Shannon entropy of a string in bits per
// character. Higher values indicate more randomness: English text is
// typically 3.5-4.5, base64 around 6, random bytes approach 8.
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}

	freq := make(map[rune]int)
	total := 0
	for _, r := range s {
		freq[r]++
		total++
	}

	entropy := 0.0
	n := float64(total)
	for _, count := range freq {
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// AnalyzeEntropy computes whole-text entropy and the maximum entropy over
// sliding windows. Empty and single-character input is never anomalous.
func AnalyzeEntropy(text string, cfg *EntropyConfig) EntropyResult {
	if cfg == nil {
		cfg = DefaultEntropyConfig()
	}
	window := cfg.WindowSize
	if window <= 0 {
		window = DefaultEntropyConfig().WindowSize
	}

	runes := []rune(text)
	if len(runes) < 2 {
		return EntropyResult{}
	}

	mean := ShannonEntropy(text)
	maxWindow := mean
	if len(runes) > window {
		maxWindow = maxWindowEntropy(runes, window)
	}

	return EntropyResult{
		Mean:      mean,
		MaxWindow: maxWindow,
		Anomalous: maxWindow >= cfg.Threshold,
	}
}

// maxWindowEntropy slides a fixed window over the runes, maintaining
// incremental frequency counts so each step is O(distinct runes).
func maxWindowEntropy(runes []rune, window int) float64 {
	freq := make(map[rune]int)
	for _, r := range runes[:window] {
		freq[r]++
	}

	maxEntropy := entropyOfCounts(freq, window)
	for i := window; i < len(runes); i++ {
		out := runes[i-window]
		freq[out]--
		if freq[out] == 0 {
			delete(freq, out)
		}
		freq[runes[i]]++

		if e := entropyOfCounts(freq, window); e > maxEntropy {
			maxEntropy = e
		}
	}
	return maxEntropy
}

func entropyOfCounts(freq map[rune]int, total int) float64 {
	entropy := 0.0
	n := float64(total)
	for _, count := range freq {
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
