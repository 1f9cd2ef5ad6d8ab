package analysis

import (
	"math"
	"strings"
)

// PerplexityConfig tunes the perplexity analyzer.
type PerplexityConfig struct {
	// WindowSize is the sliding window length in runes.
	WindowSize int `json:"window_size"`

	// Threshold is the max-window score at which input is anomalous.
	Threshold float64 `json:"threshold"`

	// MinSamples is the minimum n-gram count for a window to be scored.
	MinSamples int `json:"min_samples"`

	// FamiliarityWeight scales how strongly common-ngram hits discount
	// the raw score.
	FamiliarityWeight float64 `json:"familiarity_weight"`
}

// DefaultPerplexityConfig returns the standard perplexity settings.
func DefaultPerplexityConfig() *PerplexityConfig {
	return &PerplexityConfig{
		WindowSize:        50,
		Threshold:         4.5,
		MinSamples:        5,
		FamiliarityWeight: 0.5,
	}
}

// PerplexityResult reports character n-gram perplexity scores.
type PerplexityResult struct {
	Perplexity          float64   `json:"perplexity"`
	Anomalous           bool      `json:"anomalous"`
	WindowScores        []float64 `json:"window_scores,omitempty"`
	MaxWindowPerplexity float64   `json:"max_window_perplexity"`
}

// charsetSize is the Laplace smoothing vocabulary: 26 letters plus slack.
// An n-gram in an unseen context costs log2(28) ≈ 4.8 bits, which lands
// adversarial gibberish above the 4.5 default threshold.
const charsetSize = 28.0

// LanguageProfile holds character n-gram statistics for one language.
type LanguageProfile struct {
	Name  string
	Order int

	ngrams   map[string]float64
	contexts map[string]float64
	common   map[string]struct{}
}

// NewLanguageProfile builds a profile from n-gram counts. All keys must be
// lowercase letter strings of equal length; context totals are derived so
// conditional probabilities stay well-formed.
func NewLanguageProfile(name string, counts map[string]float64) *LanguageProfile {
	p := &LanguageProfile{
		Name:     name,
		Order:    3,
		ngrams:   make(map[string]float64, len(counts)),
		contexts: make(map[string]float64, len(counts)),
		common:   make(map[string]struct{}, len(counts)),
	}
	for gram, count := range counts {
		if count <= 0 {
			continue
		}
		p.Order = len(gram)
		p.ngrams[gram] = count
		p.contexts[gram[:len(gram)-1]] += count
		p.common[gram] = struct{}{}
	}
	return p
}

// bits returns the negative log2 conditional probability of the n-gram's
// final character given its context, Laplace smoothed.
func (p *LanguageProfile) bits(gram string) float64 {
	ctx := p.contexts[gram[:len(gram)-1]]
	count := p.ngrams[gram]
	prob := (count + 1) / (ctx + charsetSize)
	b := -math.Log2(prob)
	if b < 0 {
		return 0
	}
	return b
}

func (p *LanguageProfile) isCommon(gram string) bool {
	_, ok := p.common[gram]
	return ok
}

// englishTrigrams are relative frequencies (per ten thousand trigram
// occurrences) of common English letter trigrams.
var englishTrigrams = map[string]float64{
	"the": 181, "and": 73, "ing": 72, "ent": 42, "ion": 42,
	"her": 36, "for": 34, "tha": 33, "nth": 33, "int": 32,
	"ere": 31, "tio": 31, "ter": 30, "est": 28, "ers": 28,
	"ati": 26, "hat": 26, "ate": 25, "all": 25, "eth": 24,
	"hes": 24, "ver": 24, "his": 23, "thi": 23, "oft": 22,
	"ith": 21, "fth": 21, "sth": 21, "oth": 21, "res": 21,
	"ont": 20, "men": 19, "tin": 19, "sto": 18, "was": 18,
	"rea": 18, "ear": 17, "are": 17, "ess": 17, "not": 17,
	"ons": 17, "tis": 16, "pro": 16, "com": 16, "our": 15,
	"ore": 15, "you": 15, "ted": 15, "per": 14, "sta": 14,
	"eve": 14, "ect": 14, "one": 14, "und": 13, "nce": 13,
	"edt": 13, "wit": 13, "ave": 13, "ble": 12, "ous": 12,
	"str": 12, "tho": 12, "ill": 12, "ain": 12, "ant": 12,
	"end": 12, "con": 12, "ist": 12, "ord": 11, "ive": 11,
	"ity": 11, "ame": 11, "ast": 11, "ose": 11, "ide": 11,
	"ome": 11, "man": 11, "ort": 11, "whi": 10, "hic": 10,
	"ich": 10, "wil": 10, "rom": 10, "fro": 10, "out": 10,
	"ust": 10, "now": 10, "can": 10, "hou": 10, "use": 10,
	"ces": 10, "nde": 10, "tra": 10, "act": 9, "age": 9,
	"art": 9, "ell": 9, "ead": 9, "had": 9, "hav": 9,
	"hin": 9, "igh": 9, "lin": 9, "lit": 8, "mor": 8,
	"nal": 8, "ner": 8, "nin": 8, "nte": 8, "ple": 8,
	"ran": 8, "rec": 8, "rin": 8, "rit": 8, "sho": 8,
	"sio": 8, "som": 8, "son": 8, "tan": 8, "tat": 8,
	"ten": 8, "tes": 8, "tur": 8, "wor": 8, "abo": 7,
	"but": 7, "cha": 7, "day": 7, "dis": 7, "ene": 7,
	"eas": 7, "gre": 7, "hea": 7, "lan": 7, "lar": 7,
	"lea": 7, "may": 7, "mos": 7, "nat": 7, "nge": 7,
	"pla": 7, "pre": 7, "rai": 7, "rel": 7, "sec": 7,
	"sen": 7, "sha": 7, "tim": 7, "tod": 7, "wee": 7,
	"wha": 7, "who": 7, "wea": 6, "eat": 6, "ath": 6,
	"anc": 6, "oda": 6, "fra": 6, "thr": 6, "ick": 6,
	"own": 6, "ork": 6, "orn": 6, "ove": 6, "ite": 6,
	"ike": 6, "ime": 6, "ace": 6, "ake": 6, "ale": 6,
	"ane": 6, "que": 6, "qui": 6, "rou": 6, "row": 6,
	"san": 6, "sea": 6, "see": 6, "ser": 6, "she": 6,
	"sol": 6, "spe": 6, "sur": 6, "tai": 6, "tal": 6,
	"tar": 6, "tel": 6, "tem": 6, "tle": 6, "tre": 6,
	"tri": 6, "try": 6, "typ": 6, "uni": 6, "urn": 6,
	"vis": 6, "wat": 6, "way": 6, "wel": 6, "wer": 6,
	"wes": 6, "win": 6, "wis": 6, "yea": 6, "yes": 6,
	"yet": 6,
}

var englishProfile = NewLanguageProfile("english", englishTrigrams)

// EnglishProfile returns the built-in English trigram profile.
func EnglishProfile() *LanguageProfile { return englishProfile }

// PerplexityAnalyzer scores text against one or more language profiles,
// keeping the best (lowest) score so multilingual input is judged by the
// profile it fits best.
type PerplexityAnalyzer struct {
	cfg      *PerplexityConfig
	profiles []*LanguageProfile
}

// NewPerplexityAnalyzer creates an analyzer with the built-in English
// profile plus any user-supplied profiles. Nil config uses defaults.
func NewPerplexityAnalyzer(cfg *PerplexityConfig, extra ...*LanguageProfile) *PerplexityAnalyzer {
	if cfg == nil {
		cfg = DefaultPerplexityConfig()
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultPerplexityConfig().WindowSize
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultPerplexityConfig().MinSamples
	}
	if cfg.FamiliarityWeight <= 0 {
		cfg.FamiliarityWeight = DefaultPerplexityConfig().FamiliarityWeight
	}
	profiles := append([]*LanguageProfile{EnglishProfile()}, extra...)
	return &PerplexityAnalyzer{cfg: cfg, profiles: profiles}
}

// Analyze computes windowed perplexity scores for text.
func (a *PerplexityAnalyzer) Analyze(text string) PerplexityResult {
	runes := []rune(strings.ToLower(text))

	overall := a.scoreSpan(runes)

	var windowScores []float64
	maxWindow := overall
	w := a.cfg.WindowSize
	if len(runes) > w {
		step := w / 2
		if step < 1 {
			step = 1
		}
		for start := 0; start < len(runes); start += step {
			end := start + w
			if end > len(runes) {
				end = len(runes)
			}
			score := a.scoreSpan(runes[start:end])
			windowScores = append(windowScores, score)
			if score > maxWindow {
				maxWindow = score
			}
			if end == len(runes) {
				break
			}
		}
	} else {
		windowScores = []float64{overall}
	}

	return PerplexityResult{
		Perplexity:          overall,
		Anomalous:           maxWindow >= a.cfg.Threshold,
		WindowScores:        windowScores,
		MaxWindowPerplexity: maxWindow,
	}
}

// scoreSpan scores one span of lowercased runes: mean bits per n-gram
// (Laplace smoothed) scaled by a familiarity factor, minimized across
// profiles. Spans with too few n-grams score zero.
func (a *PerplexityAnalyzer) scoreSpan(runes []rune) float64 {
	best := -1.0
	for _, p := range a.profiles {
		grams := letterNgrams(runes, p.Order)
		if len(grams) < a.cfg.MinSamples {
			continue
		}

		totalBits := 0.0
		hits := 0
		for _, g := range grams {
			totalBits += p.bits(g)
			if p.isCommon(g) {
				hits++
			}
		}
		mean := totalBits / float64(len(grams))
		ratio := float64(hits) / float64(len(grams))
		factor := 1 - a.cfg.FamiliarityWeight*ratio
		if factor < 0.25 {
			factor = 0.25
		}

		score := mean * factor
		if best < 0 || score < best {
			best = score
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

// letterNgrams extracts n-grams from maximal runs of ASCII letters.
// Digits, punctuation and non-ASCII letters act as run boundaries.
func letterNgrams(runes []rune, order int) []string {
	var grams []string
	runStart := -1
	flush := func(end int) {
		if runStart < 0 {
			return
		}
		for i := runStart; i+order <= end; i++ {
			grams = append(grams, string(runes[i:i+order]))
		}
		runStart = -1
	}
	for i, r := range runes {
		if r >= 'a' && r <= 'z' {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i)
	}
	flush(len(runes))
	return grams
}
