package analysis

import "unicode"

// Script is a coarse writing-system class for a code point.
type Script string

const (
	ScriptLatin      Script = "latin"
	ScriptCyrillic   Script = "cyrillic"
	ScriptCJK        Script = "cjk"
	ScriptArabic     Script = "arabic"
	ScriptGreek      Script = "greek"
	ScriptDevanagari Script = "devanagari"
	ScriptThai       Script = "thai"
	ScriptHebrew     Script = "hebrew"
	ScriptNeutral    Script = "neutral"

	// ScriptUnknown is the primary script of text with no letters.
	ScriptUnknown Script = "unknown"
)

// ScriptSwitch records a transition between two different non-neutral
// scripts. Position is the UTF-16 code-unit index of the switched
// character; astral code points count as their leading unit.
type ScriptSwitch struct {
	From     Script `json:"from"`
	To       Script `json:"to"`
	Position int    `json:"position"`
}

// ScriptResult summarizes the scripts present in a text.
type ScriptResult struct {
	Primary  Script         `json:"primary"`
	Scripts  map[Script]int `json:"scripts"`
	Switches []ScriptSwitch `json:"switches,omitempty"`
}

// ClassifyRune maps a code point to its script class. Digits,
// punctuation, symbols, whitespace, the General Punctuation block, and
// scripts outside the tracked set are neutral.
func ClassifyRune(r rune) Script {
	if r >= 0x2000 && r <= 0x206F {
		return ScriptNeutral
	}
	if unicode.IsDigit(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) {
		return ScriptNeutral
	}
	switch {
	case unicode.Is(unicode.Latin, r):
		return ScriptLatin
	case unicode.Is(unicode.Cyrillic, r):
		return ScriptCyrillic
	case unicode.Is(unicode.Greek, r):
		return ScriptGreek
	case unicode.Is(unicode.Arabic, r):
		return ScriptArabic
	case unicode.Is(unicode.Hebrew, r):
		return ScriptHebrew
	case unicode.Is(unicode.Devanagari, r):
		return ScriptDevanagari
	case unicode.Is(unicode.Thai, r):
		return ScriptThai
	case unicode.Is(unicode.Han, r),
		unicode.Is(unicode.Hiragana, r),
		unicode.Is(unicode.Katakana, r),
		unicode.Is(unicode.Hangul, r):
		return ScriptCJK
	default:
		return ScriptNeutral
	}
}

// AnalyzeScript classifies every code point, counts non-neutral scripts,
// and records each switch between differing non-neutral scripts.
func AnalyzeScript(text string) ScriptResult {
	counts := make(map[Script]int)
	firstSeen := make(map[Script]int)
	var switches []ScriptSwitch

	prev := ScriptNeutral
	pos := 0 // UTF-16 code units consumed
	for _, r := range text {
		s := ClassifyRune(r)
		if s != ScriptNeutral {
			if _, ok := firstSeen[s]; !ok {
				firstSeen[s] = pos
			}
			counts[s]++
			if prev != ScriptNeutral && prev != s {
				switches = append(switches, ScriptSwitch{From: prev, To: s, Position: pos})
			}
			prev = s
		}
		if r > 0xFFFF {
			pos += 2
		} else {
			pos++
		}
	}

	primary := ScriptUnknown
	best := 0
	for s, c := range counts {
		if c > best || (c == best && primary != ScriptUnknown && firstSeen[s] < firstSeen[primary]) {
			primary = s
			best = c
		}
	}

	return ScriptResult{Primary: primary, Scripts: counts, Switches: switches}
}
