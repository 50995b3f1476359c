package tts

import "strings"

var abbreviations = map[string]bool{
	"dr.": true, "mr.": true, "mrs.": true, "ms.": true, "jr.": true, "sr.": true,
	"prof.": true, "inc.": true, "ltd.": true, "co.": true, "vs.": true, "etc.": true,
	"i.e.": true, "e.g.": true, "a.m.": true, "p.m.": true, "u.s.": true,
}

// splitSentences breaks a reply into sentences so synthesis can start on the
// first one while later ones are still queued. Text without a terminator is
// returned whole.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if !sentenceEnd(text, i) {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func sentenceEnd(s string, i int) bool {
	switch s[i] {
	case '!', '?':
	case '.':
		if abbreviated(s, i) {
			return false
		}
	default:
		return false
	}
	return i+1 == len(s) || isSpace(s[i+1])
}

// abbreviated reports whether the period at i closes an abbreviation or a
// single-letter initial.
func abbreviated(s string, i int) bool {
	start := i
	for start > 0 && !isSpace(s[start-1]) {
		start--
	}
	word := s[start : i+1]
	if abbreviations[strings.ToLower(word)] {
		return true
	}
	return len(word) == 2 && word[0] >= 'A' && word[0] <= 'Z'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}
