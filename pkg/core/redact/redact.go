// Package redact masks sensitive substrings before text is stored, logged, or
// sent to a client.
package redact

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Mask replaces every masked digit run.
const Mask = "[REDACTED]"

const (
	// DefaultLogLimit bounds text written to logs by ForLog.
	DefaultLogLimit = 200
	// ParamValueLimit bounds string parameter values kept by Params.
	ParamValueLimit = 500

	truncatedSuffix = "...[TRUNCATED]"
)

// Runs of twelve or more ASCII digits. The repetition is greedy, so a run of
// any length is consumed whole. There is no word boundary: a number glued to
// letters ("acct123456789012") is still masked.
var longDigits = regexp.MustCompile(`[0-9]{12,}`)

// Redact masks digit runs of length >= 12. Everything else, including the
// punctuation and whitespace around a run, is left as is. Mask contains no
// digits, so Redact(Redact(s)) == Redact(s).
func Redact(text string) string {
	if len(text) < 12 {
		return text
	}
	return longDigits.ReplaceAllLiteralString(text, Mask)
}

// ForLog redacts text and truncates it to limit runes (DefaultLogLimit when
// limit <= 0).
func ForLog(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	text = Redact(text)
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit]) + "..."
}

var sensitiveKeyParts = []string{
	"password", "passwd", "token", "key", "secret", "credential", "auth", "bearer",
}

// SensitiveKey reports whether a parameter name looks like it carries a secret.
func SensitiveKey(name string) bool {
	lower := strings.ToLower(name)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// Params returns a sanitized deep copy of params: values under sensitive keys
// are masked, long strings are truncated, and every string is passed through
// Redact. The input map is not modified.
func Params(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if SensitiveKey(k) {
			out[k] = Mask
			continue
		}
		out[k] = scrubValue(v)
	}
	return out
}

func scrubValue(v any) any {
	switch t := v.(type) {
	case string:
		return truncate(Redact(t), ParamValueLimit)
	case map[string]any:
		return Params(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = scrubValue(t[i])
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i := range t {
			out[i] = truncate(Redact(t[i]), ParamValueLimit)
		}
		return out
	default:
		return v
	}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + truncatedSuffix
}
