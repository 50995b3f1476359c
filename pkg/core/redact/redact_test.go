package redact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact_Boundaries(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"no digits", "check my balance", "check my balance"},
		{"eleven digits untouched", "call 12345678901 now", "call 12345678901 now"},
		{"twelve digits masked", "card 123456789012.", "card [REDACTED]."},
		{"long run masked whole", "acct=12345678901234567890;", "acct=[REDACTED];"},
		{"two runs", "a 111111111111, b 222222222222!", "a [REDACTED], b [REDACTED]!"},
		{"adjacent letters", "x123456789012y", "x[REDACTED]y"},
		{"prefixed identifier", "acct123456789012", "acct[REDACTED]"},
		{"underscore joined", "id_123456789012_v2", "id_[REDACTED]_v2"},
		{"grouped digits stay", "4111 1111 1111 1111", "4111 1111 1111 1111"},
		{"whitespace kept", "\t123456789012\n", "\t[REDACTED]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Redact(tt.in))
		})
	}
}

func TestRedact_Idempotent(t *testing.T) {
	inputs := []string{
		"my number is 123456789012345",
		"[REDACTED] 999999999999",
		"nothing here",
		"12345678901",
		strings.Repeat("9", 40),
	}
	for _, in := range inputs {
		once := Redact(in)
		assert.Equal(t, once, Redact(once), "input %q", in)
	}
}

func TestForLog_TruncatesAfterRedacting(t *testing.T) {
	in := "id 123456789012 " + strings.Repeat("a", 300)
	got := ForLog(in, 0)

	require.True(t, strings.HasPrefix(got, "id [REDACTED] "))
	require.Equal(t, DefaultLogLimit+len("..."), len([]rune(got)))
}

func TestParams_SanitizesWithoutMutatingInput(t *testing.T) {
	in := map[string]any{
		"api_key":  "sk-live-abc",
		"Password": "hunter2",
		"account":  "acct 123456789012",
		"note":     strings.Repeat("x", 600),
		"nested":   map[string]any{"auth_header": "Bearer abc", "query": "ok"},
		"count":    3,
	}

	out := Params(in)

	assert.Equal(t, Mask, out["api_key"])
	assert.Equal(t, Mask, out["Password"])
	assert.Equal(t, "acct [REDACTED]", out["account"])
	assert.True(t, strings.HasSuffix(out["note"].(string), truncatedSuffix))
	assert.Equal(t, 3, out["count"])
	nested := out["nested"].(map[string]any)
	assert.Equal(t, Mask, nested["auth_header"])
	assert.Equal(t, "ok", nested["query"])

	assert.Equal(t, "sk-live-abc", in["api_key"], "input must not be modified")
	assert.Nil(t, Params(nil))
}
