package kv_test

import (
	"testing"

	"github.com/soyeahso/shopagent/internal/kv"
	"github.com/stretchr/testify/assert"
)

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern, key string
		want         bool
	}{
		{"conv:*", "conv:a/b:messages", true},
		{"*", "", true},
		{"conv:?", "conv:é", true},
		{"conv:?", "conv:", false},
		{"a*b*c", "axxbyyc", true},
		{"a*b*c", "axxbyy", false},
		{"[abc]x", "bx", true},
		{"[^abc]x", "bx", false},
		{"[]]", "]", true},
		{"[a-]", "-", true},
		{"[0-9]", "7", true},
		{"[abc", "a", false},
		{"A", "a", false},
		{`a\*`, `a\b`, true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, kv.MatchGlob(tt.pattern, tt.key))
		})
	}
}

func TestQuoteGlob(t *testing.T) {
	assert.Equal(t, "plain-id", kv.QuoteGlob("plain-id"))
	assert.Equal(t, "[*]", kv.QuoteGlob("*"))
	assert.Equal(t, "a[?]b[[]c]", kv.QuoteGlob("a?b[c]"))

	for _, id := range []string{"*", "a?b", "[x]", "x[*]y", "é*"} {
		assert.True(t, kv.MatchGlob(kv.QuoteGlob(id), id), id)
	}
	assert.False(t, kv.MatchGlob(kv.QuoteGlob("*"), "anything"))
}
