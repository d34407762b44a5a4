package textnorm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"How do I get a REFUND?", []string{"how", "do", "i", "get", "a", "refund"}},
		{"  don't   stop ", []string{"dont", "stop"}},
		{"refund/return, please!", []string{"refund", "return", "please"}},
		{"?!...", nil},
		{"", nil},
	}
	for _, tc := range cases {
		got := Tokenize(tc.in)
		if tc.want == nil {
			require.Empty(t, got, "in=%q", tc.in)
			continue
		}
		require.Equal(t, tc.want, got, "in=%q", tc.in)
	}
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "talk to a human", Normalize("Talk to a HUMAN!!"))
	require.Empty(t, Normalize(" ... "))
}

func TestOverlap(t *testing.T) {
	require.InDelta(t, 1.0, Overlap("where is my order", "Where is my order?"), 1e-9)
	require.InDelta(t, 0.0, Overlap("hello", "goodbye"), 1e-9)
	require.InDelta(t, 0.5, Overlap("a b", "a b c d"), 1e-9)
	require.Zero(t, Overlap("", ""))
}

func TestContainsPhrase(t *testing.T) {
	text := Normalize("I want to talk to a human right now")
	require.True(t, ContainsPhrase(text, "talk to a human"))
	require.True(t, ContainsPhrase(text, "Talk to a Human."))
	require.False(t, ContainsPhrase(text, "human agent"))
	require.False(t, ContainsPhrase(Normalize("legalese"), "legal"))
	require.False(t, ContainsPhrase(text, "  "))
}

func TestSanitize(t *testing.T) {
	require.Equal(t, "hello world", Sanitize("  hello \n\t <world> "))
	require.Equal(t, "abc", Sanitize("a{b}[c]\\"))

	long := Sanitize(strings.Repeat("x", MaxUtteranceRunes+10))
	require.Equal(t, MaxUtteranceRunes+3, len([]rune(long)))
	require.True(t, strings.HasSuffix(long, "..."))
}

func TestMaskSensitive(t *testing.T) {
	out := MaskSensitive("mail me at jane.doe@example.com or call 555-123-4567, card 4111 1111 1111 1111, ssn 123-45-6789")
	require.NotContains(t, out, "jane.doe@example.com")
	require.NotContains(t, out, "555-123-4567")
	require.NotContains(t, out, "4111 1111 1111 1111")
	require.NotContains(t, out, "123-45-6789")
	require.Contains(t, out, "[EMAIL_MASKED]")
	require.Contains(t, out, "[PHONE_MASKED]")
	require.Contains(t, out, "[CARD_MASKED]")
	require.Contains(t, out, "[SSN_MASKED]")
}
