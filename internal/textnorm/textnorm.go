// Package textnorm holds the text handling shared by the knowledge base and the
// escalation rules: tokenization, overlap scoring, sanitation and log masking.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
)

// MaxUtteranceRunes caps sanitized user input.
const MaxUtteranceRunes = 1000

// Tokenize lower-cases text, strips punctuation and splits on whitespace.
// Apostrophes are dropped so contractions stay one token; other punctuation
// and symbols separate tokens.
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '\'' || r == '’':
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

// Normalize returns the tokens of text joined by single spaces.
func Normalize(text string) string {
	return strings.Join(Tokenize(text), " ")
}

// TokenSet returns the distinct tokens of text.
func TokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// Overlap is the Jaccard similarity of the token sets of a and b, in [0, 1].
func Overlap(a, b string) float64 {
	sa, sb := TokenSet(a), TokenSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// ContainsPhrase reports whether the normalized phrase occurs in normalized
// text on token boundaries.
func ContainsPhrase(normalizedText, phrase string) bool {
	p := Normalize(phrase)
	if p == "" {
		return false
	}
	return strings.Contains(" "+normalizedText+" ", " "+p+" ")
}

var unsafeChars = regexp.MustCompile(`[<>{}\[\]\\]`)

// Sanitize collapses whitespace, removes markup-like characters and caps the
// length of a raw utterance.
func Sanitize(text string) string {
	text = unsafeChars.ReplaceAllString(text, "")
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > MaxUtteranceRunes {
		text = string(r[:MaxUtteranceRunes]) + "..."
	}
	return text
}

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	cardPattern  = regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	phonePattern = regexp.MustCompile(`\(?\b\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
)

// MaskSensitive replaces emails, card numbers, SSNs and phone numbers so the
// text can be logged.
func MaskSensitive(text string) string {
	text = emailPattern.ReplaceAllString(text, "[EMAIL_MASKED]")
	text = cardPattern.ReplaceAllString(text, "[CARD_MASKED]")
	text = ssnPattern.ReplaceAllString(text, "[SSN_MASKED]")
	text = phonePattern.ReplaceAllString(text, "[PHONE_MASKED]")
	return text
}
