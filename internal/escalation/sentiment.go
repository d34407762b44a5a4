package escalation

// Lexicon maps a token to its polarity in [-1, 1].
type Lexicon map[string]float64

// DefaultLexicon is a small customer-support polarity list.
func DefaultLexicon() Lexicon {
	return Lexicon{
		"terrible":     -1,
		"awful":        -1,
		"horrible":     -1,
		"worst":        -1,
		"hate":         -1,
		"angry":        -1,
		"furious":      -1,
		"unacceptable": -1,
		"useless":      -0.9,
		"frustrated":   -0.8,
		"frustrating":  -0.8,
		"ridiculous":   -0.8,
		"stupid":       -0.8,
		"disgusting":   -0.8,
		"upset":        -0.7,
		"mad":          -0.7,
		"disappointed": -0.7,
		"annoyed":      -0.6,
		"bad":          -0.5,
		"poor":         -0.5,
		"broken":       -0.4,
		"slow":         -0.3,
		"wrong":        -0.3,
		"problem":      -0.2,
		"excellent":    1,
		"amazing":      1,
		"perfect":      1,
		"love":         0.9,
		"great":        0.8,
		"happy":        0.8,
		"awesome":      0.8,
		"helpful":      0.7,
		"satisfied":    0.7,
		"good":         0.5,
		"thanks":       0.5,
		"thank":        0.5,
		"fine":         0.3,
	}
}

// negators flip the polarity of the token that follows them. Apostrophes are
// already stripped by tokenization.
var negators = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "hardly": {},
	"dont": {}, "doesnt": {}, "didnt": {}, "isnt": {}, "wasnt": {},
	"arent": {}, "cant": {}, "cannot": {}, "wont": {}, "wouldnt": {},
}

// Score returns the mean polarity of the polar tokens, or 0 when none are
// present. A negator inverts the next token.
func (l Lexicon) Score(tokens []string) float64 {
	var sum float64
	n := 0
	negate := false
	for _, tok := range tokens {
		if _, ok := negators[tok]; ok {
			negate = true
			continue
		}
		if p, ok := l[tok]; ok {
			if negate {
				p = -p
			}
			sum += p
			n++
		}
		negate = false
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
