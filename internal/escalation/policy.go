// Package escalation decides when a conversation has to be handed to a human.
package escalation

import (
	"errors"
	"fmt"
	"strings"

	"support-agent/internal/domain"
	"support-agent/internal/textnorm"
)

const (
	DefaultNegativeThreshold   = -0.5
	DefaultRepeatWindow        = 3
	DefaultSimilarityThreshold = 0.5
)

// DefaultPhrases are explicit requests for a human.
func DefaultPhrases() []string {
	return []string{
		"talk to a human",
		"speak to a human",
		"speak to agent",
		"speak to an agent",
		"talk to an agent",
		"real person",
		"human agent",
		"speak to human",
		"speak to a manager",
		"talk to a manager",
		"customer service representative",
	}
}

// DefaultKeywords cover billing disputes, legal and safety topics.
func DefaultKeywords() []string {
	return []string{
		"lawyer", "legal", "lawsuit", "sue", "attorney",
		"chargeback", "dispute", "fraud", "unauthorized",
		"injury", "injured", "unsafe", "danger", "dangerous", "fire", "police",
	}
}

type Config struct {
	Phrases  []string
	Keywords []string
	Lexicon  Lexicon

	// NegativeThreshold triggers escalation when the sentiment score is
	// strictly below it.
	NegativeThreshold float64
	// RepeatWindow is the number of most recent turns that must all have been
	// generated for the repeated-failure rule to apply.
	RepeatWindow int
	// SimilarityThreshold is the token overlap with the previous utterance
	// above which the user is considered to be asking again.
	SimilarityThreshold float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Phrases:             DefaultPhrases(),
		Keywords:            DefaultKeywords(),
		Lexicon:             DefaultLexicon(),
		NegativeThreshold:   DefaultNegativeThreshold,
		RepeatWindow:        DefaultRepeatWindow,
		SimilarityThreshold: DefaultSimilarityThreshold,
	}
}

// Policy evaluates the escalation rules in order: explicit request, negative
// sentiment, repeated failure, keyword match. It holds no mutable state.
type Policy struct {
	phrases             []string
	keywords            []string
	lexicon             Lexicon
	negativeThreshold   float64
	repeatWindow        int
	similarityThreshold float64
}

func New(cfg Config) (*Policy, error) {
	if cfg.RepeatWindow < 1 {
		return nil, errors.New("escalation: repeat window must be at least 1")
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("escalation: similarity threshold %v outside (0, 1]", cfg.SimilarityThreshold)
	}
	if cfg.NegativeThreshold < -1 || cfg.NegativeThreshold > 0 {
		return nil, fmt.Errorf("escalation: negative threshold %v outside [-1, 0]", cfg.NegativeThreshold)
	}
	lex := cfg.Lexicon
	if lex == nil {
		lex = DefaultLexicon()
	}
	return &Policy{
		phrases:             normalizeAll(cfg.Phrases),
		keywords:            normalizeAll(cfg.Keywords),
		lexicon:             lex,
		negativeThreshold:   cfg.NegativeThreshold,
		repeatWindow:        cfg.RepeatWindow,
		similarityThreshold: cfg.SimilarityThreshold,
	}, nil
}

// Evaluate inspects utterance against the recent history in state. The first
// matching rule wins; state is never modified.
func (p *Policy) Evaluate(utterance string, state domain.ConversationState) domain.EscalationSignal {
	tokens := textnorm.Tokenize(utterance)
	text := strings.Join(tokens, " ")

	switch {
	case containsAny(text, p.phrases):
		return domain.Escalate(domain.ReasonExplicitRequest)
	case p.lexicon.Score(tokens) < p.negativeThreshold:
		return domain.Escalate(domain.ReasonNegativeSentiment)
	case p.repeatedFailure(utterance, state):
		return domain.Escalate(domain.ReasonRepeatedFailure)
	case containsAny(text, p.keywords):
		return domain.Escalate(domain.ReasonKeywordMatch)
	default:
		return domain.EscalationSignal{}
	}
}

func (p *Policy) repeatedFailure(utterance string, state domain.ConversationState) bool {
	recent := state.LastTurns(p.repeatWindow)
	if len(recent) < p.repeatWindow {
		return false
	}
	for _, t := range recent {
		if t.Source != domain.SourceGenerated {
			return false
		}
	}
	prev, _ := state.LastTurn()
	return textnorm.Overlap(utterance, prev.Utterance) > p.similarityThreshold
}

func containsAny(text string, phrases []string) bool {
	for _, ph := range phrases {
		if textnorm.ContainsPhrase(text, ph) {
			return true
		}
	}
	return false
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := textnorm.Normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}
