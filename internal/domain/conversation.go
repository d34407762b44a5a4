package domain

import "time"

// Source identifies the component that produced a bot reply. It is a closed set;
// code switching on it is expected to be exhaustive.
type Source string

const (
	SourceKnowledgeBase Source = "knowledge_base"
	SourceGenerated     Source = "generated"
	SourceEscalated     Source = "escalated"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceKnowledgeBase, SourceGenerated, SourceEscalated:
		return true
	default:
		return false
	}
}

// Turn is one recorded exchange: the user's utterance and the reply the bot gave.
// Turns are immutable once appended to a conversation.
type Turn struct {
	Utterance string    `json:"utterance"`
	Reply     string    `json:"reply"`
	Source    Source    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Messages renders the exchange as a user message followed by the bot reply.
func (t Turn) Messages() []ChatMessage {
	msgs := make([]ChatMessage, 0, 2)
	if t.Utterance != "" {
		msgs = append(msgs, ChatMessage{Role: RoleUser, Content: t.Utterance})
	}
	if t.Reply != "" {
		msgs = append(msgs, ChatMessage{Role: RoleAssistant, Content: t.Reply})
	}
	return msgs
}

// ConversationState is a point-in-time copy of one conversation. Turns are in
// chronological order and may be a retained suffix of the full history, so
// TurnCount is tracked separately.
type ConversationState struct {
	ConversationID   string
	Turns            []Turn
	TurnCount        int
	Escalated        bool
	EscalationReason EscalationReason
	StartedAt        time.Time
	LastActivity     time.Time
}

// LastTurns returns up to n most recent turns, oldest first.
func (s ConversationState) LastTurns(n int) []Turn {
	if n <= 0 || len(s.Turns) == 0 {
		return nil
	}
	if len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// LastTurn returns the most recent turn, if any.
func (s ConversationState) LastTurn() (Turn, bool) {
	if len(s.Turns) == 0 {
		return Turn{}, false
	}
	return s.Turns[len(s.Turns)-1], true
}

// Meta returns the aggregate fields of the state.
func (s ConversationState) Meta() ConversationMeta {
	return ConversationMeta{
		ConversationID:   s.ConversationID,
		TurnCount:        s.TurnCount,
		Escalated:        s.Escalated,
		EscalationReason: s.EscalationReason,
		StartedAt:        s.StartedAt,
		LastActivity:     s.LastActivity,
	}
}

// ConversationMeta stores aggregate conversation state.
type ConversationMeta struct {
	ConversationID   string           `json:"conversation_id"`
	TurnCount        int              `json:"turn_count"`
	Escalated        bool             `json:"escalated"`
	EscalationReason EscalationReason `json:"escalation_reason,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	LastActivity     time.Time        `json:"last_activity"`
}

// ConversationRecord is what an archive hands back when a conversation is rehydrated.
type ConversationRecord struct {
	Meta  ConversationMeta
	Turns []Turn
}

// ConversationSummary describes a conversation without its transcript.
type ConversationSummary struct {
	ConversationID   string           `json:"conversation_id"`
	TurnCount        int              `json:"turn_count"`
	Escalated        bool             `json:"escalated"`
	EscalationReason EscalationReason `json:"escalation_reason,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	LastActivity     time.Time        `json:"last_activity"`
	Duration         time.Duration    `json:"duration"`
}
