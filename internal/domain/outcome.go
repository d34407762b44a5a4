package domain

// Outcome is the engine's answer to one utterance.
// Source == SourceEscalated exactly when Escalation.Triggered is true.
type Outcome struct {
	ConversationID string           `json:"conversation_id"`
	ReplyText      string           `json:"reply"`
	Source         Source           `json:"source"`
	Escalation     EscalationSignal `json:"escalation"`
	TurnCount      int              `json:"turn_count"`
	Intent         Intent           `json:"intent"`
	FAQEntryID     string           `json:"faq_entry_id,omitempty"`
}
