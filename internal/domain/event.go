package domain

import "time"

// EventType classifies a metrics event emitted by the engine.
type EventType string

const (
	EventEscalation        EventType = "escalation"
	EventEscalatedFollowUp EventType = "escalated_followup"
	EventKnowledgeBaseHit  EventType = "kb_hit"
	EventGenerated         EventType = "generated"
	EventGenerationFailed  EventType = "generation_failed"
	// EventFeedback carries a customer rating, not an interaction.
	EventFeedback EventType = "feedback"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Event is one interaction record handed to a metrics sink.
type Event struct {
	ID             string           `json:"id"`
	Type           EventType        `json:"type"`
	ConversationID string           `json:"conversation_id"`
	Reason         EscalationReason `json:"reason,omitempty"`
	ErrorKind      string           `json:"error_kind,omitempty"`
	Intent         Intent           `json:"intent,omitempty"`
	FAQEntryID     string           `json:"faq_entry_id,omitempty"`
	Rating         int              `json:"rating,omitempty"`
	Latency        time.Duration    `json:"latency"`
	At             time.Time        `json:"at"`
}
