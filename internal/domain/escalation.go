package domain

// EscalationReason names the rule that requested a human hand-off.
type EscalationReason string

const (
	ReasonExplicitRequest   EscalationReason = "explicit_request"
	ReasonNegativeSentiment EscalationReason = "negative_sentiment"
	ReasonRepeatedFailure   EscalationReason = "repeated_failure"
	ReasonKeywordMatch      EscalationReason = "keyword_match"
)

// EscalationSignal is produced per turn by the escalation policy. Reason is
// empty when Triggered is false.
type EscalationSignal struct {
	Triggered bool             `json:"triggered"`
	Reason    EscalationReason `json:"reason,omitempty"`
}

// Escalate returns a triggered signal for reason.
func Escalate(reason EscalationReason) EscalationSignal {
	return EscalationSignal{Triggered: true, Reason: reason}
}
