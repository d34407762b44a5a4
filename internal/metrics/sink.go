// Package metrics receives interaction events from the engine and fans them
// out to Prometheus, the log and an in-process tally.
package metrics

import (
	"support-agent/internal/domain"
	logx "support-agent/pkg/logger"
)

// Sink consumes events. Implementations must be safe for concurrent use and
// must not block for long; Async is the usual front for slow sinks.
type Sink interface {
	Emit(ev domain.Event)
}

// Multi forwards every event to each sink in order.
type Multi []Sink

func (m Multi) Emit(ev domain.Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(domain.Event) {}

// LogSink writes one structured line per event.
type LogSink struct{}

func (LogSink) Emit(ev domain.Event) {
	e := logx.Info()
	if ev.Type == domain.EventGenerationFailed {
		e = logx.Warn()
	}
	e = e.Str("event_id", ev.ID).
		Str("type", string(ev.Type)).
		Str("conversation_id", ev.ConversationID).
		Str("intent", string(ev.Intent)).
		Dur("latency", ev.Latency)
	if ev.Reason != "" {
		e = e.Str("reason", string(ev.Reason))
	}
	if ev.ErrorKind != "" {
		e = e.Str("error_kind", ev.ErrorKind)
	}
	if ev.FAQEntryID != "" {
		e = e.Str("faq_entry_id", ev.FAQEntryID)
	}
	if ev.Type == domain.EventFeedback {
		e.Int("rating", ev.Rating).Msg("feedback")
		return
	}
	e.Msg("interaction")
}
