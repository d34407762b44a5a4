package metrics

import (
	"sync"
	"time"

	"support-agent/internal/domain"
)

// Summary is an aggregate view of the events seen since start-up.
type Summary struct {
	Since               time.Time                       `json:"since"`
	TotalInteractions   int                             `json:"total_interactions"`
	UniqueConversations int                             `json:"unique_conversations"`
	AverageLatency      time.Duration                   `json:"average_latency"`
	Escalations         int                             `json:"escalations"`
	EscalationRate      float64                         `json:"escalation_rate"`
	KnowledgeBaseRate   float64                         `json:"knowledge_base_rate"`
	ByType              map[domain.EventType]int        `json:"by_type"`
	ByReason            map[domain.EscalationReason]int `json:"by_reason"`
	ByIntent            map[domain.Intent]int           `json:"by_intent"`
	ByErrorKind         map[string]int                  `json:"by_error_kind"`
	FeedbackCount       int                             `json:"feedback_count"`
	AverageRating       float64                         `json:"average_rating"`
}

// Tally aggregates events in memory for the analytics endpoint.
type Tally struct {
	mu            sync.Mutex
	since         time.Time
	total         int
	latency       time.Duration
	conversations map[string]struct{}
	byType        map[domain.EventType]int
	byReason      map[domain.EscalationReason]int
	byIntent      map[domain.Intent]int
	byErrorKind   map[string]int
	feedback      int
	ratingSum     int
}

func NewTally(now time.Time) *Tally {
	return &Tally{
		since:         now,
		conversations: make(map[string]struct{}),
		byType:        make(map[domain.EventType]int),
		byReason:      make(map[domain.EscalationReason]int),
		byIntent:      make(map[domain.Intent]int),
		byErrorKind:   make(map[string]int),
	}
}

func (t *Tally) Emit(ev domain.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.Type == domain.EventFeedback {
		t.feedback++
		t.ratingSum += ev.Rating
		return
	}
	t.total++
	t.latency += ev.Latency
	t.conversations[ev.ConversationID] = struct{}{}
	t.byType[ev.Type]++
	if ev.Reason != "" && ev.Type == domain.EventEscalation {
		t.byReason[ev.Reason]++
	}
	if ev.Intent != "" {
		t.byIntent[ev.Intent]++
	}
	if ev.ErrorKind != "" {
		t.byErrorKind[ev.ErrorKind]++
	}
}

func (t *Tally) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		Since:               t.since,
		TotalInteractions:   t.total,
		UniqueConversations: len(t.conversations),
		Escalations:         t.byType[domain.EventEscalation],
		ByType:              copyMap(t.byType),
		ByReason:            copyMap(t.byReason),
		ByIntent:            copyMap(t.byIntent),
		ByErrorKind:         copyMap(t.byErrorKind),
		FeedbackCount:       t.feedback,
	}
	if t.total > 0 {
		s.AverageLatency = t.latency / time.Duration(t.total)
		s.EscalationRate = float64(s.Escalations) / float64(t.total)
		s.KnowledgeBaseRate = float64(t.byType[domain.EventKnowledgeBaseHit]) / float64(t.total)
	}
	if t.feedback > 0 {
		s.AverageRating = float64(t.ratingSum) / float64(t.feedback)
	}
	return s
}

func copyMap[K comparable](m map[K]int) map[K]int {
	out := make(map[K]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
