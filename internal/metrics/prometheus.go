package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"support-agent/internal/domain"
)

// Prometheus turns events into counters and a latency histogram.
type Prometheus struct {
	Interactions       *prometheus.CounterVec
	Escalations        *prometheus.CounterVec
	GenerationFailures *prometheus.CounterVec
	Intents            *prometheus.CounterVec
	Feedback           *prometheus.CounterVec
	Latency            *prometheus.HistogramVec

	reg prometheus.Registerer
}

// NewPrometheus registers the collectors with reg, or with the default
// registry when reg is nil.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Prometheus{
		reg: reg,

		Interactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "support_agent_interactions_total",
			Help: "Handled utterances by outcome type",
		}, []string{"type"}),

		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "support_agent_escalations_total",
			Help: "Conversations handed to a human, by reason",
		}, []string{"reason"}),

		GenerationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "support_agent_generation_failures_total",
			Help: "Generative backend failures answered with a fallback reply, by kind",
		}, []string{"error_kind"}),

		Intents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "support_agent_intents_total",
			Help: "Handled utterances by detected intent",
		}, []string{"intent"}),

		Feedback: f.NewCounterVec(prometheus.CounterOpts{
			Name: "support_agent_feedback_total",
			Help: "Customer ratings received, by rating",
		}, []string{"rating"}),

		// generated replies dominate the upper buckets
		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "support_agent_response_duration_seconds",
			Help:    "Time to produce an outcome, by outcome type",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"type"}),
	}
}

func (p *Prometheus) Emit(ev domain.Event) {
	if ev.Type == domain.EventFeedback {
		p.Feedback.WithLabelValues(strconv.Itoa(ev.Rating)).Inc()
		return
	}
	p.Interactions.WithLabelValues(string(ev.Type)).Inc()
	p.Latency.WithLabelValues(string(ev.Type)).Observe(ev.Latency.Seconds())
	if ev.Intent != "" {
		p.Intents.WithLabelValues(string(ev.Intent)).Inc()
	}
	switch ev.Type {
	case domain.EventEscalation:
		p.Escalations.WithLabelValues(string(ev.Reason)).Inc()
	case domain.EventGenerationFailed:
		p.GenerationFailures.WithLabelValues(ev.ErrorKind).Inc()
	}
}

// RegisterActiveConversations exposes the live conversation count.
func (p *Prometheus) RegisterActiveConversations(count func() int) error {
	return p.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "support_agent_conversations_active",
		Help: "Conversations currently held in memory",
	}, func() float64 {
		return float64(count())
	}))
}
