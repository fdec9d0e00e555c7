// Package metrics exposes signaling server counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mentorlink"

const (
	DropUnknownSession   = "unknown_session"
	DropUnknownRecipient = "unknown_recipient"
	DropOutboxFull       = "outbox_full"
	DropNoRecipient      = "no_recipient"
)

// Metrics is nil-safe: every method is a no-op on a nil receiver.
type Metrics struct {
	gatherer prometheus.Gatherer

	sessions     prometheus.Gauge
	participants *prometheus.GaugeVec
	relayed      *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	control      *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions with at least one participant.",
		}),
		participants: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants_active",
			Help:      "Joined participants by role.",
		}, []string{"role"}),
		relayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Signaling messages delivered to a recipient outbox.",
		}, []string{"type"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Signaling messages that could not be delivered.",
		}, []string{"reason"}),
		control: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_transitions_total",
			Help:      "Control state transitions by target state.",
		}, []string{"state"}),
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

func (m *Metrics) ParticipantJoined(role string) {
	if m != nil {
		m.participants.WithLabelValues(role).Inc()
	}
}

func (m *Metrics) ParticipantLeft(role string) {
	if m != nil {
		m.participants.WithLabelValues(role).Dec()
	}
}

func (m *Metrics) Relayed(msgType string) {
	if m != nil {
		m.relayed.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ControlTransition(state string) {
	if m != nil {
		m.control.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
