package devserver

import (
	"github.com/prometheus/client_golang/prometheus"

	v1 "supportchat/shared/contracts/chat/v1"
)

// Metrics are the dev server collectors. A nil *Metrics records nothing.
type Metrics struct {
	connections *prometheus.GaugeVec
	messages    *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	dropped     prometheus.Counter
}

// NewMetrics registers the dev server collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "supportchat",
			Subsystem: "devserver",
			Name:      "connections",
			Help:      "Open websocket sessions by role.",
		}, []string{"role"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "devserver",
			Name:      "messages_total",
			Help:      "Stored messages by sender role.",
		}, []string{"role"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "devserver",
			Name:      "rejected_total",
			Help:      "Inbound frames rejected by reason.",
		}, []string{"reason"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "devserver",
			Name:      "fanout_dropped_total",
			Help:      "Frames dropped because a session queue was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.messages, m.rejected, m.dropped)
	}
	return m
}

func (m *Metrics) connected(role v1.Role, delta float64) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(string(role)).Add(delta)
}

func (m *Metrics) stored(role v1.Role) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(string(role)).Inc()
}

func (m *Metrics) reject(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) fanoutDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
