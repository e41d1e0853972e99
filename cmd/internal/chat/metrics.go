package chat

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the chat client collectors. A nil *Metrics records nothing.
type Metrics struct {
	stateChanges    *prometheus.CounterVec
	reconnects      prometheus.Counter
	framesReceived  *prometheus.CounterVec
	framesDiscarded prometheus.Counter
	sends           *prometheus.CounterVec
	routerSwitches  prometheus.Counter
}

// NewMetrics registers the chat collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "supervisor",
			Name:      "state_changes_total",
			Help:      "Connection supervisor state transitions by target state.",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "supervisor",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts after the retry delay elapsed.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "supervisor",
			Name:      "frames_received_total",
			Help:      "Decoded inbound frames by kind.",
		}, []string{"kind"}),
		framesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "supervisor",
			Name:      "frames_discarded_total",
			Help:      "Inbound frames that could not be decoded.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "send",
			Name:      "messages_total",
			Help:      "Outbound messages by result (sent, dropped, failed).",
		}, []string{"result"}),
		routerSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "router",
			Name:      "switches_total",
			Help:      "Operator conversation activations.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.stateChanges,
			m.reconnects,
			m.framesReceived,
			m.framesDiscarded,
			m.sends,
			m.routerSwitches,
		)
	}
	return m
}

func (m *Metrics) stateChanged(s State) {
	if m == nil {
		return
	}
	m.stateChanges.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) frameReceived(kind string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) frameDiscarded() {
	if m == nil {
		return
	}
	m.framesDiscarded.Inc()
}

func (m *Metrics) send(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}

func (m *Metrics) routerSwitched() {
	if m == nil {
		return
	}
	m.routerSwitches.Inc()
}
