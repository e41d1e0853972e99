package notify

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the poller collectors. A nil *Metrics records nothing.
type Metrics struct {
	fetches  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	items    *prometheus.GaugeVec
}

// NewMetrics registers the poller collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "supportchat",
			Subsystem: "poller",
			Name:      "fetches_total",
			Help:      "Poll fetches by poller and result.",
		}, []string{"poller", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "supportchat",
			Subsystem: "poller",
			Name:      "fetch_duration_seconds",
			Help:      "Poll fetch latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"poller"}),
		items: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "supportchat",
			Subsystem: "poller",
			Name:      "snapshot_items",
			Help:      "Entries in the latest successful snapshot.",
		}, []string{"poller"}),
	}
	if reg != nil {
		reg.MustRegister(m.fetches, m.duration, m.items)
	}
	return m
}

func (m *Metrics) fetched(name, result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(name, result).Inc()
}

func (m *Metrics) observe(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) size(name string, n int) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(name).Set(float64(n))
}
