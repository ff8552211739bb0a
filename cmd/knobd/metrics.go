package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"knobd/rotary"
)

// Metrics holds the daemon's prometheus collectors, partitioned by knob.
type Metrics struct {
	reg     *prometheus.Registry
	factory promauto.Factory

	Value         *prometheus.GaugeVec
	Changes       *prometheus.CounterVec
	Faults        *prometheus.CounterVec
	EventsDropped *prometheus.CounterVec
	IPCRequests   *prometheus.CounterVec
	WSClients     prometheus.Gauge
}

// NewMetrics registers all collectors on a fresh registry, plus the Go and
// process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg:     reg,
		factory: f,

		Value: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "knobd",
			Name:      "value",
			Help:      "Current tracked value",
		}, []string{"knob"}),

		Changes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knobd",
			Name:      "value_changes_total",
			Help:      "Accepted value changes from encoder motion",
		}, []string{"knob"}),

		Faults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knobd",
			Name:      "listener_faults_total",
			Help:      "Listener errors and panics",
		}, []string{"knob"}),

		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knobd",
			Name:      "events_dropped_total",
			Help:      "Change notifications dropped because the daemon queue was full",
		}, []string{"knob"}),

		IPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knobd",
			Subsystem: "ipc",
			Name:      "requests_total",
			Help:      "IPC requests by type and outcome",
		}, []string{"type", "status"}),

		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "knobd",
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Connected websocket state clients",
		}),
	}
}

// Registry returns the registry backing the metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// trackKnob exposes the tracker's own counters, read at scrape time.
func (m *Metrics) trackKnob(name string, t *rotary.Tracker) {
	labels := prometheus.Labels{"knob": name}
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   "knobd",
		Name:        "edges_total",
		Help:        "Quadrature samples processed",
		ConstLabels: labels,
	}, func() float64 { return float64(t.Stats().Edges) })
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   "knobd",
		Name:        "detents_total",
		Help:        "Complete detents decoded",
		ConstLabels: labels,
	}, func() float64 { return float64(t.Stats().Detents) })

	m.Value.WithLabelValues(name).Set(float64(t.Value()))
	m.Changes.WithLabelValues(name)
	m.Faults.WithLabelValues(name)
}
