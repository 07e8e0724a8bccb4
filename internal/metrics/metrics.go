// Package metrics provides Prometheus metrics for gra
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gra"

// Metrics holds all application metrics
type Metrics struct {
	registry *prometheus.Registry

	// Actor
	Commands          *prometheus.CounterVec // labels: command
	Events            *prometheus.CounterVec // labels: event
	Pending           *prometheus.GaugeVec   // labels: table
	ProtocolAnomalies prometheus.Counter

	// Session
	SessionEvents *prometheus.CounterVec // labels: event

	// Request/response
	InboundRequests *prometheus.CounterVec // labels: result
	BlockRequests   *prometheus.CounterVec // labels: result

	// Network
	ConnectedPeers   prometheus.Gauge
	RoutingTableSize prometheus.Gauge
	DHTQueryDuration *prometheus.HistogramVec // labels: query

	// Storage
	StorageOps *prometheus.CounterVec // labels: tier, op, result
}

// New creates a metrics set on its own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands processed by the node actor.",
		}, []string{"command"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Network events dispatched by the node actor.",
		}, []string{"event"}),
		Pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending",
			Help:      "In-flight operations awaiting a network event.",
		}, []string{"table"}),
		ProtocolAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_anomalies_total",
			Help:      "Events that matched no pending operation.",
		}),
		SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Network events queued by the session.",
		}, []string{"event"}),
		InboundRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_requests_total",
			Help:      "Block requests received from peers.",
		}, []string{"result"}),
		BlockRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_requests_total",
			Help:      "Block requests sent to peers.",
		}, []string{"result"}),
		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_peers",
			Help:      "Currently connected peers.",
		}),
		RoutingTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routing_table_size",
			Help:      "Peers in the DHT routing table.",
		}),
		DHTQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dht_query_duration_seconds",
			Help:      "DHT query latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"query"}),
		StorageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_ops_total",
			Help:      "Storage tier operations.",
		}, []string{"tier", "op", "result"}),
	}

	m.registry.MustRegister(
		m.Commands,
		m.Events,
		m.Pending,
		m.ProtocolAnomalies,
		m.SessionEvents,
		m.InboundRequests,
		m.BlockRequests,
		m.ConnectedPeers,
		m.RoutingTableSize,
		m.DHTQueryDuration,
		m.StorageOps,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Timer measures an operation's duration
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer starts a timer. A nil observer only measures.
func NewTimer(o prometheus.Observer) *Timer {
	return &Timer{start: time.Now(), observer: o}
}

// ObserveDuration records and returns the elapsed time
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(d.Seconds())
	}
	return d
}
