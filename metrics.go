package cluster

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metrics for one or more pools. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Node metrics
	NodeUp          *prometheus.GaugeVec
	ConnectAttempts *prometheus.CounterVec
	ConnectDuration *prometheus.HistogramVec
	Disconnects     *prometheus.CounterVec

	// Selection metrics
	Selections    *prometheus.CounterVec
	PoolExhausted *prometheus.CounterVec

	// Operation metrics
	OperationDuration *prometheus.HistogramVec
	OperationErrors   *prometheus.CounterVec
}

// NewMetrics creates a metrics set on its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		NodeUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dbcluster_node_up",
			Help: "1 if the node is connected",
		}, []string{"pool", "node"}),

		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbcluster_connect_attempts_total",
			Help: "Total node connect attempts",
		}, []string{"pool", "node", "mode", "result"}),

		ConnectDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dbcluster_connect_duration_seconds",
			Help:    "Node connect attempt duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"pool", "node"}),

		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbcluster_node_disconnects_total",
			Help: "Total times a connected node was marked disconnected",
		}, []string{"pool", "node", "kind"}),

		Selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbcluster_selections_total",
			Help: "Total node selections by escalation tier",
		}, []string{"pool", "node", "tier"}),

		PoolExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbcluster_pool_exhausted_total",
			Help: "Total selections that found every node down",
		}, []string{"pool"}),

		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dbcluster_operation_duration_seconds",
			Help:    "Operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"pool", "node", "kind"}),

		OperationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbcluster_operation_errors_total",
			Help: "Total failed operations by error kind",
		}, []string{"pool", "node", "kind"}),
	}

	registry.MustRegister(
		m.NodeUp,
		m.ConnectAttempts,
		m.ConnectDuration,
		m.Disconnects,
		m.Selections,
		m.PoolExhausted,
		m.OperationDuration,
		m.OperationErrors,
	)

	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) setNodeUp(pool, node string, up bool) {
	if m == nil {
		return
	}
	val := 0.0
	if up {
		val = 1.0
	}
	m.NodeUp.WithLabelValues(pool, node).Set(val)
}

func (m *Metrics) observeConnect(pool, node, mode string, duration time.Duration, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.ConnectAttempts.WithLabelValues(pool, node, mode, result).Inc()
	m.ConnectDuration.WithLabelValues(pool, node).Observe(duration.Seconds())
}

func (m *Metrics) incDisconnect(pool, node string, kind ErrorKind) {
	if m == nil {
		return
	}
	m.Disconnects.WithLabelValues(pool, node, kind.String()).Inc()
}

func (m *Metrics) incSelection(pool, node string, tier Tier) {
	if m == nil {
		return
	}
	m.Selections.WithLabelValues(pool, node, tier.String()).Inc()
}

func (m *Metrics) incExhausted(pool string) {
	if m == nil {
		return
	}
	m.PoolExhausted.WithLabelValues(pool).Inc()
}

func (m *Metrics) observeOperation(pool, node string, op Operation, duration time.Duration, kind ErrorKind, err error) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(pool, node, op.Kind.String()).Observe(duration.Seconds())
	if err != nil {
		m.OperationErrors.WithLabelValues(pool, node, kind.String()).Inc()
	}
}
