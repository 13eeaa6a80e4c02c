// Package metric provides Prometheus metrics for colo.
package metric

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "colo"

// Checkpoint results used as label values.
const (
	ResultOK      = "ok"
	ResultAborted = "aborted"
)

// Checkpoint triggers used as label values.
const (
	TriggerTimer      = "timer"
	TriggerDivergence = "divergence"
)

// PayloadBuckets covers snapshot payloads from 4 KiB to 4 GiB.
var PayloadBuckets = prometheus.ExponentialBuckets(4096, 4, 11)

// Registry holds all replication metrics.
//
// A nil *Registry is valid; every Record method is then a no-op, so engines
// can run without metrics in tests.
type Registry struct {
	registry *prometheus.Registry

	CheckpointsTotal   *prometheus.CounterVec
	CheckpointDuration *prometheus.HistogramVec
	CheckpointBytes    *prometheus.HistogramVec
	CheckpointTriggers *prometheus.CounterVec
	FailoversTotal     *prometheus.CounterVec
	ProtocolErrors     *prometheus.CounterVec
}

// NewRegistry creates a registry with all colo metrics registered on a fresh
// prometheus.Registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,

		CheckpointsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Total number of checkpoint transactions by role and result",
		}, []string{"role", "result"}),

		CheckpointDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_duration_seconds",
			Help:      "Duration of completed checkpoint transactions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"role"}),

		CheckpointBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_payload_bytes",
			Help:      "Size of checkpoint payloads sent or received",
			Buckets:   PayloadBuckets,
		}, []string{"role"}),

		CheckpointTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_triggers_total",
			Help:      "What started each primary checkpoint",
		}, []string{"trigger"}),

		FailoversTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failovers_total",
			Help:      "Completed failovers by role",
		}, []string{"role"}),

		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Replication errors by error code",
		}, []string{"code"}),
	}

	reg.MustRegister(
		r.CheckpointsTotal,
		r.CheckpointDuration,
		r.CheckpointBytes,
		r.CheckpointTriggers,
		r.FailoversTotal,
		r.ProtocolErrors,
		prometheus.NewGoCollector(),
	)

	return r
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry, creating it on first use.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// Register adds an extra collector (e.g. a StateCollector) to the registry.
func (r *Registry) Register(c prometheus.Collector) error {
	if r == nil {
		return nil
	}
	return r.registry.Register(c)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordCheckpoint records one finished checkpoint transaction.
func (r *Registry) RecordCheckpoint(role string, ok bool, payload int, d time.Duration) {
	if r == nil {
		return
	}
	if !ok {
		r.CheckpointsTotal.WithLabelValues(role, ResultAborted).Inc()
		return
	}
	r.CheckpointsTotal.WithLabelValues(role, ResultOK).Inc()
	r.CheckpointDuration.WithLabelValues(role).Observe(d.Seconds())
	r.CheckpointBytes.WithLabelValues(role).Observe(float64(payload))
}

// RecordTrigger records why the primary started a checkpoint.
func (r *Registry) RecordTrigger(trigger string) {
	if r == nil {
		return
	}
	r.CheckpointTriggers.WithLabelValues(trigger).Inc()
}

// RecordFailover records a completed failover.
func (r *Registry) RecordFailover(role string) {
	if r == nil {
		return
	}
	r.FailoversTotal.WithLabelValues(role).Inc()
}

// RecordError records a replication error by its domain code.
func (r *Registry) RecordError(code string) {
	if r == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	r.ProtocolErrors.WithLabelValues(code).Inc()
}
