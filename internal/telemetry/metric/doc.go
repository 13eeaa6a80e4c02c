// Package metric provides Prometheus metrics for colo.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: metric registry, recording helpers and HTTP handler
//   - collector.go: collector exporting live session state
//
// Metrics include:
//
//   - Checkpoint transaction counts and latency by role and result
//   - Checkpoint payload size
//   - Checkpoint triggers (timer vs. divergence)
//   - Failover counts by role
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
