// Package httpserver serves the colod HTTP endpoints: health, session
// status, operator failover, the workload KV API and Prometheus metrics.
//
// It uses net/http with the Go 1.22 pattern router and a small middleware
// chain (request IDs, panic recovery, per-client rate limiting, access logs).
package httpserver
