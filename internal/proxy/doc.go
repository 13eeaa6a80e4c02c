// Package proxy adapts packet comparison to the replication oracle.
//
// A Proxy collects output packets from both sides, compares them in order,
// and reports divergence to the primary's decide step. It also drives the
// network configurator at oracle init and teardown.
package proxy
