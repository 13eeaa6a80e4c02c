// Package metric provides Prometheus metrics for colo.
package metric

import "github.com/prometheus/client_golang/prometheus"

// StateSource reports the current session state.
type StateSource interface {
	// StateValue returns the numeric session state and the role label.
	StateValue() (state float64, role string)
}

// Collector exports the live session state at scrape time.
type Collector struct {
	source StateSource
	desc   *prometheus.Desc
}

// NewCollector creates a collector reading from source.
func NewCollector(source StateSource) *Collector {
	return &Collector{
		source: source,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "session_state"),
			"Current session state (0 handshaking, 1 replicating, 2 failover, 3 completed, 4 failed)",
			[]string{"role"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	state, role := c.source.StateValue()
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, state, role)
}
