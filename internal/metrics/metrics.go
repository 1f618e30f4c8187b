// Package metrics defines Prometheus metrics for the Virtual File Tree
// and Transformation Log. This module does not start an HTTP listener
// itself; callers gather or serve Collector.Registry() with whatever
// exporter their embedding process already runs. No code in this
// module updates the metrics, so they stay at zero unless the embedder
// sets them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles every metric this module defines, registered
// against an internal registry. Collector does not itself implement
// prometheus.Collector; Registry returns the registry that holds the
// metrics.
type Collector struct {
	reg *prometheus.Registry

	NodeMutations   *prometheus.CounterVec
	OpenHandles     prometheus.Gauge
	CacheApplies    prometheus.Counter
	CachePrunes     prometheus.Counter
	TranslogEntries prometheus.Gauge
}

// New builds a Collector with all metrics registered against a fresh
// internal registry.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		NodeMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modcrabfs",
			Name:      "node_mutations_total",
			Help:      "Count of tree node mutations by kind (map, add, remove, move).",
		}, []string{"kind"}),
		OpenHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "modcrabfs",
			Name:      "open_directory_handles",
			Help:      "Number of directory handles currently open.",
		}),
		CacheApplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modcrabfs",
			Name:      "cache_applies_total",
			Help:      "Count of transformation-log entries successfully applied.",
		}),
		CachePrunes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "modcrabfs",
			Name:      "cache_prunes_total",
			Help:      "Count of stale transformation-log entries dropped at load.",
		}),
		TranslogEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "modcrabfs",
			Name:      "translog_entries",
			Help:      "Current length of the persisted transformation log.",
		}),
	}

	c.reg.MustRegister(
		c.NodeMutations,
		c.OpenHandles,
		c.CacheApplies,
		c.CachePrunes,
		c.TranslogEntries,
	)

	return c
}

// Registry exposes the internal registry so an embedder can gather it
// alongside its own metrics, or serve it directly.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}
