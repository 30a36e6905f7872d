// Package promexport wraps a unit's Metrics snapshot as a
// prometheus/client_golang Collector, so a host process can expose
// /metrics alongside its storage units without either package depending
// on the other: Collector only needs a Snapshotter, a func the root
// package's Unit.PrometheusCollector builds over spd.Unit.MetricsSnapshot.
package promexport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is the subset of spd.MetricsSnapshot the collector reads. Kept
// as a plain struct rather than importing the root package, the same
// reason internal/dispatch defines its own Observer instead of importing
// spd.Observer.
type Snapshot struct {
	ReadOps, WriteOps, UnmapOps, FlushOps             uint64
	ReadErrors, WriteErrors, UnmapErrors, FlushErrors uint64
	ReadBytes, WriteBytes                             uint64
	MaxQueueDepth                                     uint32
	AvgQueueDepth                                     float64
	AvgLatencyNs                                      uint64
	LatencyP50Ns, LatencyP99Ns, LatencyP999Ns         uint64
	UptimeNs                                          uint64
}

// Snapshotter returns the current Snapshot. Callers pass a func that copies
// the fields it needs out of spd.MetricsSnapshot rather than the metrics
// value itself, so this package never imports spd.
type Snapshotter func() Snapshot

// Collector adapts a Snapshotter to prometheus.Collector, labeling every
// series with the unit's name so one registry can hold metrics for
// several provisioned units.
type Collector struct {
	unit string
	snap Snapshotter

	opsDesc     *prometheus.Desc
	errorsDesc  *prometheus.Desc
	bytesDesc   *prometheus.Desc
	queueDesc   *prometheus.Desc
	latencyDesc *prometheus.Desc
	uptimeDesc  *prometheus.Desc
}

// NewCollector builds a Collector reporting unit's metrics via snap
// whenever Prometheus scrapes.
func NewCollector(unit string, snap Snapshotter) *Collector {
	constLabels := prometheus.Labels{"unit": unit}
	return &Collector{
		unit: unit,
		snap: snap,
		opsDesc: prometheus.NewDesc(
			"spd_unit_ops_total", "Total operations processed by kind.",
			[]string{"kind"}, constLabels),
		errorsDesc: prometheus.NewDesc(
			"spd_unit_errors_total", "Total operation errors by kind.",
			[]string{"kind"}, constLabels),
		bytesDesc: prometheus.NewDesc(
			"spd_unit_bytes_total", "Total bytes transferred by direction.",
			[]string{"direction"}, constLabels),
		queueDesc: prometheus.NewDesc(
			"spd_unit_queue_depth", "Queue depth statistic.",
			[]string{"stat"}, constLabels),
		latencyDesc: prometheus.NewDesc(
			"spd_unit_latency_seconds", "Operation latency statistic.",
			[]string{"stat"}, constLabels),
		uptimeDesc: prometheus.NewDesc(
			"spd_unit_uptime_seconds", "Seconds since the unit started serving.",
			nil, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.opsDesc
	ch <- c.errorsDesc
	ch <- c.bytesDesc
	ch <- c.queueDesc
	ch <- c.latencyDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.snap()

	ch <- prometheus.MustNewConstMetric(c.opsDesc, prometheus.CounterValue, float64(s.ReadOps), "read")
	ch <- prometheus.MustNewConstMetric(c.opsDesc, prometheus.CounterValue, float64(s.WriteOps), "write")
	ch <- prometheus.MustNewConstMetric(c.opsDesc, prometheus.CounterValue, float64(s.UnmapOps), "unmap")
	ch <- prometheus.MustNewConstMetric(c.opsDesc, prometheus.CounterValue, float64(s.FlushOps), "flush")

	ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(s.ReadErrors), "read")
	ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(s.WriteErrors), "write")
	ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(s.UnmapErrors), "unmap")
	ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(s.FlushErrors), "flush")

	ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(s.ReadBytes), "read")
	ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(s.WriteBytes), "write")

	ch <- prometheus.MustNewConstMetric(c.queueDesc, prometheus.GaugeValue, float64(s.MaxQueueDepth), "max")
	ch <- prometheus.MustNewConstMetric(c.queueDesc, prometheus.GaugeValue, s.AvgQueueDepth, "avg")

	const nsToSeconds = 1e-9
	ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, float64(s.AvgLatencyNs)*nsToSeconds, "avg")
	ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, float64(s.LatencyP50Ns)*nsToSeconds, "p50")
	ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, float64(s.LatencyP99Ns)*nsToSeconds, "p99")
	ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, float64(s.LatencyP999Ns)*nsToSeconds, "p999")

	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, float64(s.UptimeNs)*nsToSeconds)
}

var _ prometheus.Collector = (*Collector)(nil)
