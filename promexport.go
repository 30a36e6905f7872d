package spd

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/spd-project/go-spd/internal/metrics/promexport"
)

// PrometheusCollector returns a prometheus.Collector reporting this unit's
// metrics, labeled with name (typically the unit's product ID or GUID
// string). Register it on whatever registry the host process uses:
//
//	prometheus.MustRegister(unit.PrometheusCollector("data0"))
func (u *Unit) PrometheusCollector(name string) prometheus.Collector {
	return promexport.NewCollector(name, func() promexport.Snapshot {
		s := u.MetricsSnapshot()
		return promexport.Snapshot{
			ReadOps:       s.ReadOps,
			WriteOps:      s.WriteOps,
			UnmapOps:      s.UnmapOps,
			FlushOps:      s.FlushOps,
			ReadErrors:    s.ReadErrors,
			WriteErrors:   s.WriteErrors,
			UnmapErrors:   s.UnmapErrors,
			FlushErrors:   s.FlushErrors,
			ReadBytes:     s.ReadBytes,
			WriteBytes:    s.WriteBytes,
			MaxQueueDepth: s.MaxQueueDepth,
			AvgQueueDepth: s.AvgQueueDepth,
			AvgLatencyNs:  s.AvgLatencyNs,
			LatencyP50Ns:  s.LatencyP50Ns,
			LatencyP99Ns:  s.LatencyP99Ns,
			LatencyP999Ns: s.LatencyP999Ns,
			UptimeNs:      s.UptimeNs,
		}
	})
}
