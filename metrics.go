package parsimon

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics are the prometheus collectors updated by a Coordinator.
// A nil *DispatchMetrics records nothing.
type DispatchMetrics struct {
	Jobs     *prometheus.CounterVec // by outcome: completed, failed, timeout
	Retries  prometheus.Counter
	InFlight prometheus.Gauge
	Duration prometheus.Histogram
}

// NewDispatchMetrics creates the collectors and registers them with reg, if reg is not nil
func NewDispatchMetrics(reg prometheus.Registerer) (*DispatchMetrics, error) {
	dm := &DispatchMetrics{
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parsimon",
			Subsystem: "dispatch",
			Name:      "jobs_total",
			Help:      "Link simulation job attempts, by outcome.",
		}, []string{"outcome"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parsimon",
			Subsystem: "dispatch",
			Name:      "retries_total",
			Help:      "Link simulation jobs put back in the queue after a failed attempt.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parsimon",
			Subsystem: "dispatch",
			Name:      "jobs_in_flight",
			Help:      "Link simulation jobs currently held by a worker.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parsimon",
			Subsystem: "dispatch",
			Name:      "job_duration_seconds",
			Help:      "Wall time of link simulation job attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
	if reg == nil {
		return dm, nil
	}
	for _, c := range []prometheus.Collector{dm.Jobs, dm.Retries, dm.InFlight, dm.Duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return dm, nil
}

func (dm *DispatchMetrics) jobStarted() {
	if dm == nil {
		return
	}
	dm.InFlight.Inc()
}

func (dm *DispatchMetrics) jobEnded(outcome string, secs float64) {
	if dm == nil {
		return
	}
	dm.InFlight.Dec()
	dm.Jobs.WithLabelValues(outcome).Inc()
	dm.Duration.Observe(secs)
}

func (dm *DispatchMetrics) retried() {
	if dm == nil {
		return
	}
	dm.Retries.Inc()
}
