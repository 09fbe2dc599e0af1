// Package metrics exposes the slave loop's counters and gauges via
// github.com/prometheus/client_golang, the same library the rest of the
// pack reaches for (tombee-conductor's internal/action/file/metrics.go
// is the closest shape: a handful of package-scoped collectors plus one
// record function). Collectors are bound to a private registry instead
// of the global default one so a test can construct as many Metrics
// values as it likes without a duplicate-registration panic.
package metrics

import (
	"strconv"
	"time"

	"github.com/distcomp/peerslave/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the slave loop and presence tasks feed.
type Metrics struct {
	Registry *prometheus.Registry

	jobsTotal       prometheus.Counter
	jobsFailedTotal *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	hostStatus      prometheus.Gauge
	peersKnown      prometheus.Gauge
}

// New creates a Metrics value with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerslave_jobs_total",
			Help: "Total number of jobs processed to a terminal state.",
		}),
		jobsFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peerslave_jobs_failed_total",
			Help: "Total number of jobs that failed, by the 1..5 failure step (or -1 for an engine-start failure).",
		}, []string{"step"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "peerslave_job_duration_seconds",
			Help:    "Wall-clock duration of one job from pop to result-send attempt.",
			Buckets: prometheus.DefBuckets,
		}),
		hostStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peerslave_host_status",
			Help: "Current host status: 0=IDLE, 1=BUSY, 2=ZOMBIE.",
		}),
		peersKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peerslave_peers_known",
			Help: "Number of peers currently in the peer table.",
		}),
	}
	m.Registry.MustRegister(m.jobsTotal, m.jobsFailedTotal, m.jobDuration, m.hostStatus, m.peersKnown)
	return m
}

// RecordJob updates the job counters after one terminal outcome.
func (m *Metrics) RecordJob(succeeded bool, failedStep int, duration time.Duration) {
	m.jobsTotal.Inc()
	if !succeeded {
		m.jobsFailedTotal.WithLabelValues(strconv.Itoa(failedStep)).Inc()
	}
	m.jobDuration.Observe(duration.Seconds())
}

// SetHostStatus publishes the current host status.
func (m *Metrics) SetHostStatus(status registry.Status) {
	m.hostStatus.Set(float64(status))
}

// SetPeersKnown publishes the current peer table size.
func (m *Metrics) SetPeersKnown(n int) {
	m.peersKnown.Set(float64(n))
}
