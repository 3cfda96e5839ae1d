package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics wraps the job counters/histogram exposed by the scheduler,
// grounded on the teacher's PipelineMetrics/StageMetrics bookkeeping
// (engine/_teacher_internal/pipeline/pipeline.go), generalized from an
// in-process struct to prometheus collectors per DESIGN.md C8.
type Metrics struct {
	started  prometheus.Counter
	succeeded prometheus.Counter
	failed   prometheus.Counter
	duration prometheus.Histogram
}

// NewMetrics builds a Metrics recorder whose collectors are not yet
// registered to any registry; pass it to WithMetrics and then Register it
// on the registry the engine facade exposes (DESIGN.md, Ambient stack).
func NewMetrics() *Metrics { return newMetrics() }

func newMetrics() *Metrics {
	return &Metrics{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptengine_scheduler_jobs_started_total",
			Help: "Jobs submitted to the script-job scheduler.",
		}),
		succeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptengine_scheduler_jobs_succeeded_total",
			Help: "Jobs that emitted a completion event.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptengine_scheduler_jobs_failed_total",
			Help: "Jobs that emitted error_parsing.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ptengine_scheduler_job_duration_seconds",
			Help:    "Wall-clock duration of one script job, including the quiescence wait.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Register adds every collector to reg, for callers that want the
// scheduler's metrics on their own prometheus.Registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.started, m.succeeded, m.failed, m.duration} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observeJobStarted()             { m.started.Inc() }
func (m *Metrics) observeJobSucceeded()           { m.succeeded.Inc() }
func (m *Metrics) observeJobFailed()              { m.failed.Inc() }
func (m *Metrics) observeJobDuration(d time.Duration) { m.duration.Observe(d.Seconds()) }
