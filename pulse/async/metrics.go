package async

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for jobs_processed_total.
const (
	OutcomeCompleted   = "completed"
	OutcomeRetried     = "retried"
	OutcomeFailed      = "failed"
	OutcomeUnknownType = "unknown_type"
)

// Metrics holds the queue's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	JobsDispatched *prometheus.CounterVec
	JobsProcessed  *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	JobsReset      prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulseq",
			Name:      "jobs_dispatched_total",
			Help:      "The total number of dispatched jobs",
		}, []string{"queue", "job_type"}),

		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulseq",
			Name:      "jobs_processed_total",
			Help:      "The total number of processed job attempts",
		}, []string{"queue", "job_type", "outcome"}), // outcome: completed, retried, failed, unknown_type

		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pulseq",
			Name:      "job_duration_seconds",
			Help:      "Duration of handler execution.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"queue", "job_type"}),

		JobsReset: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pulseq",
			Name:      "jobs_reset_total",
			Help:      "The total number of failed jobs reset for retry",
		}),
	}
}

func (m *Metrics) dispatched(job *Job) {
	if m == nil {
		return
	}
	m.JobsDispatched.WithLabelValues(job.Queue, job.JobType).Inc()
}

func (m *Metrics) processed(job *Job, outcome string) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(job.Queue, job.JobType, outcome).Inc()
}

func (m *Metrics) observe(job *Job, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobDuration.WithLabelValues(job.Queue, job.JobType).Observe(elapsed.Seconds())
}

func (m *Metrics) reset(n int) {
	if m == nil || n == 0 {
		return
	}
	m.JobsReset.Add(float64(n))
}
