package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// CronJobMetrics tracks scheduled job runs and the users they fail on.
type CronJobMetrics struct {
	duration     *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	userFailures *prometheus.CounterVec
}

// NewCronJobMetrics registers the cron collectors. A nil registerer yields a no-op recorder.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cron_job_duration_seconds",
			Help:    "Wall time of one scheduled job run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_job_runs_total",
			Help: "Scheduled job runs by outcome.",
		}, []string{"job", "result"}),
		userFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_job_user_failures_total",
			Help: "Users a fan-out job failed to process.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.duration, m.runs, m.userFailures)
	return m
}

// ObserveRun records one finished run; err decides the result label.
func (c *CronJobMetrics) ObserveRun(job string, took time.Duration, err error) {
	if c == nil || c.runs == nil {
		return
	}
	job = jobLabel(job)
	c.duration.WithLabelValues(job).Observe(took.Seconds())
	result := resultSuccess
	if err != nil {
		result = resultFailure
	}
	c.runs.WithLabelValues(job, result).Inc()
}

func (c *CronJobMetrics) IncUserFailure(job string) {
	if c == nil || c.userFailures == nil {
		return
	}
	c.userFailures.WithLabelValues(jobLabel(job)).Inc()
}

func jobLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
