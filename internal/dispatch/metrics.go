package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyturner_dispatch_jobs_submitted_total",
			Help: "Total number of jobs accepted by the dispatcher.",
		},
		[]string{"kind"},
	)

	jobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyturner_dispatch_jobs_completed_total",
			Help: "Total number of jobs executed by the dispatcher, by outcome.",
		},
		[]string{"kind", "outcome"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keyturner_dispatch_job_duration_seconds",
			Help:    "Time spent executing a job on the dispatcher worker.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	jobWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keyturner_dispatch_job_wait_seconds",
			Help:    "Time a job spent queued before execution started.",
			Buckets: prometheus.DefBuckets,
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keyturner_dispatch_queue_depth",
			Help: "Number of jobs waiting in dispatcher queues.",
		},
	)

	fatalTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keyturner_dispatch_fatal_total",
			Help: "Total number of fatal dispatcher failures.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsSubmitted, jobsCompleted, jobDuration, jobWait, queueDepth, fatalTotal)
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
