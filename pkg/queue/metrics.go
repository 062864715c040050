package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predo_queue_jobs_enqueued_total",
		Help: "Jobs added to a queue.",
	}, []string{"queue", "job"})

	jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predo_queue_jobs_completed_total",
		Help: "Jobs that finished successfully.",
	}, []string{"queue", "job"})

	jobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predo_queue_jobs_retried_total",
		Help: "Job attempts that failed and were rescheduled.",
	}, []string{"queue", "job"})

	jobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predo_queue_jobs_failed_total",
		Help: "Jobs that exhausted all attempts.",
	}, []string{"queue", "job"})
)
