package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mindbot_job_runs_total",
		Help: "Total job runs",
	}, []string{"job"})
	JobErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mindbot_job_errors_total",
		Help: "Total job failures",
	}, []string{"job"})
	JobSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mindbot_job_skipped_total",
		Help: "Job ticks skipped because a previous run was still in flight",
	}, []string{"job"})
	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mindbot_job_duration_seconds",
		Help:    "Job run duration seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	RepliesPosted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mindbot_replies_posted_total",
		Help: "Total replies posted",
	})
	TweetsPosted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mindbot_tweets_posted_total",
		Help: "Total fresh tweets posted",
	})
	CandidatesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mindbot_candidates_rejected_total",
		Help: "Candidates rejected per filter stage",
	}, []string{"stage"})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mindbot_api_retries_total",
		Help: "Total API retry attempts",
	}, []string{"endpoint"})
)

func init() {
	prometheus.MustRegister(JobRuns, JobErrors, JobSkipped, JobDuration,
		RepliesPosted, TweetsPosted, CandidatesRejected, APIRetries)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, nil) }()
}

// ObserveJobDuration records a run duration for a job.
func ObserveJobDuration(job string, start time.Time) {
	JobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
}

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

// IncRejected counts one candidate rejected at a filter stage.
func IncRejected(stage string) { CandidatesRejected.WithLabelValues(stage).Inc() }
