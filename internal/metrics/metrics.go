package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bookingsync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	syncJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_jobs_total",
			Help:      "Processed sync jobs by direction and result.",
		},
		[]string{"direction", "result"},
	)

	syncJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_job_duration_seconds",
			Help:      "Time spent processing a single sync job.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"direction"},
	)

	fullSyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "full_sync_runs_total",
			Help:      "Full sync runs per provider and result.",
		},
		[]string{"provider", "result"},
	)

	providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Outgoing provider API calls by status code.",
		},
		[]string{"provider", "code"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, syncJobs, syncJobDuration, fullSyncRuns, providerRequests)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveJob records one processed job. result is success, retry, deferred, dead_letter or noop.
func ObserveJob(direction, result string, took time.Duration) {
	syncJobs.WithLabelValues(direction, result).Inc()
	syncJobDuration.WithLabelValues(direction).Observe(took.Seconds())
}

// IncFullSync counts a full sync run for one integration.
func IncFullSync(provider string, ok bool) {
	result := "success"
	if !ok {
		result = "failed"
	}
	fullSyncRuns.WithLabelValues(provider, result).Inc()
}

// IncProviderRequest counts a provider call. code 0 means the request never got a response.
func IncProviderRequest(provider string, code int) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	providerRequests.WithLabelValues(provider, label).Inc()
}
