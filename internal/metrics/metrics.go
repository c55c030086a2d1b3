// Package metrics exposes Prometheus collectors for the target matrix generator.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Fetch outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	fetchesTotal          *prometheus.CounterVec
	fetchDurationSeconds  *prometheus.HistogramVec
	fetchBytesTotal       *prometheus.CounterVec
	versionsTotal         *prometheus.CounterVec
	jobsTotal             *prometheus.CounterVec
	kernelMisses          *prometheus.CounterVec
	lastRunTimestampGauge prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "target_matrix_fetches_total",
				Help: "Total number of index pages fetched, labeled by discovery phase and outcome.",
			},
			[]string{"phase", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "target_matrix_fetch_duration_seconds",
				Help:    "Histogram of index page fetch latencies, labeled by discovery phase.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"phase"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "target_matrix_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by discovery phase.",
			},
			[]string{"phase"},
		)

		versionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "target_matrix_versions_total",
				Help: "Total number of versions processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "target_matrix_jobs_total",
				Help: "Total number of job records emitted, labeled by tag.",
			},
			[]string{"tag"},
		)

		kernelMisses = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "target_matrix_kernel_misses_total",
				Help: "Subtargets whose package listing had no matching kernel package, labeled by tag.",
			},
			[]string{"tag"},
		)

		lastRunTimestampGauge = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "target_matrix_last_run_timestamp_seconds",
				Help: "Unix time of the last completed generator run.",
			},
		)
	})
}

// ObserveFetch records one page fetch of the given phase.
func ObserveFetch(phase, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	fetchesTotal.WithLabelValues(phase, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(phase).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(phase).Add(float64(bytesFetched))
	}
}

// ObserveVersion increments the version counter for the given outcome.
func ObserveVersion(outcome string) {
	Init()
	versionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveJobs adds n emitted job records for tag.
func ObserveJobs(tag string, n int) {
	Init()
	jobsTotal.WithLabelValues(tag).Add(float64(n))
}

// ObserveKernelMiss counts a subtarget without kernel metadata.
func ObserveKernelMiss(tag string) {
	Init()
	kernelMisses.WithLabelValues(tag).Inc()
}

// MarkRun stamps the completion time of a run.
func MarkRun(at time.Time) {
	Init()
	lastRunTimestampGauge.Set(float64(at.Unix()))
}

// Push sends the default registry to a Prometheus Pushgateway. CI runs are too
// short-lived to be scraped.
func Push(ctx context.Context, gatewayURL, job string, grouping map[string]string) error {
	Init()
	pusher := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
