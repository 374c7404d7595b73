package syncer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// repoOutcomeCount is a Counter vector of per-repository sync outcomes
	repoOutcomeCount *prometheus.CounterVec
	// lastRunTimestamp is a Gauge that captures the timestamp of the last
	// completed sync run
	lastRunTimestamp prometheus.Gauge
	// runDuration is a Histogram of full sync run durations
	runDuration prometheus.Histogram
)

// EnableMetrics will enable metrics collection for sync runs.
// Available metrics are...
//   - sync_repo_outcome_total - (tags: outcome)
//     A Counter for each repository processed, tagged with the outcome
//     (synced|skipped|failed)
//   - sync_last_run_timestamp
//     A Gauge that captures the Timestamp of the last completed run
//   - sync_run_duration_seconds
//     A Histogram that keeps track of full run durations
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	repoOutcomeCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "sync_repo_outcome_total",
		Help:      "Count of processed repositories by outcome",
	},
		[]string{
			// synced, skipped or failed
			"outcome",
		},
	)

	lastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "sync_last_run_timestamp",
		Help:      "Timestamp of the last completed sync run",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "sync_run_duration_seconds",
		Help:      "Duration of full sync runs",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
	})

	registerer.MustRegister(
		repoOutcomeCount,
		lastRunTimestamp,
		runDuration,
	)
}

func recordRepoOutcome(o Outcome) {
	// if metrics not enabled return
	if repoOutcomeCount == nil {
		return
	}
	repoOutcomeCount.WithLabelValues(o.String()).Inc()
}

func recordRunComplete(start time.Time) {
	// if metrics not enabled return
	if lastRunTimestamp == nil || runDuration == nil {
		return
	}
	lastRunTimestamp.Set(float64(time.Now().Unix()))
	runDuration.Observe(time.Since(start).Seconds())
}
