package mining

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cycle outcomes recorded on patternd_mining_cycles_total.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeFailure = "failure"
)

type miningMetrics struct {
	// cycles counts per-user cycles.
	// Labels: outcome (success, skipped, failure)
	cycles *prometheus.CounterVec

	cycleDuration prometheus.Histogram

	// discovered counts newly created patterns.
	// Labels: pattern_type
	discovered *prometheus.CounterVec

	archived        prometheus.Counter
	persistFailures prometheus.Counter

	// enumerationFailures counts scheduler ticks that could not list users.
	enumerationFailures prometheus.Counter
}

var (
	metricsOnce sync.Once
	metrics     *miningMetrics
)

// getMetrics registers the collectors with the default registry on first
// use.
func getMetrics() *miningMetrics {
	metricsOnce.Do(func() {
		metrics = &miningMetrics{
			cycles: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "patternd",
					Subsystem: "mining",
					Name:      "cycles_total",
					Help:      "Total number of per-user mining cycles by outcome",
				},
				[]string{"outcome"},
			),
			cycleDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "patternd",
					Subsystem: "mining",
					Name:      "cycle_duration_seconds",
					Help:      "Duration of per-user mining cycles in seconds",
					Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
				},
			),
			discovered: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "patternd",
					Name:      "patterns_discovered_total",
					Help:      "Total number of patterns created by mining",
				},
				[]string{"pattern_type"},
			),
			archived: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "patternd",
					Name:      "patterns_archived_total",
					Help:      "Total number of patterns archived during re-evaluation",
				},
			),
			persistFailures: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "patternd",
					Name:      "candidate_persist_failures_total",
					Help:      "Total number of candidates that could not be persisted",
				},
			),
			enumerationFailures: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "patternd",
					Subsystem: "scheduler",
					Name:      "user_enumeration_failures_total",
					Help:      "Total number of scheduler ticks that failed to list active users",
				},
			),
		}
	})
	return metrics
}
