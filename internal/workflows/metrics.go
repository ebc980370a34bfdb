package workflows

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/patternd/internal/workflows"

type backfillMetrics struct {
	backfills     metric.Int64Counter
	cycleDuration metric.Float64Histogram
	cycleFailures metric.Int64Counter
	patternsFound metric.Int64Counter
}

var (
	metricsOnce sync.Once
	metrics     *backfillMetrics
)

// getMetrics builds the instruments on first use so they bind to whatever
// meter provider is global by then.
func getMetrics() *backfillMetrics {
	metricsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)
		m := &backfillMetrics{}
		var errs []error
		var err error

		m.backfills, err = meter.Int64Counter("patternd.backfill.started",
			metric.WithDescription("Backfill workflows started"),
			metric.WithUnit("{execution}"))
		errs = append(errs, err)

		m.cycleDuration, err = meter.Float64Histogram("patternd.backfill.cycle.duration",
			metric.WithDescription("Duration of backfill mining cycles"),
			metric.WithUnit("s"))
		errs = append(errs, err)

		m.cycleFailures, err = meter.Int64Counter("patternd.backfill.cycle.failures",
			metric.WithDescription("Backfill mining cycles that returned an error"),
			metric.WithUnit("{cycle}"))
		errs = append(errs, err)

		m.patternsFound, err = meter.Int64Counter("patternd.backfill.patterns.discovered",
			metric.WithDescription("Patterns created by backfill cycles"),
			metric.WithUnit("{pattern}"))
		errs = append(errs, err)

		for _, err := range errs {
			if err != nil {
				zap.L().Warn("failed to create backfill instrument", zap.Error(err))
			}
		}
		metrics = m
	})
	return metrics
}
