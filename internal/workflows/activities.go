package workflows

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/mining"
)

// RunMiningCycleInput names the user to mine.
type RunMiningCycleInput struct {
	UserID string
}

// Activities holds the dependencies of the mining activities.
type Activities struct {
	runner mining.CycleRunner
	logger *logging.Logger
}

// NewActivities creates the activity set backed by runner.
func NewActivities(runner mining.CycleRunner, logger *logging.Logger) (*Activities, error) {
	if runner == nil {
		return nil, errors.New("cycle runner cannot be nil")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Activities{runner: runner, logger: logger}, nil
}

// RunMiningCycle runs one user's mining cycle. Every cycle of a backfill
// shares the workflow ID as its run ID.
func (a *Activities) RunMiningCycle(ctx context.Context, input RunMiningCycleInput) (UserResult, error) {
	ctx = logging.WithRunID(logging.WithUserID(ctx, input.UserID), activity.GetInfo(ctx).WorkflowExecution.ID)
	m := getMetrics()
	start := time.Now()
	summary, err := a.runner.RunCycle(ctx, input.UserID)
	m.cycleDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		m.cycleFailures.Add(ctx, 1, metric.WithAttributes(attribute.Bool("unknown_user", errors.Is(err, mining.ErrUnknownUser))))
		a.logger.Error(ctx, "backfill cycle failed", zap.Error(err))
		return UserResult{}, classifyCycleError(input.UserID, err)
	}
	m.patternsFound.Add(ctx, int64(summary.NewPatterns))
	return UserResult{
		UserID:          summary.UserID,
		EventsAnalyzed:  summary.EventsAnalyzed,
		NewPatterns:     summary.NewPatterns,
		UpdatedPatterns: summary.UpdatedPatterns,
		Archived:        summary.ArchivedPatterns,
		Skipped:         summary.Skipped,
		DurationSeconds: summary.DurationSeconds,
	}, nil
}
