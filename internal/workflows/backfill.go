// Package workflows provides Temporal workflow definitions for patternd.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// DefaultTaskQueue is the task queue the backfill worker listens on.
const DefaultTaskQueue = "patternd-mining"

// Defaults for BackfillInput.
const (
	DefaultActivityTimeout = 5 * time.Minute
	DefaultMaxAttempts     = 3
)

// BackfillInput configures a backfill run.
type BackfillInput struct {
	UserIDs         []string      // Users to mine, in order
	ActivityTimeout time.Duration // Per-user StartToClose timeout (default 5m)
	MaxAttempts     int32         // Attempts per user (default 3)
}

// UserResult is the outcome of one user's cycle.
type UserResult struct {
	UserID          string  `json:"user"`
	EventsAnalyzed  int     `json:"events_analyzed"`
	NewPatterns     int     `json:"new_patterns"`
	UpdatedPatterns int     `json:"updated_patterns"`
	Archived        int     `json:"archived_patterns"`
	Skipped         bool    `json:"skipped"`
	DurationSeconds float64 `json:"duration_seconds"`
	Error           string  `json:"error,omitempty"`
}

// BackfillResult contains one entry per requested user.
type BackfillResult struct {
	Users     []UserResult `json:"users"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// BackfillWorkflow runs a mining cycle for every user in the input.
//
// Cycles run concurrently as separate activities. A user whose activity
// fails after its retries is recorded with the error; the other users are
// unaffected and the workflow itself still succeeds.
func BackfillWorkflow(ctx workflow.Context, input BackfillInput) (*BackfillResult, error) {
	logger := workflow.GetLogger(ctx)
	if len(input.UserIDs) == 0 {
		return nil, temporal.NewNonRetryableApplicationError(ErrNoUsers.Error(), "InvalidInput", ErrNoUsers)
	}

	timeout := input.ActivityTimeout
	if timeout <= 0 {
		timeout = DefaultActivityTimeout
	}
	attempts := input.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	logger.Info("Starting backfill", "users", len(input.UserIDs))

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			MaximumAttempts:        attempts,
			NonRetryableErrorTypes: []string{unknownUserErrorType},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	futures := make([]workflow.Future, len(input.UserIDs))
	for i, userID := range input.UserIDs {
		futures[i] = workflow.ExecuteActivity(ctx, a.RunMiningCycle, RunMiningCycleInput{UserID: userID})
	}

	result := &BackfillResult{Users: make([]UserResult, 0, len(input.UserIDs))}
	for i, f := range futures {
		var ur UserResult
		if err := f.Get(ctx, &ur); err != nil {
			ur = UserResult{UserID: input.UserIDs[i], Error: userFailure(err)}
			result.Failed++
			logger.Warn("Backfill user failed", "user", input.UserIDs[i], "error", err)
		} else {
			result.Succeeded++
		}
		result.Users = append(result.Users, ur)
	}

	logger.Info("Backfill complete",
		"succeeded", result.Succeeded,
		"failed", result.Failed)
	return result, nil
}
