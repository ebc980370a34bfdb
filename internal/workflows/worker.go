package workflows

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// NewWorker creates a worker on taskQueue with the backfill workflow and
// the mining activities registered.
func NewWorker(c client.Client, taskQueue string, activities *Activities) worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(BackfillWorkflow)
	w.RegisterActivity(activities)
	return w
}

// StartBackfill starts a BackfillWorkflow execution and returns its run.
func StartBackfill(ctx context.Context, c client.Client, taskQueue, workflowID string, input BackfillInput) (client.WorkflowRun, error) {
	if len(input.UserIDs) == 0 {
		return nil, ErrNoUsers
	}
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: taskQueue,
	}, BackfillWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("start backfill workflow: %w", err)
	}
	getMetrics().backfills.Add(ctx, 1, metric.WithAttributes(attribute.Int("users", len(input.UserIDs))))
	return run, nil
}
