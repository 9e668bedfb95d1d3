package syncflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/openfondos/grantmirror/internal/sync"
)

// RunWorkflow drives one sync run: mark it running, then launch the page
// walk that partitions candidates into batch workflows. Batch workflows are
// started by the launch activity itself; this workflow only owns the run's
// failure path.
func RunWorkflow(ctx workflow.Context, in RunInput) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})

	if err := workflow.ExecuteActivity(ctx, ActivityMarkRunning, in).Get(ctx, nil); err != nil {
		return failRun(ctx, in.RunID, err)
	}

	var launched LaunchOutput
	if err := workflow.ExecuteActivity(ctx, ActivityLaunchRun, in).Get(ctx, &launched); err != nil {
		return failRun(ctx, in.RunID, err)
	}

	workflow.GetLogger(ctx).Info("Sync run launched",
		"run_id", in.RunID,
		"pages", launched.Pages,
		"seen", launched.Seen,
		"candidates", launched.Candidates,
		"batches", launched.Batches)
	return nil
}

func failRun(ctx workflow.Context, runID string, cause error) error {
	// The run row must reach a terminal state even when the cause was a
	// cancellation, so use a disconnected context for the bookkeeping.
	cleanupCtx, cancel := workflow.NewDisconnectedContext(ctx)
	defer cancel()
	cleanupCtx = workflow.WithActivityOptions(cleanupCtx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})
	in := FailInput{RunID: runID, Error: cause.Error()}
	if err := workflow.ExecuteActivity(cleanupCtx, ActivityMarkRunFailed, in).Get(cleanupCtx, nil); err != nil {
		workflow.GetLogger(ctx).Error("Failed to mark run failed", "run_id", runID, "error", err)
	}
	return fmt.Errorf("sync run failed: %w", cause)
}

// BatchWorkflow processes one partition of candidate items. The processing
// activity is retried as a whole; items already committed in a previous
// attempt hash-match and are skipped on replay.
func BatchWorkflow(ctx workflow.Context, spec sync.BatchSpec) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    2 * time.Minute,
			MaximumAttempts:    4,
		},
	})

	var res sync.BatchResult
	err := workflow.ExecuteActivity(ctx, ActivityProcessBatch, spec).Get(ctx, &res)
	if err == nil {
		return nil
	}

	// Terminal batch failure still counts toward run completion.
	cleanupCtx, cancel := workflow.NewDisconnectedContext(ctx)
	defer cancel()
	cleanupCtx = workflow.WithActivityOptions(cleanupCtx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})
	if recErr := workflow.ExecuteActivity(cleanupCtx, ActivityRecordBatchFailure, spec).Get(cleanupCtx, nil); recErr != nil {
		workflow.GetLogger(ctx).Error("Failed to record batch failure",
			"run_id", spec.RunID.String(), "batch", spec.Index, "error", recErr)
	}
	return fmt.Errorf("batch %d/%d failed: %w", spec.Index+1, spec.Total, err)
}

// DocumentWorkflow fetches one attachment and stores it. Best effort: after
// retries are exhausted the failure is logged and swallowed so a missing
// binary never poisons anything else.
func DocumentWorkflow(ctx workflow.Context, job sync.DocumentJob) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	})

	if err := workflow.ExecuteActivity(ctx, ActivityStoreDocument, job).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("Document storage gave up",
			"grant_call_id", job.GrantCallID.String(),
			"document_id", job.DocumentID.String(),
			"error", err)
	}
	return nil
}
