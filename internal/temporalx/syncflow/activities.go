package syncflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/openfondos/grantmirror/internal/clients/redis"
	"github.com/openfondos/grantmirror/internal/observability"
	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/repos"
	"github.com/openfondos/grantmirror/internal/sync"
)

// Activities holds everything the sync workflows touch. The workflows
// themselves stay deterministic; all I/O lives here.
type Activities struct {
	Log       *logger.Logger
	Runs      repos.SyncRunRepo
	Refs      *sync.RefCache
	Launcher  *sync.Launcher
	Processor *sync.Processor
	Docs      *sync.DocStore
	Lock      redisclient.RunLock
	Metrics   *observability.Metrics
}

// reloadRefs refreshes the lookup catalogs. Workers are long-lived; catalog
// maintenance done between runs has to become visible without a restart.
func (a *Activities) reloadRefs(ctx context.Context) error {
	if a.Refs == nil {
		return nil
	}
	return a.Refs.Load(ctx)
}

func (a *Activities) MarkRunning(ctx context.Context, in RunInput) error {
	if a == nil || a.Runs == nil {
		return fmt.Errorf("syncflow: activity not configured")
	}
	runID, err := parseRunID(in.RunID)
	if err != nil {
		return err
	}
	return a.Runs.MarkRunning(ctx, nil, runID, time.Now().UTC())
}

// LaunchRun walks the remote catalog, pre-filters candidates and fans the
// work out as batch workflows. When the launch itself closes the run (zero
// batches, or every batch finished before the totals landed) the lock is
// released here.
func (a *Activities) LaunchRun(ctx context.Context, in RunInput) (*LaunchOutput, error) {
	if a == nil || a.Runs == nil || a.Launcher == nil {
		return nil, fmt.Errorf("syncflow: activity not configured")
	}
	runID, err := parseRunID(in.RunID)
	if err != nil {
		return nil, err
	}

	if err := a.reloadRefs(ctx); err != nil {
		return nil, fmt.Errorf("load reference catalogs: %w", err)
	}

	res, err := a.Launcher.Run(ctx, runID, in.FromDate)
	if err != nil {
		return nil, err
	}
	// Items the pre-filter dropped count as skipped in the run summary.
	completed, err := a.Runs.MarkLaunched(ctx, nil, runID, res.Pages, res.Candidates, res.Seen-res.Candidates, res.Batches)
	if err != nil {
		return nil, fmt.Errorf("mark launched: %w", err)
	}

	if completed {
		a.Metrics.RecordRunFinished("succeeded")
		a.releaseLock(ctx, in.RunID)
	}

	return &LaunchOutput{
		Pages:      res.Pages,
		Seen:       res.Seen,
		Candidates: res.Candidates,
		Batches:    res.Batches,
	}, nil
}

func (a *Activities) ProcessBatch(ctx context.Context, spec sync.BatchSpec) (*sync.BatchResult, error) {
	if a == nil || a.Processor == nil {
		return nil, fmt.Errorf("syncflow: activity not configured")
	}
	if err := a.reloadRefs(ctx); err != nil {
		return nil, fmt.Errorf("load reference catalogs: %w", err)
	}
	res, err := a.Processor.Process(ctx, spec)
	if err != nil {
		return nil, err
	}
	if res.RunCompleted {
		a.releaseLock(ctx, spec.RunID.String())
	}
	return res, nil
}

// RecordBatchFailure folds a permanently failed batch into the run counters
// so the run can still reach a terminal state. Every item in the batch is
// accounted as errored.
func (a *Activities) RecordBatchFailure(ctx context.Context, spec sync.BatchSpec) error {
	if a == nil || a.Runs == nil {
		return fmt.Errorf("syncflow: activity not configured")
	}
	completed, err := a.Runs.AddBatchResult(ctx, nil, spec.RunID, 0, 0, len(spec.Items))
	if err != nil {
		return err
	}
	if a.Log != nil {
		a.Log.Warn("Batch permanently failed",
			"run_id", spec.RunID.String(),
			"batch", spec.Index,
			"items", len(spec.Items),
			"run_completed", completed)
	}
	if completed {
		a.Metrics.RecordRunFinished("succeeded")
		a.releaseLock(ctx, spec.RunID.String())
	}
	return nil
}

func (a *Activities) StoreDocument(ctx context.Context, job sync.DocumentJob) error {
	if a == nil || a.Docs == nil {
		return fmt.Errorf("syncflow: activity not configured")
	}
	_, err := a.Docs.Store(ctx, job)
	return err
}

func (a *Activities) MarkRunFailed(ctx context.Context, in FailInput) error {
	if a == nil || a.Runs == nil {
		return fmt.Errorf("syncflow: activity not configured")
	}
	runID, err := parseRunID(in.RunID)
	if err != nil {
		return err
	}
	if err := a.Runs.MarkFailed(ctx, nil, runID, in.Error); err != nil {
		return err
	}
	a.Metrics.RecordRunFinished("failed")
	a.releaseLock(ctx, in.RunID)
	return nil
}

func (a *Activities) releaseLock(ctx context.Context, runID string) {
	if a.Lock == nil {
		return
	}
	if err := a.Lock.Release(ctx, runID); err != nil && a.Log != nil {
		a.Log.Warn("Run lock release failed", "run_id", runID, "error", err)
	}
}

func parseRunID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("syncflow: invalid run_id %q", raw)
	}
	return id, nil
}
