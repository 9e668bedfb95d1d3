package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/temporalx"
	"github.com/openfondos/grantmirror/internal/temporalx/syncflow"
	"github.com/openfondos/grantmirror/internal/utils"
)

type Runner struct {
	log  *logger.Logger
	tc   temporalsdkclient.Client
	acts *syncflow.Activities
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, acts *syncflow.Activities) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if acts == nil {
		return nil, fmt.Errorf("temporal worker missing activities")
	}
	return &Runner{log: log, tc: tc, acts: acts}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.tc == nil {
		return fmt.Errorf("temporal worker not initialized")
	}

	cfg := temporalx.LoadConfig()
	if r.log != nil {
		r.log.Info("Starting Temporal worker", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)
	}

	maxWait := utils.GetEnvAsInt("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", 60, r.log)
	deadline := time.Now().Add(time.Duration(maxWait) * time.Second)

	for attempt := 1; ; attempt++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		w := r.newWorker(cfg)
		startErr := w.Start()
		if startErr == nil {
			if ctx != nil {
				go func() {
					<-ctx.Done()
					w.Stop()
				}()
			}
			if r.log != nil {
				r.log.Info("Temporal worker started", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempts", attempt)
			}
			return nil
		}

		w.Stop()

		// A missing namespace on a self-hosted server can heal if auto
		// registration is enabled; try once more after ensuring it.
		var nfe *serviceerror.NamespaceNotFound
		if errors.As(startErr, &nfe) {
			baseCtx := ctx
			if baseCtx == nil {
				baseCtx = context.Background()
			}
			_ = temporalx.EnsureNamespace(baseCtx, cfg, r.log)
		}

		if maxWait <= 0 || time.Now().After(deadline) {
			if errors.As(startErr, &nfe) {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
			return startErr
		}

		if r.log != nil {
			r.log.Warn("Temporal worker failed to start; retrying", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempt", attempt, "error", startErr)
		}
		time.Sleep(clampBackoff(250*time.Millisecond, 5*time.Second, attempt))
	}
}

func (r *Runner) newWorker(cfg temporalx.Config) worker.Worker {
	concurrency := utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, r.log)
	if concurrency < 1 {
		concurrency = 1
	}

	w := worker.New(r.tc, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})

	w.RegisterWorkflowWithOptions(syncflow.RunWorkflow, workflow.RegisterOptions{Name: syncflow.RunWorkflowName})
	w.RegisterWorkflowWithOptions(syncflow.BatchWorkflow, workflow.RegisterOptions{Name: syncflow.BatchWorkflowName})
	w.RegisterWorkflowWithOptions(syncflow.DocumentWorkflow, workflow.RegisterOptions{Name: syncflow.DocumentWorkflowName})

	w.RegisterActivityWithOptions(r.acts.MarkRunning, activity.RegisterOptions{Name: syncflow.ActivityMarkRunning})
	w.RegisterActivityWithOptions(r.acts.LaunchRun, activity.RegisterOptions{Name: syncflow.ActivityLaunchRun})
	w.RegisterActivityWithOptions(r.acts.ProcessBatch, activity.RegisterOptions{Name: syncflow.ActivityProcessBatch})
	w.RegisterActivityWithOptions(r.acts.RecordBatchFailure, activity.RegisterOptions{Name: syncflow.ActivityRecordBatchFailure})
	w.RegisterActivityWithOptions(r.acts.StoreDocument, activity.RegisterOptions{Name: syncflow.ActivityStoreDocument})
	w.RegisterActivityWithOptions(r.acts.MarkRunFailed, activity.RegisterOptions{Name: syncflow.ActivityMarkRunFailed})
	return w
}

func clampBackoff(base time.Duration, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	sleep := base
	for i := 1; i < attempt; i++ {
		sleep *= 2
		if max > 0 && sleep >= max {
			return max
		}
	}
	if max > 0 && sleep > max {
		return max
	}
	return sleep
}
