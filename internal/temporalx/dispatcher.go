package temporalx

import (
	"context"
	"fmt"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/sync"
	"github.com/openfondos/grantmirror/internal/temporalx/syncflow"
)

// Dispatcher starts batch and document workflows on the task queue.
// Workflow IDs are deterministic so a retried launch activity cannot fan
// the same work out twice: duplicates are rejected by the server and
// treated as success.
type Dispatcher struct {
	log       *logger.Logger
	tc        temporalsdkclient.Client
	taskQueue string
}

func NewDispatcher(log *logger.Logger, tc temporalsdkclient.Client) (*Dispatcher, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	cfg := LoadConfig()
	return &Dispatcher{
		log:       log.With("component", "TemporalDispatcher"),
		tc:        tc,
		taskQueue: cfg.TaskQueue,
	}, nil
}

var _ sync.Dispatcher = (*Dispatcher)(nil)

func (d *Dispatcher) EnqueueBatch(ctx context.Context, spec sync.BatchSpec) error {
	id := fmt.Sprintf("run-%s-batch-%d", spec.RunID.String(), spec.Index)
	return d.start(ctx, id, syncflow.BatchWorkflowName, spec)
}

func (d *Dispatcher) EnqueueDocument(ctx context.Context, job sync.DocumentJob) error {
	id := fmt.Sprintf("doc-%s", job.DocumentID.String())
	return d.start(ctx, id, syncflow.DocumentWorkflowName, job)
}

func (d *Dispatcher) start(ctx context.Context, id, name string, arg interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    id,
		TaskQueue:             d.taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	_, err := d.tc.ExecuteWorkflow(ctx, opts, name, arg)
	if err == nil {
		return nil
	}
	if _, ok := err.(*serviceerror.WorkflowExecutionAlreadyStarted); ok {
		d.log.Debug("Workflow already started", "workflow_id", id, "workflow", name)
		return nil
	}
	return fmt.Errorf("start workflow %s (%s): %w", name, id, err)
}

// StartRun kicks off the top-level run workflow for a freshly created run.
func (d *Dispatcher) StartRun(ctx context.Context, in syncflow.RunInput) error {
	id := fmt.Sprintf("run-%s", in.RunID)
	return d.start(ctx, id, syncflow.RunWorkflowName, in)
}
