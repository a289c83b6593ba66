package runner

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/model"
)

// DefaultTaskQueue is the Temporal task queue extraction workers poll.
const DefaultTaskQueue = "directory-extraction"

// WorkflowID is the single workflow id per entity; Temporal refuses a second
// running execution with the same id.
func WorkflowID(entityID string) string { return "extract-" + entityID }

// WorkflowConfig bounds one extraction activity.
type WorkflowConfig struct {
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// ExtractWorkflow runs one job as a single long activity. The orchestrator
// owns step retries, so the activity itself is attempted once.
func ExtractWorkflow(ctx workflow.Context, job model.Job, cfg WorkflowConfig) (*model.JobOutcome, error) {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Hour
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: cfg.JobTimeout,
		HeartbeatTimeout:    3 * cfg.HeartbeatInterval,
		WaitForCancellation: true,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	var a *Activities
	var out model.JobOutcome
	if err := workflow.ExecuteActivity(ctx, a.RunExtraction, job, cfg.HeartbeatInterval).Get(ctx, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Activities exposes the orchestrator to Temporal workers.
type Activities struct {
	Exec Executor
}

// RunExtraction runs the loop, heartbeating so workflow cancellation reaches
// the loop's context.
func (a *Activities) RunExtraction(ctx context.Context, job model.Job, heartbeat time.Duration) (*model.JobOutcome, error) {
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(heartbeat)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx, job.EntityID)
			}
		}
	}()

	out, err := a.Exec.Run(ctx, job)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "extraction_error", err)
	}
	return out, nil
}

// TemporalDispatcher starts one ExtractWorkflow per entity.
type TemporalDispatcher struct {
	client    client.Client
	taskQueue string
	cfg       WorkflowConfig
}

// NewTemporalDispatcher creates a dispatcher on taskQueue.
func NewTemporalDispatcher(c client.Client, taskQueue string, cfg WorkflowConfig) *TemporalDispatcher {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &TemporalDispatcher{client: c, taskQueue: taskQueue, cfg: cfg}
}

// Dispatch implements Dispatcher.
func (d *TemporalDispatcher) Dispatch(ctx context.Context, job model.Job) error {
	run, err := d.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(job.EntityID),
		TaskQueue: d.taskQueue,
	}, ExtractWorkflow, job, d.cfg)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return eris.Wrapf(ErrAlreadyActive, "entity %s", job.EntityID)
		}
		return eris.Wrap(err, "temporal: start workflow")
	}
	zap.L().Info("temporal: workflow started",
		zap.String("entity_id", job.EntityID),
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)
	return nil
}

// Cancel implements Dispatcher.
func (d *TemporalDispatcher) Cancel(ctx context.Context, entityID string) (bool, error) {
	if !d.running(ctx, entityID) {
		return false, nil
	}
	if err := d.client.CancelWorkflow(ctx, WorkflowID(entityID), ""); err != nil {
		return false, eris.Wrap(err, "temporal: cancel workflow")
	}
	return true, nil
}

// IsActive implements Dispatcher.
func (d *TemporalDispatcher) IsActive(entityID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.running(ctx, entityID)
}

func (d *TemporalDispatcher) running(ctx context.Context, entityID string) bool {
	resp, err := d.client.DescribeWorkflowExecution(ctx, WorkflowID(entityID), "")
	if err != nil {
		var nf *serviceerror.NotFound
		if !errors.As(err, &nf) {
			zap.L().Warn("temporal: describe workflow", zap.String("entity_id", entityID), zap.Error(err))
		}
		return false
	}
	return resp.GetWorkflowExecutionInfo().GetStatus() == enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING
}
