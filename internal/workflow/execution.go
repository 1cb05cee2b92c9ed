package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/latticehq/lattice/internal/domain"
	"github.com/latticehq/lattice/internal/observability"
	"github.com/latticehq/lattice/internal/usecase"
)

// agentPollInterval paces runner status checks while an agent job runs.
const agentPollInterval = 5 * time.Second

// WorkflowExecutionWorkflowID is deterministic per execution row.
func WorkflowExecutionWorkflowID(executionID int64) string {
	return fmt.Sprintf("workflow-execution-%d", executionID)
}

// ExecutionInput identifies one external agent run.
type ExecutionInput struct {
	CompanyID   int64 `json:"company_id"`
	WorkflowID  int64 `json:"workflow_id"`
	ExecutionID int64 `json:"execution_id"`
}

// LaunchResult carries the runner handles needed to poll and clean up.
type LaunchResult struct {
	AgentID        string `json:"agent_id"`
	ServiceAccount string `json:"service_account"`
}

// WorkflowExecutionWorkflow launches an external agent job, waits for it,
// collects the manifest-described results and cleans the runner up. Cleanup
// runs whether the agent succeeded or not.
func WorkflowExecutionWorkflow(ctx workflow.Context, in ExecutionInput) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})
	var a *ExecutionActivities

	var launched LaunchResult
	if err := workflow.ExecuteActivity(ctx, a.LaunchAgent, in).Get(ctx, &launched); err != nil {
		return failExecution(ctx, a, in, err)
	}

	waitCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Hour,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumAttempts: 5,
		},
	})
	var success bool
	waitErr := workflow.ExecuteActivity(waitCtx, a.WaitForAgent, launched.AgentID).Get(waitCtx, &success)

	// Best effort; the agent resources must not outlive the run.
	dctx, cancel := workflow.NewDisconnectedContext(ctx)
	defer cancel()
	dctx = workflow.WithActivityOptions(dctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	})
	if err := workflow.ExecuteActivity(dctx, a.Cleanup, launched).Get(dctx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("agent cleanup failed", "agent_id", launched.AgentID, "error", err)
	}

	if waitErr != nil {
		return failExecution(ctx, a, in, waitErr)
	}
	if err := workflow.ExecuteActivity(ctx, a.CollectResults, in, success).Get(ctx, nil); err != nil {
		return failExecution(ctx, a, in, err)
	}
	return nil
}

// failExecution records the terminal failure on a disconnected context, then
// surfaces the cause.
func failExecution(ctx workflow.Context, a *ExecutionActivities, in ExecutionInput, cause error) error {
	dctx, cancel := workflow.NewDisconnectedContext(ctx)
	defer cancel()
	dctx = workflow.WithActivityOptions(dctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	})
	if err := workflow.ExecuteActivity(dctx, a.FailExecution, in, cause.Error()).Get(dctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("failed to record execution failure", "error", err)
	}
	return cause
}

// ExecutionActivities carries the side-effecting dependencies of the
// execution workflow.
type ExecutionActivities struct {
	Runner     domain.AgentRunner
	Executions domain.WorkflowExecutionRepository
	Blobs      domain.BlobStore
	Quota      usecase.QuotaService
}

// NewExecutionActivities constructs the activity set.
func NewExecutionActivities(r domain.AgentRunner, e domain.WorkflowExecutionRepository, b domain.BlobStore, q usecase.QuotaService) *ExecutionActivities {
	return &ExecutionActivities{Runner: r, Executions: e, Blobs: b, Quota: q}
}

// LaunchAgent starts the external agent job and records the workflow-run
// usage event. Quota admission happened before the execution row was created;
// the event here is the consumption record.
func (a *ExecutionActivities) LaunchAgent(ctx context.Context, in ExecutionInput) (LaunchResult, error) {
	agentID, serviceAccount, err := a.Runner.Launch(ctx, in.CompanyID, in.WorkflowID, in.ExecutionID)
	if err != nil {
		return LaunchResult{}, fmt.Errorf("op=execution.launch: %w", err)
	}
	terr := a.Quota.TrackWorkflow(ctx, in.CompanyID, map[string]any{
		"workflow_id":  in.WorkflowID,
		"execution_id": in.ExecutionID,
	})
	if terr != nil {
		slog.Error("workflow usage tracking failed", slog.Int64("execution_id", in.ExecutionID), slog.Any("error", terr))
	}
	return LaunchResult{AgentID: agentID, ServiceAccount: serviceAccount}, nil
}

// WaitForAgent polls the runner until the job finishes, heartbeating between
// polls so a dead worker is detected within the heartbeat timeout.
func (a *ExecutionActivities) WaitForAgent(ctx context.Context, agentID string) (bool, error) {
	ticker := time.NewTicker(agentPollInterval)
	defer ticker.Stop()
	for {
		done, success, err := a.Runner.Status(ctx, agentID)
		if err != nil {
			return false, fmt.Errorf("op=execution.wait agent=%s: %w", agentID, err)
		}
		if done {
			return success, nil
		}
		activity.RecordHeartbeat(ctx, agentID)
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CollectResults parses the manifest and writes the terminal execution row.
// The run completes only when both the runner and the manifest report success.
func (a *ExecutionActivities) CollectResults(ctx context.Context, in ExecutionInput, runnerSuccess bool) error {
	exec, err := a.Executions.Get(ctx, in.ExecutionID)
	if err != nil {
		return fmt.Errorf("op=execution.collect: %w", err)
	}
	raw, err := a.Blobs.Download(ctx, ExecutionManifestKey(in.CompanyID, in.WorkflowID, in.ExecutionID))
	if err != nil {
		return fmt.Errorf("op=execution.collect: download manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("op=execution.collect: parse manifest: %w", err)
	}

	exec.GeneratedFiles = exec.GeneratedFiles[:0]
	exec.TotalBytes = 0
	for _, f := range m.OutputFiles {
		exec.GeneratedFiles = append(exec.GeneratedFiles, f.Name)
		exec.TotalBytes += f.Size
	}
	if m.Metadata.CostUSD != nil {
		exec.CostUSD = *m.Metadata.CostUSD
	}
	if m.Metadata.DurationMS != nil {
		exec.DurationMS = *m.Metadata.DurationMS
	}
	exec.ErrorMessage = m.Metadata.Error
	if runnerSuccess && m.Metadata.Success {
		exec.Status = domain.JobCompleted
		observability.CompleteJob("workflow_execution")
	} else {
		exec.Status = domain.JobFailed
		if exec.ErrorMessage == "" {
			exec.ErrorMessage = "agent reported failure"
		}
		observability.FailJob("workflow_execution")
	}
	if err := a.Executions.UpdateResults(ctx, exec); err != nil {
		return fmt.Errorf("op=execution.collect: %w", err)
	}
	return nil
}

// Cleanup tears down the agent job and its service account.
func (a *ExecutionActivities) Cleanup(ctx context.Context, launched LaunchResult) error {
	if launched.AgentID == "" {
		return nil
	}
	if err := a.Runner.Cleanup(ctx, launched.AgentID, launched.ServiceAccount); err != nil {
		return fmt.Errorf("op=execution.cleanup agent=%s: %w", launched.AgentID, err)
	}
	return nil
}

// FailExecution writes the terminal FAILED row with the workflow's cause.
func (a *ExecutionActivities) FailExecution(ctx context.Context, in ExecutionInput, msg string) error {
	exec, err := a.Executions.Get(ctx, in.ExecutionID)
	if err != nil {
		return fmt.Errorf("op=execution.fail: %w", err)
	}
	exec.Status = domain.JobFailed
	exec.ErrorMessage = msg
	if err := a.Executions.UpdateResults(ctx, exec); err != nil {
		return fmt.Errorf("op=execution.fail: %w", err)
	}
	observability.FailJob("workflow_execution")
	return nil
}
