package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/latticehq/lattice/internal/domain"
	"github.com/latticehq/lattice/internal/observability"
	"github.com/latticehq/lattice/internal/usecase"
)

// AgentQAWorkflowID dedups agent runs per (job, cell) pair.
func AgentQAWorkflowID(jobID, cellID int64) string {
	return fmt.Sprintf("agent-qa-%d-%d", jobID, cellID)
}

// AgentQAWorkflow answers one cell durably. The queue-side job has already
// been completed by the time this runs; the workflow owns the cell from here,
// and its deterministic id stands in for the cell lock.
func AgentQAWorkflow(ctx workflow.Context, in domain.AgentQAInput) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})
	var a *AgentQAActivities

	if err := workflow.ExecuteActivity(ctx, a.AnswerCell, in).Get(ctx, nil); err != nil {
		dctx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		dctx = workflow.WithActivityOptions(dctx, workflow.ActivityOptions{
			StartToCloseTimeout: time.Minute,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
		})
		if ferr := workflow.ExecuteActivity(dctx, a.FailCell, in.CellID).Get(dctx, nil); ferr != nil {
			workflow.GetLogger(ctx).Error("failed to record cell failure", "cell_id", in.CellID, "error", ferr)
		}
		return err
	}
	return nil
}

// AgentQAActivities carries the QA pipeline into the agent workflow.
type AgentQAActivities struct {
	QA    usecase.QAService
	Cells domain.CellRepository
	Quota usecase.QuotaService
}

// NewAgentQAActivities constructs the activity set.
func NewAgentQAActivities(qa usecase.QAService, cells domain.CellRepository, quota usecase.QuotaService) *AgentQAActivities {
	return &AgentQAActivities{QA: qa, Cells: cells, Quota: quota}
}

// AnswerCell runs retrieval, generation and persistence for the cell, then
// records the agentic QA usage event.
func (a *AgentQAActivities) AnswerCell(ctx context.Context, in domain.AgentQAInput) error {
	if len(in.TraceHeaders) > 0 {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(in.TraceHeaders))
	}
	if err := a.QA.AnswerCellDirect(ctx, in.CellID); err != nil {
		return fmt.Errorf("op=agentqa.answer: %w", err)
	}
	err := a.Quota.TrackAgenticQA(ctx, in.CompanyID, map[string]any{
		"cell_id":     in.CellID,
		"job_id":      in.JobID,
		"question_id": in.QuestionID,
	})
	if err != nil {
		// Tracking is advisory; the answered cell is the durable outcome.
		slog.Error("agentic qa usage tracking failed", slog.Int64("cell_id", in.CellID), slog.Any("error", err))
	}
	return nil
}

// FailCell marks the cell FAILED after the answer attempts are exhausted.
func (a *AgentQAActivities) FailCell(ctx context.Context, cellID int64) error {
	if err := a.Cells.UpdateStatus(ctx, cellID, domain.CellFailed); err != nil {
		return fmt.Errorf("op=agentqa.fail_cell: %w", err)
	}
	observability.FailJob("agent_qa")
	return nil
}
