package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/latticehq/lattice/internal/domain"
)

// WorkflowExecutionRepo records code/agent job runs.
type WorkflowExecutionRepo struct{ Pool PgxPool }

// NewWorkflowExecutionRepo constructs a WorkflowExecutionRepo.
func NewWorkflowExecutionRepo(p PgxPool) *WorkflowExecutionRepo { return &WorkflowExecutionRepo{Pool: p} }

// Get loads one execution record.
func (r *WorkflowExecutionRepo) Get(ctx domain.Context, id int64) (domain.WorkflowExecution, error) {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.Get")
	defer span.End()
	q := `SELECT id, workflow_id, company_id, status, COALESCE(generated_files,'{}'), total_bytes, cost_usd, duration_ms, COALESCE(error_message,''), created_at
	      FROM workflow_execution WHERE id=$1`
	var e domain.WorkflowExecution
	if err := r.Pool.QueryRow(ctx, q, id).Scan(&e.ID, &e.WorkflowID, &e.CompanyID, &e.Status, &e.GeneratedFiles, &e.TotalBytes, &e.CostUSD, &e.DurationMS, &e.ErrorMessage, &e.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.WorkflowExecution{}, fmt.Errorf("op=execution.get: %w", domain.ErrNotFound)
		}
		return domain.WorkflowExecution{}, fmt.Errorf("op=execution.get: %w", err)
	}
	return e, nil
}

// UpdateResults writes the outcome of one execution run.
func (r *WorkflowExecutionRepo) UpdateResults(ctx domain.Context, e domain.WorkflowExecution) error {
	tracer := otel.Tracer("repo.executions")
	ctx, span := tracer.Start(ctx, "executions.UpdateResults")
	defer span.End()
	q := `UPDATE workflow_execution
	      SET status=$2, generated_files=$3, total_bytes=$4, cost_usd=$5, duration_ms=$6, error_message=$7, updated_at=$8
	      WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, e.ID, e.Status, e.GeneratedFiles, e.TotalBytes, e.CostUSD, e.DurationMS, e.ErrorMessage, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=execution.update_results: %w", err)
	}
	return nil
}
