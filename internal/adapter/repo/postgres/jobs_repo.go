package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/latticehq/lattice/internal/domain"
)

// QAJobRepo persists and loads QA jobs.
type QAJobRepo struct{ Pool PgxPool }

// NewQAJobRepo constructs a QAJobRepo with the given pool.
func NewQAJobRepo(p PgxPool) *QAJobRepo { return &QAJobRepo{Pool: p} }

// Create inserts a new QA job and returns its id.
func (r *QAJobRepo) Create(ctx domain.Context, j domain.QAJob) (int64, error) {
	tracer := otel.Tracer("repo.qajobs")
	ctx, span := tracer.Start(ctx, "qajobs.Create")
	defer span.End()
	q := `INSERT INTO qa_job (matrix_cell_id, company_id, status, worker_message_id, error_message, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`
	var id int64
	if err := r.Pool.QueryRow(ctx, q, j.MatrixCellID, j.CompanyID, j.Status, j.WorkerMessageID, j.ErrorMessage, time.Now().UTC()).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=qajob.create: %w", err)
	}
	return id, nil
}

// Get loads a QA job by id.
func (r *QAJobRepo) Get(ctx domain.Context, id int64) (domain.QAJob, error) {
	tracer := otel.Tracer("repo.qajobs")
	ctx, span := tracer.Start(ctx, "qajobs.Get")
	defer span.End()
	q := `SELECT id, matrix_cell_id, company_id, status, COALESCE(worker_message_id,''), COALESCE(error_message,''), completed_at, created_at
	      FROM qa_job WHERE id=$1`
	var j domain.QAJob
	if err := r.Pool.QueryRow(ctx, q, id).Scan(&j.ID, &j.MatrixCellID, &j.CompanyID, &j.Status, &j.WorkerMessageID, &j.ErrorMessage, &j.CompletedAt, &j.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.QAJob{}, fmt.Errorf("op=qajob.get: %w", domain.ErrNotFound)
		}
		return domain.QAJob{}, fmt.Errorf("op=qajob.get: %w", err)
	}
	return j, nil
}

// ListProcessingOlderThan pages PROCESSING jobs created before cutoff.
func (r *QAJobRepo) ListProcessingOlderThan(ctx domain.Context, cutoff time.Time, limit int) ([]domain.QAJob, error) {
	tracer := otel.Tracer("repo.qajobs")
	ctx, span := tracer.Start(ctx, "qajobs.ListProcessingOlderThan")
	defer span.End()
	q := `SELECT id, matrix_cell_id, company_id, status, COALESCE(worker_message_id,''), COALESCE(error_message,''), completed_at, created_at
	      FROM qa_job WHERE status=$1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3`
	rows, err := r.Pool.Query(ctx, q, domain.JobProcessing, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("op=qajob.list_processing: %w", err)
	}
	defer rows.Close()
	var jobs []domain.QAJob
	for rows.Next() {
		var j domain.QAJob
		if err := rows.Scan(&j.ID, &j.MatrixCellID, &j.CompanyID, &j.Status, &j.WorkerMessageID, &j.ErrorMessage, &j.CompletedAt, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=qajob.list_processing: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=qajob.list_processing: %w", err)
	}
	return jobs, nil
}

// UpdateStatus moves a job's status; terminal states stamp completed_at.
func (r *QAJobRepo) UpdateStatus(ctx domain.Context, id int64, status domain.JobStatus, errMsg string) error {
	tracer := otel.Tracer("repo.qajobs")
	ctx, span := tracer.Start(ctx, "qajobs.UpdateStatus")
	defer span.End()
	var completedAt *time.Time
	if status == domain.JobCompleted || status == domain.JobFailed {
		now := time.Now().UTC()
		completedAt = &now
	}
	q := `UPDATE qa_job SET status=$2, error_message=$3, completed_at=$4 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, status, errMsg, completedAt); err != nil {
		return fmt.Errorf("op=qajob.update_status: %w", err)
	}
	return nil
}
