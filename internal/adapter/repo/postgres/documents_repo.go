package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/latticehq/lattice/internal/domain"
)

// DocumentRepo persists documents and their extraction/indexing jobs.
type DocumentRepo struct{ Pool PgxPool }

// NewDocumentRepo constructs a DocumentRepo with the given pool.
func NewDocumentRepo(p PgxPool) *DocumentRepo { return &DocumentRepo{Pool: p} }

const documentColumns = `id, company_id, filename, storage_key, checksum, content_type, file_size,
	use_agentic_chunking, extraction_status, COALESCE(extracted_content_path,''),
	extraction_started_at, extraction_completed_at, created_at`

// Create inserts a document and returns its id.
func (r *DocumentRepo) Create(ctx domain.Context, d domain.Document) (int64, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.Create")
	defer span.End()
	q := `INSERT INTO document (company_id, filename, storage_key, checksum, content_type, file_size, use_agentic_chunking, extraction_status, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`
	var id int64
	if err := r.Pool.QueryRow(ctx, q, d.CompanyID, d.Filename, d.StorageKey, d.Checksum, d.ContentType, d.FileSize, d.UseAgenticChunking, domain.ExtractionPending, time.Now().UTC()).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=document.create: %w", err)
	}
	return id, nil
}

// Get loads a non-deleted document scoped to a tenant.
func (r *DocumentRepo) Get(ctx domain.Context, companyID, id int64) (domain.Document, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.Get")
	defer span.End()
	q := `SELECT ` + documentColumns + ` FROM document WHERE id=$1 AND company_id=$2 AND NOT deleted`
	return r.scanDocument(r.Pool.QueryRow(ctx, q, id, companyID), "document.get")
}

// FindByChecksum is the authoritative dedup lookup for a tenant.
func (r *DocumentRepo) FindByChecksum(ctx domain.Context, companyID int64, checksum string) (domain.Document, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.FindByChecksum")
	defer span.End()
	q := `SELECT ` + documentColumns + ` FROM document WHERE company_id=$1 AND checksum=$2 AND NOT deleted LIMIT 1`
	return r.scanDocument(r.Pool.QueryRow(ctx, q, companyID, checksum), "document.find_checksum")
}

func (r *DocumentRepo) scanDocument(row pgx.Row, op string) (domain.Document, error) {
	var d domain.Document
	err := row.Scan(&d.ID, &d.CompanyID, &d.Filename, &d.StorageKey, &d.Checksum, &d.ContentType, &d.FileSize,
		&d.UseAgenticChunking, &d.ExtractionStatus, &d.ExtractedContentPath,
		&d.ExtractionStartedAt, &d.ExtractionCompletedAt, &d.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Document{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
		}
		return domain.Document{}, fmt.Errorf("op=%s: %w", op, err)
	}
	return d, nil
}

// UpdateExtractionStarted marks a document PROCESSING.
func (r *DocumentRepo) UpdateExtractionStarted(ctx domain.Context, id int64, at time.Time) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.UpdateExtractionStarted")
	defer span.End()
	q := `UPDATE document SET extraction_status=$2, extraction_started_at=$3 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, domain.ExtractionProcessing, at.UTC()); err != nil {
		return fmt.Errorf("op=document.extraction_started: %w", err)
	}
	return nil
}

// UpdateExtractionCompleted marks a document COMPLETED with its content path.
func (r *DocumentRepo) UpdateExtractionCompleted(ctx domain.Context, id int64, contentPath string, at time.Time) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.UpdateExtractionCompleted")
	defer span.End()
	q := `UPDATE document SET extraction_status=$2, extracted_content_path=$3, extraction_completed_at=$4 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, domain.ExtractionCompleted, contentPath, at.UTC()); err != nil {
		return fmt.Errorf("op=document.extraction_completed: %w", err)
	}
	return nil
}

// UpdateExtractionFailed marks a document FAILED.
func (r *DocumentRepo) UpdateExtractionFailed(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.UpdateExtractionFailed")
	defer span.End()
	q := `UPDATE document SET extraction_status=$2 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, domain.ExtractionFailed); err != nil {
		return fmt.Errorf("op=document.extraction_failed: %w", err)
	}
	return nil
}

// CreateExtractionJob inserts an extraction job row.
func (r *DocumentRepo) CreateExtractionJob(ctx domain.Context, j domain.DocumentExtractionJob) (int64, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.CreateExtractionJob")
	defer span.End()
	q := `INSERT INTO document_extraction_job (document_id, company_id, status, created_at) VALUES ($1,$2,$3,$4) RETURNING id`
	var id int64
	if err := r.Pool.QueryRow(ctx, q, j.DocumentID, j.CompanyID, j.Status, time.Now().UTC()).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=document.create_extraction_job: %w", err)
	}
	return id, nil
}

// UpdateExtractionJob moves an extraction job's status.
func (r *DocumentRepo) UpdateExtractionJob(ctx domain.Context, id int64, status domain.JobStatus, errMsg string) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.UpdateExtractionJob")
	defer span.End()
	return r.updateJob(ctx, "document_extraction_job", "document.update_extraction_job", id, status, errMsg)
}

// CreateIndexingJob inserts an indexing job row.
func (r *DocumentRepo) CreateIndexingJob(ctx domain.Context, j domain.DocumentIndexingJob) (int64, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.CreateIndexingJob")
	defer span.End()
	q := `INSERT INTO document_indexing_job (document_id, company_id, status, created_at) VALUES ($1,$2,$3,$4) RETURNING id`
	var id int64
	if err := r.Pool.QueryRow(ctx, q, j.DocumentID, j.CompanyID, j.Status, time.Now().UTC()).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=document.create_indexing_job: %w", err)
	}
	return id, nil
}

// GetIndexingJob loads one indexing job; queue messages carry only ids, so
// the consumer resolves the tenant through the job row.
func (r *DocumentRepo) GetIndexingJob(ctx domain.Context, id int64) (domain.DocumentIndexingJob, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.GetIndexingJob")
	defer span.End()
	q := `SELECT id, document_id, company_id, status, COALESCE(error_message,''), completed_at, created_at
	      FROM document_indexing_job WHERE id=$1`
	var j domain.DocumentIndexingJob
	err := r.Pool.QueryRow(ctx, q, id).Scan(&j.ID, &j.DocumentID, &j.CompanyID, &j.Status, &j.ErrorMessage, &j.CompletedAt, &j.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.DocumentIndexingJob{}, fmt.Errorf("op=document.get_indexing_job: %w", domain.ErrNotFound)
		}
		return domain.DocumentIndexingJob{}, fmt.Errorf("op=document.get_indexing_job: %w", err)
	}
	return j, nil
}

// UpdateIndexingJob moves an indexing job's status.
func (r *DocumentRepo) UpdateIndexingJob(ctx domain.Context, id int64, status domain.JobStatus, errMsg string) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.UpdateIndexingJob")
	defer span.End()
	return r.updateJob(ctx, "document_indexing_job", "document.update_indexing_job", id, status, errMsg)
}

func (r *DocumentRepo) updateJob(ctx domain.Context, table, op string, id int64, status domain.JobStatus, errMsg string) error {
	var completedAt *time.Time
	if status == domain.JobCompleted || status == domain.JobFailed {
		now := time.Now().UTC()
		completedAt = &now
	}
	q := `UPDATE ` + table + ` SET status=$2, error_message=$3, completed_at=$4 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, status, errMsg, completedAt); err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	return nil
}
