package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/latticehq/lattice/internal/domain"
)

// CellRepo persists matrix cells, their entity refs and QA jobs.
type CellRepo struct{ Pool PgxPool }

// NewCellRepo constructs a CellRepo with the given pool.
func NewCellRepo(p PgxPool) *CellRepo { return &CellRepo{Pool: p} }

// ListSignatures returns the signatures of all non-deleted cells of a matrix.
func (r *CellRepo) ListSignatures(ctx domain.Context, matrixID int64) (map[string]struct{}, error) {
	tracer := otel.Tracer("repo.cells")
	ctx, span := tracer.Start(ctx, "cells.ListSignatures")
	defer span.End()
	q := `SELECT cell_signature FROM matrix_cell WHERE matrix_id=$1 AND NOT deleted`
	rows, err := r.Pool.Query(ctx, q, matrixID)
	if err != nil {
		return nil, fmt.Errorf("op=cell.list_signatures: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, fmt.Errorf("op=cell.list_signatures: %w", err)
		}
		out[sig] = struct{}{}
	}
	return out, rows.Err()
}

// CreateCellsWithRefs inserts cells, their refs, and optionally one QUEUED QA
// job per cell in a single transaction. A signature collision on an
// individual cell is treated as already-created and skipped; the unique
// partial index on (matrix_id, cell_signature) is the correctness fence.
func (r *CellRepo) CreateCellsWithRefs(ctx domain.Context, companyID, matrixID int64, specs []domain.CellSpec, createJobs bool) ([]domain.MatrixCell, []domain.QAJob, error) {
	tracer := otel.Tracer("repo.cells")
	ctx, span := tracer.Start(ctx, "cells.CreateCellsWithRefs")
	defer span.End()
	span.SetAttributes(attribute.Int("cells.count", len(specs)))
	if len(specs) == 0 {
		return nil, nil, nil
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("op=cell.bulk_create: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	cells := make([]domain.MatrixCell, 0, len(specs))
	jobs := make([]domain.QAJob, 0, len(specs))

	for _, spec := range specs {
		// Savepoint per cell so a signature race rolls back only this cell.
		inner, err := tx.Begin(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("op=cell.bulk_create: %w", err)
		}
		var cellID int64
		err = inner.QueryRow(ctx,
			`INSERT INTO matrix_cell (matrix_id, company_id, status, cell_type, cell_signature, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$6) RETURNING id`,
			matrixID, companyID, domain.CellPending, spec.CellType, spec.Signature, now,
		).Scan(&cellID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// Lost the signature race; another writer created this cell.
				_ = inner.Rollback(ctx)
				continue
			}
			return nil, nil, fmt.Errorf("op=cell.bulk_create: %w", err)
		}
		for _, ref := range spec.Refs {
			if _, err := inner.Exec(ctx,
				`INSERT INTO cell_entity_ref (matrix_cell_id, matrix_id, entity_set_id, entity_set_member_id, role, entity_order, company_id)
				 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				cellID, matrixID, ref.EntitySetID, ref.EntitySetMemberID, ref.Role, ref.EntityOrder, companyID,
			); err != nil {
				return nil, nil, fmt.Errorf("op=cell.bulk_create_refs: %w", err)
			}
		}
		cell := domain.MatrixCell{
			ID: cellID, MatrixID: matrixID, CompanyID: companyID,
			Status: domain.CellPending, CellType: spec.CellType,
			CellSignature: spec.Signature, CreatedAt: now, UpdatedAt: now,
		}
		if createJobs {
			var jobID int64
			if err := inner.QueryRow(ctx,
				`INSERT INTO qa_job (matrix_cell_id, company_id, status, created_at) VALUES ($1,$2,$3,$4) RETURNING id`,
				cellID, companyID, domain.JobQueued, now,
			).Scan(&jobID); err != nil {
				return nil, nil, fmt.Errorf("op=cell.bulk_create_jobs: %w", err)
			}
			jobs = append(jobs, domain.QAJob{ID: jobID, MatrixCellID: cellID, CompanyID: companyID, Status: domain.JobQueued, CreatedAt: now})
		}
		if err := inner.Commit(ctx); err != nil {
			return nil, nil, fmt.Errorf("op=cell.bulk_create: %w", err)
		}
		cells = append(cells, cell)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("op=cell.bulk_create: %w", err)
	}
	return cells, jobs, nil
}

// Get loads a non-deleted cell by id.
func (r *CellRepo) Get(ctx domain.Context, id int64) (domain.MatrixCell, error) {
	tracer := otel.Tracer("repo.cells")
	ctx, span := tracer.Start(ctx, "cells.Get")
	defer span.End()
	q := `SELECT id, matrix_id, company_id, status, cell_type, current_answer_set_id, cell_signature, created_at, updated_at
	      FROM matrix_cell WHERE id=$1 AND NOT deleted`
	var c domain.MatrixCell
	if err := r.Pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.MatrixID, &c.CompanyID, &c.Status, &c.CellType, &c.CurrentAnswerSetID, &c.CellSignature, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.MatrixCell{}, fmt.Errorf("op=cell.get: %w", domain.ErrNotFound)
		}
		return domain.MatrixCell{}, fmt.Errorf("op=cell.get: %w", err)
	}
	return c, nil
}

// UpdateStatus moves a cell's lifecycle state.
func (r *CellRepo) UpdateStatus(ctx domain.Context, id int64, status domain.CellStatus) error {
	tracer := otel.Tracer("repo.cells")
	ctx, span := tracer.Start(ctx, "cells.UpdateStatus")
	defer span.End()
	q := `UPDATE matrix_cell SET status=$2, updated_at=$3 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=cell.update_status: %w", err)
	}
	return nil
}

// SetCurrentAnswerSet moves the cell's current answer pointer.
func (r *CellRepo) SetCurrentAnswerSet(ctx domain.Context, id int64, answerSetID int64) error {
	tracer := otel.Tracer("repo.cells")
	ctx, span := tracer.Start(ctx, "cells.SetCurrentAnswerSet")
	defer span.End()
	q := `UPDATE matrix_cell SET current_answer_set_id=$2, updated_at=$3 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, answerSetID, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=cell.set_current_answer_set: %w", err)
	}
	return nil
}

// ListRefs returns the refs of a cell ordered by entity order.
func (r *CellRepo) ListRefs(ctx domain.Context, cellID int64) ([]domain.CellEntityRef, error) {
	tracer := otel.Tracer("repo.cells")
	ctx, span := tracer.Start(ctx, "cells.ListRefs")
	defer span.End()
	q := `SELECT id, matrix_cell_id, matrix_id, entity_set_id, entity_set_member_id, role, entity_order, company_id
	      FROM cell_entity_ref WHERE matrix_cell_id=$1 ORDER BY entity_order, id`
	rows, err := r.Pool.Query(ctx, q, cellID)
	if err != nil {
		return nil, fmt.Errorf("op=cell.list_refs: %w", err)
	}
	defer rows.Close()
	var out []domain.CellEntityRef
	for rows.Next() {
		var ref domain.CellEntityRef
		if err := rows.Scan(&ref.ID, &ref.MatrixCellID, &ref.MatrixID, &ref.EntitySetID, &ref.EntitySetMemberID, &ref.Role, &ref.EntityOrder, &ref.CompanyID); err != nil {
			return nil, fmt.Errorf("op=cell.list_refs: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// ListByMatrix returns all non-deleted cells of a matrix.
func (r *CellRepo) ListByMatrix(ctx domain.Context, companyID, matrixID int64) ([]domain.MatrixCell, error) {
	tracer := otel.Tracer("repo.cells")
	ctx, span := tracer.Start(ctx, "cells.ListByMatrix")
	defer span.End()
	q := `SELECT id, matrix_id, company_id, status, cell_type, current_answer_set_id, cell_signature, created_at, updated_at
	      FROM matrix_cell WHERE matrix_id=$1 AND company_id=$2 AND NOT deleted ORDER BY id`
	return r.scanCells(ctx, q, matrixID, companyID)
}

// ListByIDs returns the non-deleted cells among ids for a tenant.
func (r *CellRepo) ListByIDs(ctx domain.Context, companyID int64, ids []int64) ([]domain.MatrixCell, error) {
	tracer := otel.Tracer("repo.cells")
	ctx, span := tracer.Start(ctx, "cells.ListByIDs")
	defer span.End()
	q := `SELECT id, matrix_id, company_id, status, cell_type, current_answer_set_id, cell_signature, created_at, updated_at
	      FROM matrix_cell WHERE id = ANY($1) AND company_id=$2 AND NOT deleted ORDER BY id`
	return r.scanCells(ctx, q, ids, companyID)
}

// ListByEntityFilters returns cells where every filter is satisfied by at
// least one ref (matching entity set, role, and one of the entity ids).
func (r *CellRepo) ListByEntityFilters(ctx domain.Context, companyID, matrixID int64, filters []domain.EntitySetFilter) ([]domain.MatrixCell, error) {
	tracer := otel.Tracer("repo.cells")
	ctx, span := tracer.Start(ctx, "cells.ListByEntityFilters")
	defer span.End()

	q := `SELECT c.id, c.matrix_id, c.company_id, c.status, c.cell_type, c.current_answer_set_id, c.cell_signature, c.created_at, c.updated_at
	      FROM matrix_cell c WHERE c.matrix_id=$1 AND c.company_id=$2 AND NOT c.deleted`
	args := []any{matrixID, companyID}
	for _, f := range filters {
		args = append(args, f.EntitySetID, f.Role, f.EntityIDs)
		n := len(args)
		q += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM cell_entity_ref ref
			JOIN entity_set_member m ON m.id = ref.entity_set_member_id
			WHERE ref.matrix_cell_id = c.id AND ref.entity_set_id = $%d AND ref.role = $%d AND m.entity_id = ANY($%d))`, n-2, n-1, n)
	}
	q += ` ORDER BY c.id`
	return r.scanCells(ctx, q, args...)
}

func (r *CellRepo) scanCells(ctx domain.Context, q string, args ...any) ([]domain.MatrixCell, error) {
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=cell.scan: %w", err)
	}
	defer rows.Close()
	var out []domain.MatrixCell
	for rows.Next() {
		var c domain.MatrixCell
		if err := rows.Scan(&c.ID, &c.MatrixID, &c.CompanyID, &c.Status, &c.CellType, &c.CurrentAnswerSetID, &c.CellSignature, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=cell.scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
