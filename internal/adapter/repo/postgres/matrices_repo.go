package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/latticehq/lattice/internal/domain"
)

// MatrixRepo persists and loads matrices.
type MatrixRepo struct{ Pool PgxPool }

// NewMatrixRepo constructs a MatrixRepo with the given pool.
func NewMatrixRepo(p PgxPool) *MatrixRepo { return &MatrixRepo{Pool: p} }

// Create inserts a matrix and returns its id.
func (r *MatrixRepo) Create(ctx domain.Context, m domain.Matrix) (int64, error) {
	tracer := otel.Tracer("repo.matrices")
	ctx, span := tracer.Start(ctx, "matrices.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "matrix"),
	)
	q := `INSERT INTO matrix (workspace_id, company_id, name, description, matrix_type, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$6) RETURNING id`
	var id int64
	now := time.Now().UTC()
	if err := r.Pool.QueryRow(ctx, q, m.WorkspaceID, m.CompanyID, m.Name, m.Description, m.MatrixType, now).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=matrix.create: %w", err)
	}
	return id, nil
}

// Get loads a non-deleted matrix scoped to a tenant.
func (r *MatrixRepo) Get(ctx domain.Context, companyID, id int64) (domain.Matrix, error) {
	tracer := otel.Tracer("repo.matrices")
	ctx, span := tracer.Start(ctx, "matrices.Get")
	defer span.End()
	q := `SELECT id, workspace_id, company_id, name, COALESCE(description,''), matrix_type, created_at, updated_at
	      FROM matrix WHERE id=$1 AND company_id=$2 AND NOT deleted`
	row := r.Pool.QueryRow(ctx, q, id, companyID)
	var m domain.Matrix
	if err := row.Scan(&m.ID, &m.WorkspaceID, &m.CompanyID, &m.Name, &m.Description, &m.MatrixType, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Matrix{}, fmt.Errorf("op=matrix.get: %w", domain.ErrNotFound)
		}
		return domain.Matrix{}, fmt.Errorf("op=matrix.get: %w", err)
	}
	return m, nil
}
