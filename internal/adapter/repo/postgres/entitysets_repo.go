package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/latticehq/lattice/internal/domain"
)

// EntitySetRepo persists entity sets and their ordered members.
type EntitySetRepo struct{ Pool PgxPool }

// NewEntitySetRepo constructs an EntitySetRepo with the given pool.
func NewEntitySetRepo(p PgxPool) *EntitySetRepo { return &EntitySetRepo{Pool: p} }

// CreateSet inserts an entity set and returns its id.
func (r *EntitySetRepo) CreateSet(ctx domain.Context, s domain.EntitySet) (int64, error) {
	tracer := otel.Tracer("repo.entitysets")
	ctx, span := tracer.Start(ctx, "entitysets.CreateSet")
	defer span.End()
	q := `INSERT INTO entity_set (matrix_id, company_id, name, entity_type, created_at)
	      VALUES ($1,$2,$3,$4,$5) RETURNING id`
	var id int64
	if err := r.Pool.QueryRow(ctx, q, s.MatrixID, s.CompanyID, s.Name, s.EntityType, time.Now().UTC()).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=entityset.create: %w", err)
	}
	return id, nil
}

// GetSet loads a non-deleted entity set scoped to a tenant.
func (r *EntitySetRepo) GetSet(ctx domain.Context, companyID, id int64) (domain.EntitySet, error) {
	tracer := otel.Tracer("repo.entitysets")
	ctx, span := tracer.Start(ctx, "entitysets.GetSet")
	defer span.End()
	q := `SELECT id, matrix_id, company_id, name, entity_type, created_at
	      FROM entity_set WHERE id=$1 AND company_id=$2 AND NOT deleted`
	var s domain.EntitySet
	if err := r.Pool.QueryRow(ctx, q, id, companyID).Scan(&s.ID, &s.MatrixID, &s.CompanyID, &s.Name, &s.EntityType, &s.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.EntitySet{}, fmt.Errorf("op=entityset.get: %w", domain.ErrNotFound)
		}
		return domain.EntitySet{}, fmt.Errorf("op=entityset.get: %w", err)
	}
	return s, nil
}

// ListSetsByMatrix returns all non-deleted sets of a matrix in creation order.
func (r *EntitySetRepo) ListSetsByMatrix(ctx domain.Context, companyID, matrixID int64) ([]domain.EntitySet, error) {
	tracer := otel.Tracer("repo.entitysets")
	ctx, span := tracer.Start(ctx, "entitysets.ListSetsByMatrix")
	defer span.End()
	q := `SELECT id, matrix_id, company_id, name, entity_type, created_at
	      FROM entity_set WHERE matrix_id=$1 AND company_id=$2 AND NOT deleted ORDER BY id`
	rows, err := r.Pool.Query(ctx, q, matrixID, companyID)
	if err != nil {
		return nil, fmt.Errorf("op=entityset.list: %w", err)
	}
	defer rows.Close()
	var out []domain.EntitySet
	for rows.Next() {
		var s domain.EntitySet
		if err := rows.Scan(&s.ID, &s.MatrixID, &s.CompanyID, &s.Name, &s.EntityType, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=entityset.list: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AddMembers inserts members preserving the provided order. A unique
// violation on (entity_set_id, entity_type, entity_id) surfaces as
// ErrAlreadyExists so callers can retry idempotently.
func (r *EntitySetRepo) AddMembers(ctx domain.Context, members []domain.EntitySetMember) ([]domain.EntitySetMember, error) {
	tracer := otel.Tracer("repo.entitysets")
	ctx, span := tracer.Start(ctx, "entitysets.AddMembers")
	defer span.End()
	if len(members) == 0 {
		return nil, nil
	}
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("op=entityset.add_members: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]domain.EntitySetMember, 0, len(members))
	q := `INSERT INTO entity_set_member (entity_set_id, entity_type, entity_id, member_order, label)
	      VALUES ($1,$2,$3,$4,$5) RETURNING id`
	for _, m := range members {
		var id int64
		if err := tx.QueryRow(ctx, q, m.EntitySetID, m.EntityType, m.EntityID, m.MemberOrder, m.Label).Scan(&id); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return nil, fmt.Errorf("op=entityset.add_members: %w", domain.ErrAlreadyExists)
			}
			return nil, fmt.Errorf("op=entityset.add_members: %w", err)
		}
		m.ID = id
		out = append(out, m)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("op=entityset.add_members: %w", err)
	}
	return out, nil
}

// ListMembers returns the non-deleted members of a set in member order.
func (r *EntitySetRepo) ListMembers(ctx domain.Context, entitySetID int64) ([]domain.EntitySetMember, error) {
	tracer := otel.Tracer("repo.entitysets")
	ctx, span := tracer.Start(ctx, "entitysets.ListMembers")
	defer span.End()
	q := `SELECT id, entity_set_id, entity_type, entity_id, member_order, COALESCE(label,'')
	      FROM entity_set_member WHERE entity_set_id=$1 AND NOT deleted ORDER BY member_order, id`
	rows, err := r.Pool.Query(ctx, q, entitySetID)
	if err != nil {
		return nil, fmt.Errorf("op=entityset.list_members: %w", err)
	}
	defer rows.Close()
	var out []domain.EntitySetMember
	for rows.Next() {
		var m domain.EntitySetMember
		if err := rows.Scan(&m.ID, &m.EntitySetID, &m.EntityType, &m.EntityID, &m.MemberOrder, &m.Label); err != nil {
			return nil, fmt.Errorf("op=entityset.list_members: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMember loads one member by id.
func (r *EntitySetRepo) GetMember(ctx domain.Context, id int64) (domain.EntitySetMember, error) {
	tracer := otel.Tracer("repo.entitysets")
	ctx, span := tracer.Start(ctx, "entitysets.GetMember")
	defer span.End()
	q := `SELECT id, entity_set_id, entity_type, entity_id, member_order, COALESCE(label,'')
	      FROM entity_set_member WHERE id=$1 AND NOT deleted`
	var m domain.EntitySetMember
	if err := r.Pool.QueryRow(ctx, q, id).Scan(&m.ID, &m.EntitySetID, &m.EntityType, &m.EntityID, &m.MemberOrder, &m.Label); err != nil {
		if err == pgx.ErrNoRows {
			return domain.EntitySetMember{}, fmt.Errorf("op=entityset.get_member: %w", domain.ErrNotFound)
		}
		return domain.EntitySetMember{}, fmt.Errorf("op=entityset.get_member: %w", err)
	}
	return m, nil
}
