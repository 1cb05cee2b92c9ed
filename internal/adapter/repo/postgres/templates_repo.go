package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/latticehq/lattice/internal/domain"
)

// TemplateRepo persists matrix template variables and their question links.
type TemplateRepo struct{ Pool PgxPool }

// NewTemplateRepo constructs a TemplateRepo with the given pool.
func NewTemplateRepo(p PgxPool) *TemplateRepo { return &TemplateRepo{Pool: p} }

// ListMatrixVariables returns all non-deleted variables of a matrix.
func (r *TemplateRepo) ListMatrixVariables(ctx domain.Context, matrixID int64) ([]domain.MatrixTemplateVariable, error) {
	tracer := otel.Tracer("repo.templates")
	ctx, span := tracer.Start(ctx, "templates.ListMatrixVariables")
	defer span.End()
	q := `SELECT id, matrix_id, template_string, value FROM matrix_template_variable WHERE matrix_id=$1 AND NOT deleted ORDER BY id`
	rows, err := r.Pool.Query(ctx, q, matrixID)
	if err != nil {
		return nil, fmt.Errorf("op=template.list_vars: %w", err)
	}
	defer rows.Close()
	var out []domain.MatrixTemplateVariable
	for rows.Next() {
		var v domain.MatrixTemplateVariable
		if err := rows.Scan(&v.ID, &v.MatrixID, &v.TemplateString, &v.Value); err != nil {
			return nil, fmt.Errorf("op=template.list_vars: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetMatrixVariable loads one variable within a matrix.
func (r *TemplateRepo) GetMatrixVariable(ctx domain.Context, matrixID, variableID int64) (domain.MatrixTemplateVariable, error) {
	tracer := otel.Tracer("repo.templates")
	ctx, span := tracer.Start(ctx, "templates.GetMatrixVariable")
	defer span.End()
	q := `SELECT id, matrix_id, template_string, value FROM matrix_template_variable WHERE id=$1 AND matrix_id=$2 AND NOT deleted`
	var v domain.MatrixTemplateVariable
	if err := r.Pool.QueryRow(ctx, q, variableID, matrixID).Scan(&v.ID, &v.MatrixID, &v.TemplateString, &v.Value); err != nil {
		if err == pgx.ErrNoRows {
			return domain.MatrixTemplateVariable{}, fmt.Errorf("op=template.get_var: %w", domain.ErrNotFound)
		}
		return domain.MatrixTemplateVariable{}, fmt.Errorf("op=template.get_var: %w", err)
	}
	return v, nil
}

// ListQuestionAssociations returns all associations for a question, including
// soft-deleted ones so callers can restore them.
func (r *TemplateRepo) ListQuestionAssociations(ctx domain.Context, questionID int64) ([]domain.QuestionTemplateVariable, error) {
	tracer := otel.Tracer("repo.templates")
	ctx, span := tracer.Start(ctx, "templates.ListQuestionAssociations")
	defer span.End()
	q := `SELECT id, question_id, template_variable_id, deleted FROM question_template_variable WHERE question_id=$1 ORDER BY id`
	rows, err := r.Pool.Query(ctx, q, questionID)
	if err != nil {
		return nil, fmt.Errorf("op=template.list_assocs: %w", err)
	}
	defer rows.Close()
	var out []domain.QuestionTemplateVariable
	for rows.Next() {
		var a domain.QuestionTemplateVariable
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.TemplateVariableID, &a.Deleted); err != nil {
			return nil, fmt.Errorf("op=template.list_assocs: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateQuestionAssociation links a question to a template variable.
func (r *TemplateRepo) CreateQuestionAssociation(ctx domain.Context, questionID, variableID int64) error {
	tracer := otel.Tracer("repo.templates")
	ctx, span := tracer.Start(ctx, "templates.CreateQuestionAssociation")
	defer span.End()
	q := `INSERT INTO question_template_variable (question_id, template_variable_id) VALUES ($1,$2)`
	if _, err := r.Pool.Exec(ctx, q, questionID, variableID); err != nil {
		return fmt.Errorf("op=template.create_assoc: %w", err)
	}
	return nil
}

// RestoreQuestionAssociation undeletes a soft-deleted association.
func (r *TemplateRepo) RestoreQuestionAssociation(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.templates")
	ctx, span := tracer.Start(ctx, "templates.RestoreQuestionAssociation")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `UPDATE question_template_variable SET deleted=false WHERE id=$1`, id); err != nil {
		return fmt.Errorf("op=template.restore_assoc: %w", err)
	}
	return nil
}

// SoftDeleteQuestionAssociation marks an association deleted.
func (r *TemplateRepo) SoftDeleteQuestionAssociation(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.templates")
	ctx, span := tracer.Start(ctx, "templates.SoftDeleteQuestionAssociation")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `UPDATE question_template_variable SET deleted=true WHERE id=$1`, id); err != nil {
		return fmt.Errorf("op=template.delete_assoc: %w", err)
	}
	return nil
}
