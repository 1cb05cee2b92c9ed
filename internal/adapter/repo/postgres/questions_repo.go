package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/latticehq/lattice/internal/domain"
)

// QuestionRepo loads and updates questions.
type QuestionRepo struct{ Pool PgxPool }

// NewQuestionRepo constructs a QuestionRepo with the given pool.
func NewQuestionRepo(p PgxPool) *QuestionRepo { return &QuestionRepo{Pool: p} }

// Get loads a non-deleted question scoped to a tenant.
func (r *QuestionRepo) Get(ctx domain.Context, companyID, id int64) (domain.Question, error) {
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.Get")
	defer span.End()
	q := `SELECT id, company_id, text, question_type_id, use_agent_qa, min_answers, max_answers
	      FROM question WHERE id=$1 AND company_id=$2 AND NOT deleted`
	var out domain.Question
	if err := r.Pool.QueryRow(ctx, q, id, companyID).Scan(&out.ID, &out.CompanyID, &out.Text, &out.QuestionTypeID, &out.UseAgentQA, &out.MinAnswers, &out.MaxAnswers); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Question{}, fmt.Errorf("op=question.get: %w", domain.ErrNotFound)
		}
		return domain.Question{}, fmt.Errorf("op=question.get: %w", err)
	}
	return out, nil
}

// UpdateText replaces a question's text.
func (r *QuestionRepo) UpdateText(ctx domain.Context, companyID, id int64, text string) error {
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.UpdateText")
	defer span.End()
	q := `UPDATE question SET text=$3 WHERE id=$1 AND company_id=$2 AND NOT deleted`
	if _, err := r.Pool.Exec(ctx, q, id, companyID, text); err != nil {
		return fmt.Errorf("op=question.update_text: %w", err)
	}
	return nil
}
