package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/latticehq/lattice/internal/domain"
)

// AnswerRepo persists answer sets, answers and citations.
type AnswerRepo struct{ Pool PgxPool }

// NewAnswerRepo constructs an AnswerRepo with the given pool.
func NewAnswerRepo(p PgxPool) *AnswerRepo { return &AnswerRepo{Pool: p} }

// PersistAnswerSet writes the whole answer tree in one transaction:
// answer_set, answers with serialized data, one citation_set per answer,
// ordered citations, and the current pointers. Confidence is the arithmetic
// mean of per-answer confidences (0 for an empty set).
func (r *AnswerRepo) PersistAnswerSet(ctx domain.Context, cellID, questionTypeID int64, set domain.AIAnswerSet, setCurrent bool) (domain.AnswerSet, error) {
	tracer := otel.Tracer("repo.answers")
	ctx, span := tracer.Start(ctx, "answers.PersistAnswerSet")
	defer span.End()
	span.SetAttributes(attribute.Int("answers.count", len(set.Answers)))

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.AnswerSet{}, fmt.Errorf("op=answers.persist: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	confidence := 0.0
	for _, a := range set.Answers {
		confidence += a.Confidence
	}
	if len(set.Answers) > 0 {
		confidence /= float64(len(set.Answers))
	}

	out := domain.AnswerSet{
		MatrixCellID:   cellID,
		QuestionTypeID: questionTypeID,
		AnswerFound:    len(set.Answers) > 0,
		Confidence:     confidence,
		CreatedAt:      now,
	}
	if err := tx.QueryRow(ctx,
		`INSERT INTO answer_set (matrix_cell_id, question_type_id, answer_found, confidence, created_at)
		 VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		cellID, questionTypeID, out.AnswerFound, out.Confidence, now,
	).Scan(&out.ID); err != nil {
		return domain.AnswerSet{}, fmt.Errorf("op=answers.persist_set: %w", err)
	}

	for _, a := range set.Answers {
		data, err := domain.MarshalAnswerData(a.Data)
		if err != nil {
			return domain.AnswerSet{}, fmt.Errorf("op=answers.persist_answer: %w", err)
		}
		var answerID int64
		if err := tx.QueryRow(ctx,
			`INSERT INTO answer (answer_set_id, answer_data_json) VALUES ($1,$2) RETURNING id`,
			out.ID, data,
		).Scan(&answerID); err != nil {
			return domain.AnswerSet{}, fmt.Errorf("op=answers.persist_answer: %w", err)
		}
		var citationSetID int64
		if err := tx.QueryRow(ctx,
			`INSERT INTO citation_set (answer_id) VALUES ($1) RETURNING id`, answerID,
		).Scan(&citationSetID); err != nil {
			return domain.AnswerSet{}, fmt.Errorf("op=answers.persist_citation_set: %w", err)
		}
		for i, c := range a.Citations {
			if _, err := tx.Exec(ctx,
				`INSERT INTO citation (citation_set_id, document_id, citation_order, quote_text) VALUES ($1,$2,$3,$4)`,
				citationSetID, c.DocumentID, i, c.QuoteText,
			); err != nil {
				return domain.AnswerSet{}, fmt.Errorf("op=answers.persist_citation: %w", err)
			}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE answer SET current_citation_set_id=$2 WHERE id=$1`, answerID, citationSetID,
		); err != nil {
			return domain.AnswerSet{}, fmt.Errorf("op=answers.persist_answer: %w", err)
		}
	}

	if setCurrent {
		if _, err := tx.Exec(ctx,
			`UPDATE matrix_cell SET current_answer_set_id=$2, updated_at=$3 WHERE id=$1`,
			cellID, out.ID, now,
		); err != nil {
			return domain.AnswerSet{}, fmt.Errorf("op=answers.set_current: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.AnswerSet{}, fmt.Errorf("op=answers.persist: %w", err)
	}
	return out, nil
}

// GetAnswerSet loads an answer set by id.
func (r *AnswerRepo) GetAnswerSet(ctx domain.Context, id int64) (domain.AnswerSet, error) {
	tracer := otel.Tracer("repo.answers")
	ctx, span := tracer.Start(ctx, "answers.GetAnswerSet")
	defer span.End()
	q := `SELECT id, matrix_cell_id, question_type_id, answer_found, confidence, created_at FROM answer_set WHERE id=$1`
	var s domain.AnswerSet
	if err := r.Pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.MatrixCellID, &s.QuestionTypeID, &s.AnswerFound, &s.Confidence, &s.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.AnswerSet{}, fmt.Errorf("op=answers.get_set: %w", domain.ErrNotFound)
		}
		return domain.AnswerSet{}, fmt.Errorf("op=answers.get_set: %w", err)
	}
	return s, nil
}
