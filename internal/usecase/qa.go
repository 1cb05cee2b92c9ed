package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/latticehq/lattice/internal/config"
	"github.com/latticehq/lattice/internal/domain"
	"github.com/latticehq/lattice/internal/observability"
)

const (
	noteLockHeld      = "Cell being processed by another worker"
	noteCellCompleted = "Cell already completed"

	contextChunkLimit = 12
)

// QAService consumes QA job messages and drives cells to completion. The
// distributed lock, not the broker, is the correctness primitive: at most one
// worker processes a cell at a time, and duplicate jobs collapse against the
// lock or the COMPLETED short-circuit.
type QAService struct {
	Cfg        config.Config
	Lock       domain.DistributedLock
	Jobs       domain.QAJobRepository
	Cells      domain.CellRepository
	Matrices   domain.MatrixRepository
	EntitySets domain.EntitySetRepository
	Questions  domain.QuestionRepository
	Answers    domain.AnswerRepository
	Templates  TemplateService
	Search     SearchService
	AI         domain.AIClient
	Workflows  domain.WorkflowStarter
}

// cellLockKey names the per-cell lock resource.
func cellLockKey(cellID int64) string { return fmt.Sprintf("matrix_cell:%d", cellID) }

// HandleQAJob processes one queue message. A returned error signals the
// consumer to dead-letter the message; lock contention and terminal cells are
// handled in place and return nil.
func (s QAService) HandleQAJob(ctx domain.Context, msg domain.QAJobMessage) error {
	token, ok, err := s.Lock.Acquire(ctx, cellLockKey(msg.MatrixCellID), s.Cfg.QALockTTL)
	if err != nil {
		return fmt.Errorf("op=qa.handle: %w", err)
	}
	if !ok {
		observability.LockContentionTotal.WithLabelValues("matrix_cell").Inc()
		if err := s.Jobs.UpdateStatus(ctx, msg.JobID, domain.JobCompleted, noteLockHeld); err != nil {
			return fmt.Errorf("op=qa.handle: %w", err)
		}
		return nil
	}
	defer func() {
		if _, rerr := s.Lock.Release(ctx, cellLockKey(msg.MatrixCellID), token); rerr != nil {
			slog.Error("lock release failed", slog.Int64("cell_id", msg.MatrixCellID), slog.Any("error", rerr))
		}
	}()

	// PROCESSING while the lock is held, so a worker crash leaves a state the
	// stuck-job sweeper can find.
	if err := s.Jobs.UpdateStatus(ctx, msg.JobID, domain.JobProcessing, ""); err != nil {
		return fmt.Errorf("op=qa.handle: %w", err)
	}

	cell, err := s.Cells.Get(ctx, msg.MatrixCellID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			_ = s.Jobs.UpdateStatus(ctx, msg.JobID, domain.JobFailed, "cell not found")
			observability.FailJob("qa")
			return nil
		}
		return fmt.Errorf("op=qa.handle: %w", err)
	}
	if cell.Status == domain.CellCompleted {
		if err := s.Jobs.UpdateStatus(ctx, msg.JobID, domain.JobCompleted, noteCellCompleted); err != nil {
			return fmt.Errorf("op=qa.handle: %w", err)
		}
		return nil
	}

	matrix, err := s.Matrices.Get(ctx, cell.CompanyID, cell.MatrixID)
	if err != nil {
		return s.failCell(ctx, cell, msg.JobID, fmt.Errorf("load matrix: %w", err))
	}
	strategy, err := StrategyFor(matrix.MatrixType)
	if err != nil {
		return s.failCell(ctx, cell, msg.JobID, err)
	}
	data, err := s.loadCellData(ctx, strategy, cell)
	if err != nil {
		return s.failCell(ctx, cell, msg.JobID, err)
	}
	question, err := s.Questions.Get(ctx, cell.CompanyID, data.QuestionID)
	if err != nil {
		return s.failCell(ctx, cell, msg.JobID, fmt.Errorf("load question: %w", err))
	}

	if question.UseAgentQA {
		in := domain.AgentQAInput{
			JobID:          msg.JobID,
			CellID:         cell.ID,
			DocumentIDs:    data.DocumentIDs,
			QuestionText:   question.Text,
			MatrixType:     matrix.MatrixType,
			QuestionTypeID: question.QuestionTypeID,
			QuestionID:     question.ID,
			CompanyID:      cell.CompanyID,
			MinAnswers:     question.MinAnswers,
			MaxAnswers:     question.MaxAnswers,
		}
		if err := s.Workflows.StartAgentQA(ctx, in); err != nil {
			return s.failCell(ctx, cell, msg.JobID, fmt.Errorf("start agent workflow: %w", err))
		}
		// Durability now lives in the workflow; this job is done.
		if err := s.Jobs.UpdateStatus(ctx, msg.JobID, domain.JobCompleted, ""); err != nil {
			return fmt.Errorf("op=qa.handle: %w", err)
		}
		return nil
	}

	if err := s.processCellToCompletion(ctx, matrix, cell, question, data); err != nil {
		return s.failCell(ctx, cell, msg.JobID, err)
	}
	if err := s.Jobs.UpdateStatus(ctx, msg.JobID, domain.JobCompleted, ""); err != nil {
		return fmt.Errorf("op=qa.handle: %w", err)
	}
	observability.CompleteJob("qa")
	return nil
}

// AnswerCellDirect drives one cell through retrieval, generation and
// persistence without queue-side locking. The agent workflow calls it from an
// activity; the deterministic workflow id stands in for the cell lock there.
func (s QAService) AnswerCellDirect(ctx domain.Context, cellID int64) error {
	cell, err := s.Cells.Get(ctx, cellID)
	if err != nil {
		return fmt.Errorf("op=qa.answer_direct: %w", err)
	}
	if cell.Status == domain.CellCompleted {
		return nil
	}
	matrix, err := s.Matrices.Get(ctx, cell.CompanyID, cell.MatrixID)
	if err != nil {
		return fmt.Errorf("op=qa.answer_direct: %w", err)
	}
	strategy, err := StrategyFor(matrix.MatrixType)
	if err != nil {
		return fmt.Errorf("op=qa.answer_direct: %w", err)
	}
	data, err := s.loadCellData(ctx, strategy, cell)
	if err != nil {
		return fmt.Errorf("op=qa.answer_direct: %w", err)
	}
	question, err := s.Questions.Get(ctx, cell.CompanyID, data.QuestionID)
	if err != nil {
		return fmt.Errorf("op=qa.answer_direct: %w", err)
	}
	if err := s.processCellToCompletion(ctx, matrix, cell, question, data); err != nil {
		return fmt.Errorf("op=qa.answer_direct cell=%d: %w", cellID, err)
	}
	return nil
}

// processCellToCompletion resolves the prompt, gathers context, asks the AI
// and persists the answer set, moving the cell to COMPLETED.
func (s QAService) processCellToCompletion(ctx domain.Context, matrix domain.Matrix, cell domain.MatrixCell, question domain.Question, data CellData) error {
	if err := s.Cells.UpdateStatus(ctx, cell.ID, domain.CellProcessing); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	prompt, err := s.buildPrompt(ctx, matrix, question, data)
	if err != nil {
		return err
	}

	hits, err := s.Search.Hybrid(ctx, prompt, domain.ChunkFilters{
		CompanyID:   cell.CompanyID,
		DocumentIDs: data.DocumentIDs,
	}, 0, contextChunkLimit)
	if err != nil {
		return fmt.Errorf("context search: %w", err)
	}
	chunks := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Content != "" {
			chunks = append(chunks, h.Content)
		}
	}

	set, err := s.AI.GenerateAnswers(ctx, domain.AIRequest{
		Question:       prompt,
		QuestionTypeID: question.QuestionTypeID,
		DocumentIDs:    data.DocumentIDs,
		ContextChunks:  chunks,
		MinAnswers:     question.MinAnswers,
		MaxAnswers:     question.MaxAnswers,
	})
	if err != nil {
		return fmt.Errorf("generate answers: %w", err)
	}

	if _, err := s.Answers.PersistAnswerSet(ctx, cell.ID, question.QuestionTypeID, set, true); err != nil {
		return fmt.Errorf("persist answers: %w", err)
	}
	if err := s.Cells.UpdateStatus(ctx, cell.ID, domain.CellCompleted); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// buildPrompt resolves #{{id}} variables and @{{ROLE}} placeholders in the
// question text.
func (s QAService) buildPrompt(ctx domain.Context, matrix domain.Matrix, question domain.Question, data CellData) (string, error) {
	text, err := s.Templates.ResolveVariables(ctx, matrix.ID, question.Text)
	if err != nil {
		return "", fmt.Errorf("resolve variables: %w", err)
	}
	members, err := s.membersByID(ctx, data.Refs)
	if err != nil {
		return "", err
	}
	text = ResolveRolePlaceholders(text, data.Refs, members)
	text = stripPlaceholderArtifacts(text)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty question after resolution", domain.ErrInvalidArgument)
	}
	return text, nil
}

// loadCellData resolves a cell's refs through the strategy.
func (s QAService) loadCellData(ctx domain.Context, strategy CellStrategy, cell domain.MatrixCell) (CellData, error) {
	refs, err := s.Cells.ListRefs(ctx, cell.ID)
	if err != nil {
		return CellData{}, fmt.Errorf("load refs: %w", err)
	}
	members, err := s.membersByID(ctx, refs)
	if err != nil {
		return CellData{}, err
	}
	return strategy.CellData(refs, members)
}

func (s QAService) membersByID(ctx domain.Context, refs []domain.CellEntityRef) (map[int64]domain.EntitySetMember, error) {
	members := make(map[int64]domain.EntitySetMember, len(refs))
	for _, r := range refs {
		if _, ok := members[r.EntitySetMemberID]; ok {
			continue
		}
		m, err := s.EntitySets.GetMember(ctx, r.EntitySetMemberID)
		if err != nil {
			return nil, fmt.Errorf("load member %d: %w", r.EntitySetMemberID, err)
		}
		members[r.EntitySetMemberID] = m
	}
	return members, nil
}

// failCell marks the cell and job FAILED and propagates the error so the
// consumer dead-letters the message.
func (s QAService) failCell(ctx domain.Context, cell domain.MatrixCell, jobID int64, cause error) error {
	if err := s.Cells.UpdateStatus(ctx, cell.ID, domain.CellFailed); err != nil {
		slog.Error("failed to mark cell failed", slog.Int64("cell_id", cell.ID), slog.Any("error", err))
	}
	if err := s.Jobs.UpdateStatus(ctx, jobID, domain.JobFailed, cause.Error()); err != nil {
		slog.Error("failed to mark job failed", slog.Int64("job_id", jobID), slog.Any("error", err))
	}
	observability.FailJob("qa")
	return fmt.Errorf("op=qa.handle cell=%d: %w", cell.ID, cause)
}
