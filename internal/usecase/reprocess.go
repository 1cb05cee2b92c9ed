package usecase

import (
	"fmt"
	"log/slog"

	"github.com/latticehq/lattice/internal/domain"
)

// ReprocessRequest selects cells for re-queueing. Exactly one selector should
// be set; they are evaluated in the order WholeMatrix, CellIDs, Filters.
type ReprocessRequest struct {
	WholeMatrix bool                     `json:"whole_matrix"`
	CellIDs     []int64                  `json:"cell_ids"`
	Filters     []domain.EntitySetFilter `json:"entity_set_filters"`
}

// ReprocessService re-enqueues existing cells for QA.
type ReprocessService struct {
	Cells domain.CellRepository
	Jobs  domain.QAJobRepository
	Queue domain.Queue
}

// NewReprocessService constructs a ReprocessService.
func NewReprocessService(c domain.CellRepository, j domain.QAJobRepository, q domain.Queue) ReprocessService {
	return ReprocessService{Cells: c, Jobs: j, Queue: q}
}

// Reprocess creates a fresh QUEUED job per selected cell and publishes the
// batch. Returns the jobs created; publish failure downgrades them to FAILED.
func (s ReprocessService) Reprocess(ctx domain.Context, companyID, matrixID int64, req ReprocessRequest) ([]domain.QAJob, error) {
	cells, err := s.selectCells(ctx, companyID, matrixID, req)
	if err != nil {
		return nil, fmt.Errorf("op=reprocess: %w", err)
	}
	if len(cells) == 0 {
		return nil, nil
	}

	jobs := make([]domain.QAJob, 0, len(cells))
	msgs := make([]domain.QAJobMessage, 0, len(cells))
	for _, cell := range cells {
		job := domain.QAJob{MatrixCellID: cell.ID, CompanyID: companyID, Status: domain.JobQueued}
		id, err := s.Jobs.Create(ctx, job)
		if err != nil {
			return jobs, fmt.Errorf("op=reprocess cell=%d: %w", cell.ID, err)
		}
		job.ID = id
		jobs = append(jobs, job)
		msgs = append(msgs, domain.QAJobMessage{JobID: id, MatrixCellID: cell.ID})
	}

	if err := s.Queue.PublishQAJobs(ctx, msgs); err != nil {
		for _, j := range jobs {
			if uerr := s.Jobs.UpdateStatus(ctx, j.ID, domain.JobFailed, "Failed to queue job"); uerr != nil {
				slog.Error("failed to mark job failed", slog.Int64("job_id", j.ID), slog.Any("error", uerr))
			}
		}
		return jobs, fmt.Errorf("op=reprocess publish: %w", err)
	}
	return jobs, nil
}

func (s ReprocessService) selectCells(ctx domain.Context, companyID, matrixID int64, req ReprocessRequest) ([]domain.MatrixCell, error) {
	switch {
	case req.WholeMatrix:
		return s.Cells.ListByMatrix(ctx, companyID, matrixID)
	case len(req.CellIDs) > 0:
		return s.Cells.ListByIDs(ctx, companyID, req.CellIDs)
	case len(req.Filters) > 0:
		return s.Cells.ListByEntityFilters(ctx, companyID, matrixID, req.Filters)
	default:
		return nil, fmt.Errorf("%w: empty reprocess selector", domain.ErrInvalidArgument)
	}
}
