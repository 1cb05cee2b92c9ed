package usecase

import (
	"fmt"
	"log/slog"

	"github.com/latticehq/lattice/internal/domain"
	"github.com/latticehq/lattice/internal/observability"
)

// BatchService expands entity-set changes into cells and QA jobs, then fans
// the jobs out to the broker.
type BatchService struct {
	Matrices   domain.MatrixRepository
	EntitySets domain.EntitySetRepository
	Cells      domain.CellRepository
	Jobs       domain.QAJobRepository
	Queue      domain.Queue
}

// NewBatchService constructs a BatchService.
func NewBatchService(m domain.MatrixRepository, es domain.EntitySetRepository, c domain.CellRepository, j domain.QAJobRepository, q domain.Queue) BatchService {
	return BatchService{Matrices: m, EntitySets: es, Cells: c, Jobs: j, Queue: q}
}

// ProcessEntityAddedToSet applies the matrix's strategy to a newly added
// member, creates the missing cells (and QUEUED jobs when createJobs), and
// publishes the jobs. The unique signature index is the correctness fence:
// racing duplicates are dropped, so calling this twice with the same inputs
// is idempotent.
func (s BatchService) ProcessEntityAddedToSet(ctx domain.Context, companyID, matrixID, entitySetID, memberID int64, createJobs bool) ([]domain.MatrixCell, []domain.QAJob, error) {
	m, err := s.Matrices.Get(ctx, companyID, matrixID)
	if err != nil {
		return nil, nil, fmt.Errorf("op=batch.process: %w", err)
	}
	strategy, err := StrategyFor(m.MatrixType)
	if err != nil {
		return nil, nil, fmt.Errorf("op=batch.process: %w", err)
	}

	in, err := s.loadStrategyInput(ctx, m, entitySetID, memberID)
	if err != nil {
		return nil, nil, fmt.Errorf("op=batch.process: %w", err)
	}
	specs := strategy.SpecsForNewEntity(in)
	if len(specs) == 0 {
		return nil, nil, nil
	}

	existing, err := s.Cells.ListSignatures(ctx, matrixID)
	if err != nil {
		return nil, nil, fmt.Errorf("op=batch.process: %w", err)
	}
	fresh := specs[:0]
	for _, spec := range specs {
		if _, dup := existing[spec.Signature]; !dup {
			fresh = append(fresh, spec)
		}
	}
	if len(fresh) == 0 {
		return nil, nil, nil
	}

	cells, jobs, err := s.Cells.CreateCellsWithRefs(ctx, companyID, matrixID, fresh, createJobs)
	if err != nil {
		return nil, nil, fmt.Errorf("op=batch.process: %w", err)
	}
	observability.CellsCreatedTotal.WithLabelValues(string(m.MatrixType)).Add(float64(len(cells)))

	if createJobs && len(jobs) > 0 {
		if err := s.publishJobs(ctx, jobs); err != nil {
			// Cells stay PENDING; reprocessing can re-enqueue them.
			slog.Error("job publish failed after cell creation",
				slog.Int64("matrix_id", matrixID), slog.Int("jobs", len(jobs)), slog.Any("error", err))
		}
	}
	return cells, jobs, nil
}

// publishJobs sends QA job messages; on failure every affected job is
// downgraded to FAILED, in the database and in the slice handed back to the
// caller, so nothing appears in-flight that never reached the broker.
func (s BatchService) publishJobs(ctx domain.Context, jobs []domain.QAJob) error {
	msgs := make([]domain.QAJobMessage, len(jobs))
	for i, j := range jobs {
		msgs[i] = domain.QAJobMessage{JobID: j.ID, MatrixCellID: j.MatrixCellID}
	}
	if err := s.Queue.PublishQAJobs(ctx, msgs); err != nil {
		for i := range jobs {
			if uerr := s.Jobs.UpdateStatus(ctx, jobs[i].ID, domain.JobFailed, "Failed to queue job"); uerr != nil {
				slog.Error("failed to mark job failed", slog.Int64("job_id", jobs[i].ID), slog.Any("error", uerr))
				continue
			}
			jobs[i].Status = domain.JobFailed
			jobs[i].ErrorMessage = "Failed to queue job"
		}
		return err
	}
	return nil
}

func (s BatchService) loadStrategyInput(ctx domain.Context, m domain.Matrix, entitySetID, memberID int64) (StrategyInput, error) {
	sets, err := s.EntitySets.ListSetsByMatrix(ctx, m.CompanyID, m.ID)
	if err != nil {
		return StrategyInput{}, err
	}
	in := StrategyInput{Matrix: m, Sets: sets, Members: make(map[int64][]domain.EntitySetMember, len(sets))}
	for _, set := range sets {
		members, err := s.EntitySets.ListMembers(ctx, set.ID)
		if err != nil {
			return StrategyInput{}, err
		}
		in.Members[set.ID] = members
		if set.ID == entitySetID {
			in.NewSet = set
			for _, mem := range members {
				if mem.ID == memberID {
					in.NewMember = mem
				}
			}
		}
	}
	if in.NewSet.ID == 0 {
		return StrategyInput{}, fmt.Errorf("%w: entity set %d not in matrix %d", domain.ErrNotFound, entitySetID, m.ID)
	}
	if in.NewMember.ID == 0 {
		return StrategyInput{}, fmt.Errorf("%w: member %d not in set %d", domain.ErrNotFound, memberID, entitySetID)
	}
	return in, nil
}
