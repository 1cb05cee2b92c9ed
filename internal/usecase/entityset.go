package usecase

import (
	"errors"
	"fmt"

	"github.com/latticehq/lattice/internal/domain"
)

// EntitySetService manages entity sets and their members.
type EntitySetService struct {
	EntitySets domain.EntitySetRepository
	Batch      BatchService
}

// NewEntitySetService constructs an EntitySetService.
func NewEntitySetService(es domain.EntitySetRepository, batch BatchService) EntitySetService {
	return EntitySetService{EntitySets: es, Batch: batch}
}

// CreateEntitySet attaches a new empty set to a matrix.
func (s EntitySetService) CreateEntitySet(ctx domain.Context, set domain.EntitySet) (domain.EntitySet, error) {
	if set.Name == "" {
		return domain.EntitySet{}, fmt.Errorf("%w: entity set name required", domain.ErrInvalidArgument)
	}
	switch set.EntityType {
	case domain.EntityDocument, domain.EntityQuestion:
	default:
		return domain.EntitySet{}, fmt.Errorf("%w: unknown entity type %q", domain.ErrInvalidArgument, set.EntityType)
	}
	id, err := s.EntitySets.CreateSet(ctx, set)
	if err != nil {
		return domain.EntitySet{}, fmt.Errorf("op=entityset.create: %w", err)
	}
	set.ID = id
	return set, nil
}

// AddMembersBatch creates members for the given entity ids in input order,
// skipping ids already in the set. A racing duplicate insert surfaces as
// ErrAlreadyExists; the caller retries idempotently.
func (s EntitySetService) AddMembersBatch(ctx domain.Context, companyID, entitySetID int64, entityIDs []int64, entityType domain.EntityType) ([]domain.EntitySetMember, error) {
	set, err := s.EntitySets.GetSet(ctx, companyID, entitySetID)
	if err != nil {
		return nil, fmt.Errorf("op=entityset.add_members: %w", err)
	}
	if set.EntityType != entityType {
		return nil, fmt.Errorf("%w: set %d holds %s entities, got %s", domain.ErrInvalidArgument, entitySetID, set.EntityType, entityType)
	}

	existing, err := s.EntitySets.ListMembers(ctx, entitySetID)
	if err != nil {
		return nil, fmt.Errorf("op=entityset.add_members: %w", err)
	}
	present := make(map[int64]struct{}, len(existing))
	nextOrder := 0
	for _, m := range existing {
		present[m.EntityID] = struct{}{}
		if m.MemberOrder >= nextOrder {
			nextOrder = m.MemberOrder + 1
		}
	}

	var toCreate []domain.EntitySetMember
	for _, id := range entityIDs {
		if _, ok := present[id]; ok {
			continue
		}
		present[id] = struct{}{}
		toCreate = append(toCreate, domain.EntitySetMember{
			EntitySetID: entitySetID,
			EntityType:  entityType,
			EntityID:    id,
			MemberOrder: nextOrder,
		})
		nextOrder++
	}
	if len(toCreate) == 0 {
		return nil, nil
	}

	created, err := s.EntitySets.AddMembers(ctx, toCreate)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("op=entityset.add_members: %w", err)
	}
	return created, nil
}

// AddMembersAndExpand adds members and runs the matrix strategy for each new
// member, creating cells and QA jobs.
func (s EntitySetService) AddMembersAndExpand(ctx domain.Context, companyID, matrixID, entitySetID int64, entityIDs []int64, entityType domain.EntityType) ([]domain.EntitySetMember, []domain.MatrixCell, error) {
	created, err := s.AddMembersBatch(ctx, companyID, entitySetID, entityIDs, entityType)
	if err != nil {
		return nil, nil, err
	}
	var allCells []domain.MatrixCell
	for _, m := range created {
		cells, _, err := s.Batch.ProcessEntityAddedToSet(ctx, companyID, matrixID, entitySetID, m.ID, true)
		if err != nil {
			return created, allCells, fmt.Errorf("op=entityset.expand member=%d: %w", m.ID, err)
		}
		allCells = append(allCells, cells...)
	}
	return created, allCells, nil
}

// ListMatrixEntitySets returns all non-deleted sets of a matrix in creation
// order.
func (s EntitySetService) ListMatrixEntitySets(ctx domain.Context, companyID, matrixID int64) ([]domain.EntitySet, error) {
	sets, err := s.EntitySets.ListSetsByMatrix(ctx, companyID, matrixID)
	if err != nil {
		return nil, fmt.Errorf("op=entityset.list: %w", err)
	}
	return sets, nil
}
