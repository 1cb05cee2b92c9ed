package usecase

import (
	"fmt"

	"github.com/latticehq/lattice/internal/domain"
)

// StrategyInput is the matrix state a strategy expands from. Members maps
// entity set id to its non-deleted members in member order; NewMember is the
// member whose addition triggers the expansion and is already present in
// Members.
type StrategyInput struct {
	Matrix    domain.Matrix
	Sets      []domain.EntitySet
	Members   map[int64][]domain.EntitySetMember
	NewSet    domain.EntitySet
	NewMember domain.EntitySetMember
}

// CellData is the resolved content of one cell: the documents in scope and
// the question to ask, derived from the cell's refs.
type CellData struct {
	DocumentIDs []int64
	QuestionID  int64
	Refs        []domain.CellEntityRef
}

// CellStrategy maps entity-set changes to the cells that must exist, and
// resolves an existing cell's refs into CellData. Strategies are pure over
// their input: identical inputs yield identical specs and signatures.
type CellStrategy interface {
	SpecsForNewEntity(in StrategyInput) []domain.CellSpec
	CellData(refs []domain.CellEntityRef, members map[int64]domain.EntitySetMember) (CellData, error)
}

// StrategyFor selects the strategy for a matrix type.
func StrategyFor(t domain.MatrixType) (CellStrategy, error) {
	switch t {
	case domain.MatrixStandard:
		return StandardStrategy{}, nil
	case domain.MatrixCorrelation:
		return CorrelationStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown matrix type %q", domain.ErrInvalidArgument, t)
	}
}

// StandardStrategy produces one (DOCUMENT, QUESTION) cell per pairing.
type StandardStrategy struct{}

// SpecsForNewEntity pairs the new member against every member of the
// opposite kind.
func (StandardStrategy) SpecsForNewEntity(in StrategyInput) []domain.CellSpec {
	var docs, questions []memberRef
	for _, set := range in.Sets {
		for _, m := range in.Members[set.ID] {
			mr := memberRef{setID: set.ID, member: m}
			switch set.EntityType {
			case domain.EntityDocument:
				docs = append(docs, mr)
			case domain.EntityQuestion:
				questions = append(questions, mr)
			}
		}
	}

	newRef := memberRef{setID: in.NewSet.ID, member: in.NewMember}
	var specs []domain.CellSpec
	switch in.NewSet.EntityType {
	case domain.EntityDocument:
		for _, q := range questions {
			specs = append(specs, standardSpec(newRef, q))
		}
	case domain.EntityQuestion:
		for _, d := range docs {
			specs = append(specs, standardSpec(d, newRef))
		}
	}
	return specs
}

// CellData resolves a standard cell's two refs.
func (StandardStrategy) CellData(refs []domain.CellEntityRef, members map[int64]domain.EntitySetMember) (CellData, error) {
	if len(refs) != 2 {
		return CellData{}, fmt.Errorf("%w: standard cell with %d refs", domain.ErrInternal, len(refs))
	}
	var data CellData
	data.Refs = refs
	for _, r := range refs {
		m, ok := members[r.EntitySetMemberID]
		if !ok {
			return CellData{}, fmt.Errorf("%w: member %d", domain.ErrNotFound, r.EntitySetMemberID)
		}
		switch r.Role {
		case domain.RoleDocument:
			data.DocumentIDs = append(data.DocumentIDs, m.EntityID)
		case domain.RoleQuestion:
			data.QuestionID = m.EntityID
		default:
			return CellData{}, fmt.Errorf("%w: role %q on standard cell", domain.ErrInternal, r.Role)
		}
	}
	if len(data.DocumentIDs) != 1 || data.QuestionID == 0 {
		return CellData{}, fmt.Errorf("%w: standard cell missing document or question ref", domain.ErrInternal)
	}
	return data, nil
}

// CorrelationStrategy produces ordered (LEFT, RIGHT, QUESTION) triples,
// skipping self-pairs.
type CorrelationStrategy struct{}

// SpecsForNewEntity emits both orientations for every counterpart document
// when a document is added, or every ordered document pair when a question
// is added.
func (CorrelationStrategy) SpecsForNewEntity(in StrategyInput) []domain.CellSpec {
	var docs, questions []memberRef
	for _, set := range in.Sets {
		for _, m := range in.Members[set.ID] {
			mr := memberRef{setID: set.ID, member: m}
			switch set.EntityType {
			case domain.EntityDocument:
				docs = append(docs, mr)
			case domain.EntityQuestion:
				questions = append(questions, mr)
			}
		}
	}

	newRef := memberRef{setID: in.NewSet.ID, member: in.NewMember}
	var specs []domain.CellSpec
	switch in.NewSet.EntityType {
	case domain.EntityDocument:
		for _, d := range docs {
			if d.member.EntityID == newRef.member.EntityID {
				continue
			}
			for _, q := range questions {
				specs = append(specs,
					correlationSpec(newRef, d, q),
					correlationSpec(d, newRef, q),
				)
			}
		}
	case domain.EntityQuestion:
		for _, left := range docs {
			for _, right := range docs {
				if left.member.EntityID == right.member.EntityID {
					continue
				}
				specs = append(specs, correlationSpec(left, right, newRef))
			}
		}
	}
	return specs
}

// CellData resolves a correlation cell's three refs; LEFT and RIGHT are both
// documents in scope.
func (CorrelationStrategy) CellData(refs []domain.CellEntityRef, members map[int64]domain.EntitySetMember) (CellData, error) {
	if len(refs) != 3 {
		return CellData{}, fmt.Errorf("%w: correlation cell with %d refs", domain.ErrInternal, len(refs))
	}
	var data CellData
	data.Refs = refs
	var left, right int64
	for _, r := range refs {
		m, ok := members[r.EntitySetMemberID]
		if !ok {
			return CellData{}, fmt.Errorf("%w: member %d", domain.ErrNotFound, r.EntitySetMemberID)
		}
		switch r.Role {
		case domain.RoleLeft:
			left = m.EntityID
		case domain.RoleRight:
			right = m.EntityID
		case domain.RoleQuestion:
			data.QuestionID = m.EntityID
		default:
			return CellData{}, fmt.Errorf("%w: role %q on correlation cell", domain.ErrInternal, r.Role)
		}
	}
	if left == 0 || right == 0 || data.QuestionID == 0 {
		return CellData{}, fmt.Errorf("%w: correlation cell missing refs", domain.ErrInternal)
	}
	if left == right {
		return CellData{}, fmt.Errorf("%w: correlation cell pairs a document with itself", domain.ErrInternal)
	}
	data.DocumentIDs = []int64{left, right}
	return data, nil
}

type memberRef struct {
	setID  int64
	member domain.EntitySetMember
}

func standardSpec(doc, question memberRef) domain.CellSpec {
	refs := []domain.CellRefSpec{
		{EntitySetID: doc.setID, EntitySetMemberID: doc.member.ID, EntityID: doc.member.EntityID, Role: domain.RoleDocument, EntityOrder: 0},
		{EntitySetID: question.setID, EntitySetMemberID: question.member.ID, EntityID: question.member.EntityID, Role: domain.RoleQuestion, EntityOrder: 1},
	}
	return domain.CellSpec{
		CellType:  domain.MatrixStandard,
		Refs:      refs,
		Signature: domain.CellSignature(refs),
	}
}

func correlationSpec(left, right, question memberRef) domain.CellSpec {
	refs := []domain.CellRefSpec{
		{EntitySetID: left.setID, EntitySetMemberID: left.member.ID, EntityID: left.member.EntityID, Role: domain.RoleLeft, EntityOrder: 0},
		{EntitySetID: right.setID, EntitySetMemberID: right.member.ID, EntityID: right.member.EntityID, Role: domain.RoleRight, EntityOrder: 1},
		{EntitySetID: question.setID, EntitySetMemberID: question.member.ID, EntityID: question.member.EntityID, Role: domain.RoleQuestion, EntityOrder: 2},
	}
	return domain.CellSpec{
		CellType:  domain.MatrixCorrelation,
		Refs:      refs,
		Signature: domain.CellSignature(refs),
	}
}
