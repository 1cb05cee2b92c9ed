package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/internal/domain"
)

func standardInput(docIDs, questionIDs []int64, newKind domain.EntityType, newEntityID int64) StrategyInput {
	matrix := domain.Matrix{ID: 1, CompanyID: 7, MatrixType: domain.MatrixStandard}
	docSet := domain.EntitySet{ID: 10, MatrixID: 1, CompanyID: 7, EntityType: domain.EntityDocument}
	qSet := domain.EntitySet{ID: 20, MatrixID: 1, CompanyID: 7, EntityType: domain.EntityQuestion}

	members := map[int64][]domain.EntitySetMember{}
	var memberID int64
	for i, id := range docIDs {
		memberID++
		members[docSet.ID] = append(members[docSet.ID], domain.EntitySetMember{
			ID: memberID, EntitySetID: docSet.ID, EntityType: domain.EntityDocument, EntityID: id, MemberOrder: i,
		})
	}
	for i, id := range questionIDs {
		memberID++
		members[qSet.ID] = append(members[qSet.ID], domain.EntitySetMember{
			ID: memberID, EntitySetID: qSet.ID, EntityType: domain.EntityQuestion, EntityID: id, MemberOrder: i,
		})
	}

	in := StrategyInput{
		Matrix:  matrix,
		Sets:    []domain.EntitySet{docSet, qSet},
		Members: members,
	}
	switch newKind {
	case domain.EntityDocument:
		in.NewSet = docSet
		for _, m := range members[docSet.ID] {
			if m.EntityID == newEntityID {
				in.NewMember = m
			}
		}
	case domain.EntityQuestion:
		in.NewSet = qSet
		for _, m := range members[qSet.ID] {
			if m.EntityID == newEntityID {
				in.NewMember = m
			}
		}
	}
	return in
}

func correlationInput(docIDs, questionIDs []int64, newKind domain.EntityType, newEntityID int64) StrategyInput {
	in := standardInput(docIDs, questionIDs, newKind, newEntityID)
	in.Matrix.MatrixType = domain.MatrixCorrelation
	return in
}

func TestStrategyFor(t *testing.T) {
	t.Parallel()

	s, err := StrategyFor(domain.MatrixStandard)
	require.NoError(t, err)
	assert.IsType(t, StandardStrategy{}, s)

	s, err = StrategyFor(domain.MatrixCorrelation)
	require.NoError(t, err)
	assert.IsType(t, CorrelationStrategy{}, s)

	_, err = StrategyFor(domain.MatrixType("DIAGONAL"))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestStandardStrategy_NewDocumentPairsAgainstEveryQuestion(t *testing.T) {
	t.Parallel()

	in := standardInput([]int64{100}, []int64{200, 201, 202}, domain.EntityDocument, 100)
	specs := StandardStrategy{}.SpecsForNewEntity(in)

	require.Len(t, specs, 3)
	for _, spec := range specs {
		assert.Equal(t, domain.MatrixStandard, spec.CellType)
		require.Len(t, spec.Refs, 2)
		assert.Equal(t, domain.RoleDocument, spec.Refs[0].Role)
		assert.Equal(t, 0, spec.Refs[0].EntityOrder)
		assert.Equal(t, int64(100), spec.Refs[0].EntityID)
		assert.Equal(t, domain.RoleQuestion, spec.Refs[1].Role)
		assert.Equal(t, 1, spec.Refs[1].EntityOrder)
		assert.NotEmpty(t, spec.Signature)
	}
}

func TestStandardStrategy_NewQuestionPairsAgainstEveryDocument(t *testing.T) {
	t.Parallel()

	in := standardInput([]int64{100, 101}, []int64{200}, domain.EntityQuestion, 200)
	specs := StandardStrategy{}.SpecsForNewEntity(in)

	require.Len(t, specs, 2)
	docs := []int64{specs[0].Refs[0].EntityID, specs[1].Refs[0].EntityID}
	assert.ElementsMatch(t, []int64{100, 101}, docs)
}

func TestStandardStrategy_Pure(t *testing.T) {
	t.Parallel()

	in := standardInput([]int64{100, 101}, []int64{200, 201}, domain.EntityDocument, 101)
	first := StandardStrategy{}.SpecsForNewEntity(in)
	second := StandardStrategy{}.SpecsForNewEntity(in)
	assert.Equal(t, first, second)
}

func TestCorrelationStrategy_NewDocumentBothOrientations(t *testing.T) {
	t.Parallel()

	// One existing doc, one question: the new doc yields LEFT/RIGHT and
	// RIGHT/LEFT against the counterpart.
	in := correlationInput([]int64{100, 101}, []int64{200}, domain.EntityDocument, 101)
	specs := CorrelationStrategy{}.SpecsForNewEntity(in)

	require.Len(t, specs, 2)
	for _, spec := range specs {
		assert.Equal(t, domain.MatrixCorrelation, spec.CellType)
		require.Len(t, spec.Refs, 3)
		assert.Equal(t, domain.RoleLeft, spec.Refs[0].Role)
		assert.Equal(t, domain.RoleRight, spec.Refs[1].Role)
		assert.Equal(t, domain.RoleQuestion, spec.Refs[2].Role)
		assert.NotEqual(t, spec.Refs[0].EntityID, spec.Refs[1].EntityID)
	}
	assert.NotEqual(t, specs[0].Signature, specs[1].Signature)
}

func TestCorrelationStrategy_NewQuestionAllOrderedPairs(t *testing.T) {
	t.Parallel()

	in := correlationInput([]int64{100, 101, 102}, []int64{200}, domain.EntityQuestion, 200)
	specs := CorrelationStrategy{}.SpecsForNewEntity(in)

	// Three documents yield six ordered pairs, never a self-pair.
	require.Len(t, specs, 6)
	for _, spec := range specs {
		assert.NotEqual(t, spec.Refs[0].EntityID, spec.Refs[1].EntityID)
	}
}

func TestCorrelationStrategy_SingleDocumentNoCells(t *testing.T) {
	t.Parallel()

	in := correlationInput([]int64{100}, []int64{200}, domain.EntityDocument, 100)
	assert.Empty(t, CorrelationStrategy{}.SpecsForNewEntity(in))
}

func TestCellSignature_OrderInsensitive(t *testing.T) {
	t.Parallel()

	refs := []domain.CellRefSpec{
		{EntitySetID: 10, EntitySetMemberID: 1, Role: domain.RoleDocument, EntityOrder: 0},
		{EntitySetID: 20, EntitySetMemberID: 2, Role: domain.RoleQuestion, EntityOrder: 1},
	}
	reversed := []domain.CellRefSpec{refs[1], refs[0]}
	assert.Equal(t, domain.CellSignature(refs), domain.CellSignature(reversed))
}

func TestStandardStrategy_CellData(t *testing.T) {
	t.Parallel()

	refs := []domain.CellEntityRef{
		{MatrixCellID: 1, EntitySetMemberID: 1, Role: domain.RoleDocument},
		{MatrixCellID: 1, EntitySetMemberID: 2, Role: domain.RoleQuestion},
	}
	members := map[int64]domain.EntitySetMember{
		1: {ID: 1, EntityID: 100, EntityType: domain.EntityDocument},
		2: {ID: 2, EntityID: 200, EntityType: domain.EntityQuestion},
	}

	data, err := StandardStrategy{}.CellData(refs, members)
	require.NoError(t, err)
	assert.Equal(t, []int64{100}, data.DocumentIDs)
	assert.Equal(t, int64(200), data.QuestionID)

	_, err = StandardStrategy{}.CellData(refs[:1], members)
	require.ErrorIs(t, err, domain.ErrInternal)
}

func TestCorrelationStrategy_CellData(t *testing.T) {
	t.Parallel()

	refs := []domain.CellEntityRef{
		{MatrixCellID: 1, EntitySetMemberID: 1, Role: domain.RoleLeft},
		{MatrixCellID: 1, EntitySetMemberID: 2, Role: domain.RoleRight},
		{MatrixCellID: 1, EntitySetMemberID: 3, Role: domain.RoleQuestion},
	}
	members := map[int64]domain.EntitySetMember{
		1: {ID: 1, EntityID: 100},
		2: {ID: 2, EntityID: 101},
		3: {ID: 3, EntityID: 200},
	}

	data, err := CorrelationStrategy{}.CellData(refs, members)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 101}, data.DocumentIDs)
	assert.Equal(t, int64(200), data.QuestionID)
}

func TestCorrelationStrategy_CellDataRejectsSelfPair(t *testing.T) {
	t.Parallel()

	refs := []domain.CellEntityRef{
		{MatrixCellID: 1, EntitySetMemberID: 1, Role: domain.RoleLeft},
		{MatrixCellID: 1, EntitySetMemberID: 2, Role: domain.RoleRight},
		{MatrixCellID: 1, EntitySetMemberID: 3, Role: domain.RoleQuestion},
	}
	members := map[int64]domain.EntitySetMember{
		1: {ID: 1, EntityID: 100},
		2: {ID: 2, EntityID: 100},
		3: {ID: 3, EntityID: 200},
	}

	_, err := CorrelationStrategy{}.CellData(refs, members)
	require.ErrorIs(t, err, domain.ErrInternal)
}
