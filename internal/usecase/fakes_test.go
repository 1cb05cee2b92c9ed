package usecase

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/latticehq/lattice/internal/domain"
)

// In-memory port implementations shared by the usecase tests.

type fakeMatrixRepo struct {
	matrices map[int64]domain.Matrix
}

func (f *fakeMatrixRepo) Create(_ domain.Context, m domain.Matrix) (int64, error) {
	if f.matrices == nil {
		f.matrices = map[int64]domain.Matrix{}
	}
	id := int64(len(f.matrices) + 1)
	m.ID = id
	f.matrices[id] = m
	return id, nil
}

func (f *fakeMatrixRepo) Get(_ domain.Context, companyID, id int64) (domain.Matrix, error) {
	m, ok := f.matrices[id]
	if !ok || m.CompanyID != companyID {
		return domain.Matrix{}, domain.ErrNotFound
	}
	return m, nil
}

type fakeEntitySetRepo struct {
	sets    map[int64]domain.EntitySet
	members map[int64][]domain.EntitySetMember
	nextID  int64
	addErr  error
}

func (f *fakeEntitySetRepo) CreateSet(_ domain.Context, s domain.EntitySet) (int64, error) {
	if f.sets == nil {
		f.sets = map[int64]domain.EntitySet{}
	}
	id := int64(len(f.sets) + 1)
	s.ID = id
	f.sets[id] = s
	return id, nil
}

func (f *fakeEntitySetRepo) GetSet(_ domain.Context, companyID, id int64) (domain.EntitySet, error) {
	s, ok := f.sets[id]
	if !ok || s.CompanyID != companyID {
		return domain.EntitySet{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeEntitySetRepo) ListSetsByMatrix(_ domain.Context, companyID, matrixID int64) ([]domain.EntitySet, error) {
	var out []domain.EntitySet
	for id := int64(1); id <= int64(len(f.sets)); id++ {
		s, ok := f.sets[id]
		if ok && s.MatrixID == matrixID && s.CompanyID == companyID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeEntitySetRepo) AddMembers(_ domain.Context, members []domain.EntitySetMember) ([]domain.EntitySetMember, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	if f.members == nil {
		f.members = map[int64][]domain.EntitySetMember{}
	}
	out := make([]domain.EntitySetMember, 0, len(members))
	for _, m := range members {
		f.nextID++
		m.ID = f.nextID
		f.members[m.EntitySetID] = append(f.members[m.EntitySetID], m)
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeEntitySetRepo) ListMembers(_ domain.Context, entitySetID int64) ([]domain.EntitySetMember, error) {
	return f.members[entitySetID], nil
}

func (f *fakeEntitySetRepo) GetMember(_ domain.Context, id int64) (domain.EntitySetMember, error) {
	for _, ms := range f.members {
		for _, m := range ms {
			if m.ID == id {
				return m, nil
			}
		}
	}
	return domain.EntitySetMember{}, domain.ErrNotFound
}

// addMember seeds one member directly, bypassing AddMembers.
func (f *fakeEntitySetRepo) addMember(setID int64, entityType domain.EntityType, entityID int64, label string) domain.EntitySetMember {
	if f.members == nil {
		f.members = map[int64][]domain.EntitySetMember{}
	}
	f.nextID++
	m := domain.EntitySetMember{
		ID:          f.nextID,
		EntitySetID: setID,
		EntityType:  entityType,
		EntityID:    entityID,
		MemberOrder: len(f.members[setID]),
		Label:       label,
	}
	f.members[setID] = append(f.members[setID], m)
	return m
}

type fakeCellRepo struct {
	mu       sync.Mutex
	cells    map[int64]domain.MatrixCell
	refs     map[int64][]domain.CellEntityRef
	sigs     map[int64]map[string]struct{}
	jobs     *fakeJobRepo
	nextCell int64

	statusUpdates []struct {
		ID     int64
		Status domain.CellStatus
	}
}

func newFakeCellRepo(jobs *fakeJobRepo) *fakeCellRepo {
	return &fakeCellRepo{
		cells: map[int64]domain.MatrixCell{},
		refs:  map[int64][]domain.CellEntityRef{},
		sigs:  map[int64]map[string]struct{}{},
		jobs:  jobs,
	}
}

func (f *fakeCellRepo) ListSignatures(_ domain.Context, matrixID int64) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]struct{}{}
	for s := range f.sigs[matrixID] {
		out[s] = struct{}{}
	}
	return out, nil
}

func (f *fakeCellRepo) CreateCellsWithRefs(_ domain.Context, companyID, matrixID int64, specs []domain.CellSpec, createJobs bool) ([]domain.MatrixCell, []domain.QAJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sigs[matrixID] == nil {
		f.sigs[matrixID] = map[string]struct{}{}
	}
	var cells []domain.MatrixCell
	var jobs []domain.QAJob
	for _, spec := range specs {
		if _, dup := f.sigs[matrixID][spec.Signature]; dup {
			continue
		}
		f.nextCell++
		cell := domain.MatrixCell{
			ID:            f.nextCell,
			MatrixID:      matrixID,
			CompanyID:     companyID,
			Status:        domain.CellPending,
			CellType:      spec.CellType,
			CellSignature: spec.Signature,
		}
		f.cells[cell.ID] = cell
		f.sigs[matrixID][spec.Signature] = struct{}{}
		for _, r := range spec.Refs {
			f.refs[cell.ID] = append(f.refs[cell.ID], domain.CellEntityRef{
				MatrixCellID:      cell.ID,
				MatrixID:          matrixID,
				EntitySetID:       r.EntitySetID,
				EntitySetMemberID: r.EntitySetMemberID,
				Role:              r.Role,
				EntityOrder:       r.EntityOrder,
				CompanyID:         companyID,
			})
		}
		cells = append(cells, cell)
		if createJobs {
			job := domain.QAJob{MatrixCellID: cell.ID, CompanyID: companyID, Status: domain.JobQueued}
			id, _ := f.jobs.Create(nil, job)
			job.ID = id
			jobs = append(jobs, job)
		}
	}
	return cells, jobs, nil
}

func (f *fakeCellRepo) Get(_ domain.Context, id int64) (domain.MatrixCell, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cells[id]
	if !ok {
		return domain.MatrixCell{}, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeCellRepo) UpdateStatus(_ domain.Context, id int64, status domain.CellStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cells[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = status
	f.cells[id] = c
	f.statusUpdates = append(f.statusUpdates, struct {
		ID     int64
		Status domain.CellStatus
	}{id, status})
	return nil
}

func (f *fakeCellRepo) SetCurrentAnswerSet(_ domain.Context, id, answerSetID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.cells[id]
	c.CurrentAnswerSetID = &answerSetID
	f.cells[id] = c
	return nil
}

func (f *fakeCellRepo) ListRefs(_ domain.Context, cellID int64) ([]domain.CellEntityRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs[cellID], nil
}

func (f *fakeCellRepo) ListByMatrix(_ domain.Context, companyID, matrixID int64) ([]domain.MatrixCell, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.MatrixCell
	for id := int64(1); id <= f.nextCell; id++ {
		c, ok := f.cells[id]
		if ok && c.MatrixID == matrixID && c.CompanyID == companyID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCellRepo) ListByIDs(_ domain.Context, companyID int64, ids []int64) ([]domain.MatrixCell, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.MatrixCell
	for _, id := range ids {
		if c, ok := f.cells[id]; ok && c.CompanyID == companyID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCellRepo) ListByEntityFilters(_ domain.Context, companyID, matrixID int64, filters []domain.EntitySetFilter) ([]domain.MatrixCell, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.MatrixCell
	for id := int64(1); id <= f.nextCell; id++ {
		c, ok := f.cells[id]
		if !ok || c.MatrixID != matrixID || c.CompanyID != companyID {
			continue
		}
		matchesAll := true
		for _, filt := range filters {
			matched := false
			for _, r := range f.refs[id] {
				if r.EntitySetID == filt.EntitySetID && r.Role == filt.Role {
					matched = true
					break
				}
			}
			if !matched {
				matchesAll = false
				break
			}
		}
		if matchesAll {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[int64]domain.QAJob
	next int64
}

func newFakeJobRepo() *fakeJobRepo { return &fakeJobRepo{jobs: map[int64]domain.QAJob{}} }

func (f *fakeJobRepo) Create(_ domain.Context, j domain.QAJob) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	j.ID = f.next
	f.jobs[j.ID] = j
	return j.ID, nil
}

func (f *fakeJobRepo) Get(_ domain.Context, id int64) (domain.QAJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.QAJob{}, domain.ErrNotFound
	}
	return j, nil
}

func (f *fakeJobRepo) ListProcessingOlderThan(_ domain.Context, cutoff time.Time, limit int) ([]domain.QAJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.QAJob
	for _, j := range f.jobs {
		if j.Status == domain.JobProcessing && j.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeJobRepo) UpdateStatus(_ domain.Context, id int64, status domain.JobStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = status
	j.ErrorMessage = errMsg
	f.jobs[id] = j
	return nil
}

type fakeQueue struct {
	mu         sync.Mutex
	qaMsgs     []domain.QAJobMessage
	indexing   []domain.IndexingJobMessage
	publishErr error
}

func (f *fakeQueue) PublishQAJobs(_ domain.Context, msgs []domain.QAJobMessage) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qaMsgs = append(f.qaMsgs, msgs...)
	return nil
}

func (f *fakeQueue) PublishIndexingJob(_ domain.Context, msg domain.IndexingJobMessage) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexing = append(f.indexing, msg)
	return nil
}

type fakeLock struct {
	mu   sync.Mutex
	held map[string]string
	seq  int
}

func newFakeLock() *fakeLock { return &fakeLock{held: map[string]string{}} }

func (f *fakeLock) Acquire(_ domain.Context, key string, _ time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.held[key]; ok {
		return "", false, nil
	}
	f.seq++
	token := fmt.Sprintf("tok-%d", f.seq)
	f.held[key] = token
	return token, true, nil
}

func (f *fakeLock) Release(_ domain.Context, key, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] != token {
		return false, nil
	}
	delete(f.held, key)
	return true, nil
}

func (f *fakeLock) Extend(_ domain.Context, key, token string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[key] == token, nil
}

func (f *fakeLock) AcquireWithRetry(ctx domain.Context, key string, ttl, _, _ time.Duration) (string, bool, error) {
	return f.Acquire(ctx, key, ttl)
}

type persistedSet struct {
	CellID         int64
	QuestionTypeID int64
	Set            domain.AIAnswerSet
	SetCurrent     bool
}

type fakeAnswerRepo struct {
	mu     sync.Mutex
	sets   []persistedSet
	nextID int64
}

func (f *fakeAnswerRepo) PersistAnswerSet(_ domain.Context, cellID, questionTypeID int64, set domain.AIAnswerSet, setCurrent bool) (domain.AnswerSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sets = append(f.sets, persistedSet{cellID, questionTypeID, set, setCurrent})
	return domain.AnswerSet{ID: f.nextID, MatrixCellID: cellID, QuestionTypeID: questionTypeID, AnswerFound: len(set.Answers) > 0}, nil
}

func (f *fakeAnswerRepo) GetAnswerSet(_ domain.Context, id int64) (domain.AnswerSet, error) {
	return domain.AnswerSet{ID: id}, nil
}

type fakeQuestionRepo struct {
	questions map[int64]domain.Question
}

func (f *fakeQuestionRepo) Get(_ domain.Context, companyID, id int64) (domain.Question, error) {
	q, ok := f.questions[id]
	if !ok || q.CompanyID != companyID {
		return domain.Question{}, domain.ErrNotFound
	}
	return q, nil
}

func (f *fakeQuestionRepo) UpdateText(_ domain.Context, companyID, id int64, text string) error {
	q, ok := f.questions[id]
	if !ok || q.CompanyID != companyID {
		return domain.ErrNotFound
	}
	q.Text = text
	f.questions[id] = q
	return nil
}

type fakeUsageRepo struct {
	mu     sync.Mutex
	events []domain.UsageEvent
	nextID int64
	meta   map[int64]map[string]any
}

func (f *fakeUsageRepo) Append(_ domain.Context, e domain.UsageEvent) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	e.ID = f.nextID
	f.events = append(f.events, e)
	return e.ID, nil
}

func (f *fakeUsageRepo) AppendWithinLimit(_ domain.Context, e domain.UsageEvent, limit int64) (int64, int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, ev := range f.events {
		if ev.CompanyID == e.CompanyID && ev.EventType == e.EventType {
			sum += ev.Quantity
		}
	}
	if sum >= limit {
		return 0, sum, false, nil
	}
	f.nextID++
	e.ID = f.nextID
	f.events = append(f.events, e)
	return e.ID, sum + e.Quantity, true, nil
}

func (f *fakeUsageRepo) MonthlySum(_ domain.Context, companyID int64, eventType domain.UsageEventType, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, ev := range f.events {
		if ev.CompanyID == companyID && ev.EventType == eventType {
			sum += ev.Quantity
		}
	}
	return sum, nil
}

func (f *fakeUsageRepo) UpdateMetadata(_ domain.Context, eventID int64, patch map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.meta == nil {
		f.meta = map[int64]map[string]any{}
	}
	if f.meta[eventID] == nil {
		f.meta[eventID] = map[string]any{}
	}
	for k, v := range patch {
		f.meta[eventID][k] = v
	}
	return nil
}

type fakeSubscriptionRepo struct {
	subs map[int64]domain.Subscription
}

func (f *fakeSubscriptionRepo) GetByCompany(_ domain.Context, companyID int64) (domain.Subscription, error) {
	s, ok := f.subs[companyID]
	if !ok {
		return domain.Subscription{}, domain.ErrNotFound
	}
	return s, nil
}

type fakeKeywordIndex struct {
	hits    []domain.RankedChunk
	err     error
	indexed []domain.Chunk
}

func (f *fakeKeywordIndex) IndexChunk(_ domain.Context, c domain.Chunk) error {
	f.indexed = append(f.indexed, c)
	return nil
}

func (f *fakeKeywordIndex) Search(_ domain.Context, _ string, _ domain.ChunkFilters, _ int) ([]domain.RankedChunk, error) {
	return f.hits, f.err
}

type fakeVectorIndex struct {
	hits     []domain.RankedChunk
	err      error
	upserted []domain.Chunk
}

func (f *fakeVectorIndex) UpsertChunk(_ domain.Context, c domain.Chunk, _ []float32) error {
	f.upserted = append(f.upserted, c)
	return nil
}

func (f *fakeVectorIndex) Search(_ domain.Context, _ []float32, _ domain.ChunkFilters, _ int) ([]domain.RankedChunk, error) {
	return f.hits, f.err
}

type fakeAIClient struct {
	answers    domain.AIAnswerSet
	embedErr   error
	genErr     error
	requests   []domain.AIRequest
	onGenerate func()
}

func (f *fakeAIClient) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (f *fakeAIClient) GenerateAnswers(_ domain.Context, req domain.AIRequest) (domain.AIAnswerSet, error) {
	f.requests = append(f.requests, req)
	if f.onGenerate != nil {
		f.onGenerate()
	}
	if f.genErr != nil {
		return domain.AIAnswerSet{}, f.genErr
	}
	return f.answers, nil
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
}

func newFakeBlobStore() *fakeBlobStore { return &fakeBlobStore{objects: map[string][]byte{}} }

func (f *fakeBlobStore) Upload(_ domain.Context, key string, r io.Reader, _ map[string]string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = b
	f.uploads++
	return nil
}

func (f *fakeBlobStore) Download(_ domain.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (f *fakeBlobStore) Delete(_ domain.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobStore) Exists(_ domain.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeBlobStore) ListObjects(_ domain.Context, prefix string, _ int) ([]domain.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ObjectInfo
	for k, v := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, domain.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (f *fakeBlobStore) PresignedURL(_ domain.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + key, nil
}

func (f *fakeBlobStore) PresignedUploadURL(_ domain.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.test/upload/" + key, nil
}

func (f *fakeBlobStore) DeletePrefix(_ domain.Context, prefix string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(f.objects, k)
			n++
		}
	}
	return n, nil
}

type fakeBloom struct {
	mu    sync.Mutex
	added map[string]struct{}
}

func newFakeBloom() *fakeBloom { return &fakeBloom{added: map[string]struct{}{}} }

func (f *fakeBloom) key(companyID int64, checksum string) string {
	return fmt.Sprintf("%d:%s", companyID, checksum)
}

func (f *fakeBloom) MayContain(_ domain.Context, companyID int64, checksum string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.added[f.key(companyID, checksum)]
	return ok, nil
}

func (f *fakeBloom) Add(_ domain.Context, companyID int64, checksum string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added[f.key(companyID, checksum)] = struct{}{}
	return nil
}

type fakeDocumentRepo struct {
	mu             sync.Mutex
	docs           map[int64]domain.Document
	nextID         int64
	extractionJobs []domain.DocumentExtractionJob
	indexingJobs   []domain.DocumentIndexingJob
}

func newFakeDocumentRepo() *fakeDocumentRepo { return &fakeDocumentRepo{docs: map[int64]domain.Document{}} }

func (f *fakeDocumentRepo) Create(_ domain.Context, d domain.Document) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.docs {
		if existing.CompanyID == d.CompanyID && existing.Checksum == d.Checksum {
			return 0, domain.ErrAlreadyExists
		}
	}
	f.nextID++
	d.ID = f.nextID
	f.docs[d.ID] = d
	return d.ID, nil
}

func (f *fakeDocumentRepo) Get(_ domain.Context, companyID, id int64) (domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.CompanyID != companyID {
		return domain.Document{}, domain.ErrNotFound
	}
	return d, nil
}

func (f *fakeDocumentRepo) FindByChecksum(_ domain.Context, companyID int64, checksum string) (domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs {
		if d.CompanyID == companyID && d.Checksum == checksum {
			return d, nil
		}
	}
	return domain.Document{}, domain.ErrNotFound
}

func (f *fakeDocumentRepo) UpdateExtractionStarted(_ domain.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.docs[id]
	d.ExtractionStatus = domain.ExtractionProcessing
	d.ExtractionStartedAt = &at
	f.docs[id] = d
	return nil
}

func (f *fakeDocumentRepo) UpdateExtractionCompleted(_ domain.Context, id int64, contentPath string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.docs[id]
	d.ExtractionStatus = domain.ExtractionCompleted
	d.ExtractedContentPath = contentPath
	d.ExtractionCompletedAt = &at
	f.docs[id] = d
	return nil
}

func (f *fakeDocumentRepo) UpdateExtractionFailed(_ domain.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.docs[id]
	d.ExtractionStatus = domain.ExtractionFailed
	f.docs[id] = d
	return nil
}

func (f *fakeDocumentRepo) CreateExtractionJob(_ domain.Context, j domain.DocumentExtractionJob) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j.ID = int64(len(f.extractionJobs) + 1)
	f.extractionJobs = append(f.extractionJobs, j)
	return j.ID, nil
}

func (f *fakeDocumentRepo) UpdateExtractionJob(_ domain.Context, id int64, status domain.JobStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(id) <= len(f.extractionJobs) {
		f.extractionJobs[id-1].Status = status
		f.extractionJobs[id-1].ErrorMessage = errMsg
	}
	return nil
}

func (f *fakeDocumentRepo) CreateIndexingJob(_ domain.Context, j domain.DocumentIndexingJob) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j.ID = int64(len(f.indexingJobs) + 1)
	f.indexingJobs = append(f.indexingJobs, j)
	return j.ID, nil
}

func (f *fakeDocumentRepo) GetIndexingJob(_ domain.Context, id int64) (domain.DocumentIndexingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id < 1 || int(id) > len(f.indexingJobs) {
		return domain.DocumentIndexingJob{}, domain.ErrNotFound
	}
	return f.indexingJobs[id-1], nil
}

func (f *fakeDocumentRepo) UpdateIndexingJob(_ domain.Context, id int64, status domain.JobStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id < 1 || int(id) > len(f.indexingJobs) {
		return domain.ErrNotFound
	}
	f.indexingJobs[id-1].Status = status
	f.indexingJobs[id-1].ErrorMessage = errMsg
	return nil
}

type fakeWorkflowStarter struct {
	mu          sync.Mutex
	extractions []int64
	agentQA     []domain.AgentQAInput
	executions  []int64
	startErr    error
}

func (f *fakeWorkflowStarter) StartDocumentExtraction(_ domain.Context, _, documentID, _ int64) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extractions = append(f.extractions, documentID)
	return nil
}

func (f *fakeWorkflowStarter) StartAgentQA(_ domain.Context, in domain.AgentQAInput) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agentQA = append(f.agentQA, in)
	return nil
}

func (f *fakeWorkflowStarter) StartWorkflowExecution(_ domain.Context, _, _, executionID int64) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions = append(f.executions, executionID)
	return nil
}

type fakeTemplateRepo struct {
	vars     []domain.MatrixTemplateVariable
	assocs   []domain.QuestionTemplateVariable
	created  []int64
	restored []int64
	deleted  []int64
}

func (f *fakeTemplateRepo) ListMatrixVariables(_ domain.Context, matrixID int64) ([]domain.MatrixTemplateVariable, error) {
	var out []domain.MatrixTemplateVariable
	for _, v := range f.vars {
		if v.MatrixID == matrixID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeTemplateRepo) GetMatrixVariable(_ domain.Context, matrixID, variableID int64) (domain.MatrixTemplateVariable, error) {
	for _, v := range f.vars {
		if v.MatrixID == matrixID && v.ID == variableID {
			return v, nil
		}
	}
	return domain.MatrixTemplateVariable{}, domain.ErrNotFound
}

func (f *fakeTemplateRepo) ListQuestionAssociations(_ domain.Context, questionID int64) ([]domain.QuestionTemplateVariable, error) {
	var out []domain.QuestionTemplateVariable
	for _, a := range f.assocs {
		if a.QuestionID == questionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeTemplateRepo) CreateQuestionAssociation(_ domain.Context, questionID, variableID int64) error {
	f.created = append(f.created, variableID)
	f.assocs = append(f.assocs, domain.QuestionTemplateVariable{
		ID: int64(len(f.assocs) + 1), QuestionID: questionID, TemplateVariableID: variableID,
	})
	return nil
}

func (f *fakeTemplateRepo) RestoreQuestionAssociation(_ domain.Context, id int64) error {
	f.restored = append(f.restored, id)
	for i := range f.assocs {
		if f.assocs[i].ID == id {
			f.assocs[i].Deleted = false
		}
	}
	return nil
}

func (f *fakeTemplateRepo) SoftDeleteQuestionAssociation(_ domain.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	for i := range f.assocs {
		if f.assocs[i].ID == id {
			f.assocs[i].Deleted = true
		}
	}
	return nil
}
