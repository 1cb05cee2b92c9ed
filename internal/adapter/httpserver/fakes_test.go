package httpserver

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"sync"
	"time"

	"github.com/latticehq/lattice/internal/domain"
)

// Minimal port fakes; only the methods the handlers under test reach have
// real behavior.

type fakeMatrixRepo struct {
	mu       sync.Mutex
	nextID   int64
	matrices map[int64]domain.Matrix
}

func newFakeMatrixRepo() *fakeMatrixRepo {
	return &fakeMatrixRepo{matrices: map[int64]domain.Matrix{}}
}

func (f *fakeMatrixRepo) Create(_ domain.Context, m domain.Matrix) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	m.ID = f.nextID
	f.matrices[m.ID] = m
	return m.ID, nil
}

func (f *fakeMatrixRepo) Get(_ domain.Context, companyID, id int64) (domain.Matrix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matrices[id]
	if !ok || m.CompanyID != companyID {
		return domain.Matrix{}, fmt.Errorf("matrix %d: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

type fakeQuestionRepo struct {
	mu        sync.Mutex
	questions map[int64]domain.Question
}

func (f *fakeQuestionRepo) Get(_ domain.Context, companyID, id int64) (domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.questions[id]
	if !ok || q.CompanyID != companyID {
		return domain.Question{}, fmt.Errorf("question %d: %w", id, domain.ErrNotFound)
	}
	return q, nil
}

func (f *fakeQuestionRepo) UpdateText(_ domain.Context, companyID, id int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.questions[id]
	if !ok || q.CompanyID != companyID {
		return fmt.Errorf("question %d: %w", id, domain.ErrNotFound)
	}
	q.Text = text
	f.questions[id] = q
	return nil
}

type fakeTemplateRepo struct {
	mu      sync.Mutex
	assocs  []domain.QuestionTemplateVariable
	created []int64
}

func (f *fakeTemplateRepo) ListMatrixVariables(domain.Context, int64) ([]domain.MatrixTemplateVariable, error) {
	return nil, nil
}

func (f *fakeTemplateRepo) GetMatrixVariable(_ domain.Context, _, variableID int64) (domain.MatrixTemplateVariable, error) {
	return domain.MatrixTemplateVariable{ID: variableID}, nil
}

func (f *fakeTemplateRepo) ListQuestionAssociations(domain.Context, int64) ([]domain.QuestionTemplateVariable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.QuestionTemplateVariable(nil), f.assocs...), nil
}

func (f *fakeTemplateRepo) CreateQuestionAssociation(_ domain.Context, questionID, variableID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, variableID)
	f.assocs = append(f.assocs, domain.QuestionTemplateVariable{
		ID: int64(len(f.assocs) + 1), QuestionID: questionID, TemplateVariableID: variableID,
	})
	return nil
}

func (f *fakeTemplateRepo) RestoreQuestionAssociation(domain.Context, int64) error    { return nil }
func (f *fakeTemplateRepo) SoftDeleteQuestionAssociation(domain.Context, int64) error { return nil }

type fakeDocumentRepo struct {
	mu     sync.Mutex
	nextID int64
	docs   map[int64]domain.Document
}

func newFakeDocumentRepo() *fakeDocumentRepo {
	return &fakeDocumentRepo{docs: map[int64]domain.Document{}}
}

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
		return domain.Document{}, fmt.Errorf("document %d: %w", id, domain.ErrNotFound)
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

func (f *fakeDocumentRepo) UpdateExtractionStarted(domain.Context, int64, time.Time) error { return nil }
func (f *fakeDocumentRepo) UpdateExtractionCompleted(domain.Context, int64, string, time.Time) error {
	return nil
}
func (f *fakeDocumentRepo) UpdateExtractionFailed(domain.Context, int64) error { return nil }

func (f *fakeDocumentRepo) CreateExtractionJob(domain.Context, domain.DocumentExtractionJob) (int64, error) {
	return 1, nil
}
func (f *fakeDocumentRepo) UpdateExtractionJob(domain.Context, int64, domain.JobStatus, string) error {
	return nil
}
func (f *fakeDocumentRepo) CreateIndexingJob(domain.Context, domain.DocumentIndexingJob) (int64, error) {
	return 1, nil
}
func (f *fakeDocumentRepo) GetIndexingJob(domain.Context, int64) (domain.DocumentIndexingJob, error) {
	return domain.DocumentIndexingJob{}, domain.ErrNotFound
}
func (f *fakeDocumentRepo) UpdateIndexingJob(domain.Context, int64, domain.JobStatus, string) error {
	return nil
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
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
	return nil
}

func (f *fakeBlobStore) Download(_ domain.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, domain.ErrNotFound)
	}
	return append([]byte(nil), b...), nil
}

func (f *fakeBlobStore) Delete(domain.Context, string) error { return nil }
func (f *fakeBlobStore) Exists(_ domain.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}
func (f *fakeBlobStore) ListObjects(domain.Context, string, int) ([]domain.ObjectInfo, error) {
	return nil, nil
}
func (f *fakeBlobStore) PresignedURL(domain.Context, string, time.Duration) (string, error) {
	return "", nil
}
func (f *fakeBlobStore) PresignedUploadURL(domain.Context, string, time.Duration) (string, error) {
	return "", nil
}
func (f *fakeBlobStore) DeletePrefix(domain.Context, string) (int, error) { return 0, nil }

type fakeBloom struct{}

func (fakeBloom) MayContain(domain.Context, int64, string) (bool, error) { return false, nil }
func (fakeBloom) Add(domain.Context, int64, string) error                { return nil }

type fakeUsageRepo struct {
	mu     sync.Mutex
	nextID int64
	events []domain.UsageEvent
}

func (f *fakeUsageRepo) Append(_ domain.Context, e domain.UsageEvent) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	e.ID = f.nextID
	f.events = append(f.events, e)
	return e.ID, nil
}

func (f *fakeUsageRepo) AppendWithinLimit(ctx domain.Context, e domain.UsageEvent, limit int64) (int64, int64, bool, error) {
	sum, _ := f.MonthlySum(ctx, e.CompanyID, e.EventType, e.CreatedAt)
	if sum >= limit {
		return 0, sum, false, nil
	}
	id, err := f.Append(ctx, e)
	return id, sum + e.Quantity, true, err
}

func (f *fakeUsageRepo) MonthlySum(_ domain.Context, companyID int64, eventType domain.UsageEventType, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, e := range f.events {
		if e.CompanyID == companyID && e.EventType == eventType {
			sum += e.Quantity
		}
	}
	return sum, nil
}

func (f *fakeUsageRepo) UpdateMetadata(domain.Context, int64, map[string]any) error { return nil }

type fakeSubscriptionRepo struct{}

func (fakeSubscriptionRepo) GetByCompany(domain.Context, int64) (domain.Subscription, error) {
	return domain.Subscription{}, domain.ErrNotFound
}

type fakeWorkflowStarter struct {
	mu          sync.Mutex
	extractions []int64
	executions  []int64
	startErr    error
}

func (f *fakeWorkflowStarter) StartDocumentExtraction(_ domain.Context, _, documentID, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.extractions = append(f.extractions, documentID)
	return nil
}

func (f *fakeWorkflowStarter) StartAgentQA(domain.Context, domain.AgentQAInput) error { return nil }

func (f *fakeWorkflowStarter) StartWorkflowExecution(_ domain.Context, _, _, executionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.executions = append(f.executions, executionID)
	return nil
}

type fakeExecutionRepo struct {
	mu    sync.Mutex
	execs map[int64]domain.WorkflowExecution
}

func (f *fakeExecutionRepo) Get(_ domain.Context, id int64) (domain.WorkflowExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[id]
	if !ok {
		return domain.WorkflowExecution{}, fmt.Errorf("execution %d: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

func (f *fakeExecutionRepo) UpdateResults(_ domain.Context, e domain.WorkflowExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs[e.ID] = e
	return nil
}

type fakeKeywordIndex struct {
	hits []domain.RankedChunk
	err  error
}

func (f *fakeKeywordIndex) IndexChunk(domain.Context, domain.Chunk) error { return nil }
func (f *fakeKeywordIndex) Search(domain.Context, string, domain.ChunkFilters, int) ([]domain.RankedChunk, error) {
	return f.hits, f.err
}

type fakeVectorIndex struct {
	hits []domain.RankedChunk
}

func (f *fakeVectorIndex) UpsertChunk(domain.Context, domain.Chunk, []float32) error { return nil }
func (f *fakeVectorIndex) Search(domain.Context, []float32, domain.ChunkFilters, int) ([]domain.RankedChunk, error) {
	return f.hits, nil
}

type fakeAIClient struct{}

func (fakeAIClient) Embed(_ domain.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (fakeAIClient) GenerateAnswers(domain.Context, domain.AIRequest) (domain.AIAnswerSet, error) {
	return domain.AIAnswerSet{}, nil
}

// multipartBody builds a multipart form with one file field plus extra values.
func multipartBody(field, filename string, content []byte, values map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(content); err != nil {
		return nil, "", err
	}
	for k, v := range values {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
