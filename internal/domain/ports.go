package domain

import (
	"io"
	"time"
)

// Repositories (ports)

// MatrixRepository loads and stores matrices.
type MatrixRepository interface {
	Create(ctx Context, m Matrix) (int64, error)
	Get(ctx Context, companyID, id int64) (Matrix, error)
}

// EntitySetRepository manages entity sets and their members.
type EntitySetRepository interface {
	CreateSet(ctx Context, s EntitySet) (int64, error)
	GetSet(ctx Context, companyID, id int64) (EntitySet, error)
	// ListSetsByMatrix returns all non-deleted sets in creation order.
	ListSetsByMatrix(ctx Context, companyID, matrixID int64) ([]EntitySet, error)
	// AddMembers inserts members preserving order; a racing duplicate insert
	// surfaces as ErrAlreadyExists.
	AddMembers(ctx Context, members []EntitySetMember) ([]EntitySetMember, error)
	ListMembers(ctx Context, entitySetID int64) ([]EntitySetMember, error)
	GetMember(ctx Context, id int64) (EntitySetMember, error)
}

// CellRepository manages matrix cells, their refs and signature dedup.
type CellRepository interface {
	// ListSignatures returns the signatures of all non-deleted cells of a matrix.
	ListSignatures(ctx Context, matrixID int64) (map[string]struct{}, error)
	// CreateCellsWithRefs inserts cells and their refs in one transaction,
	// optionally creating a QUEUED QA job per cell.
	CreateCellsWithRefs(ctx Context, companyID, matrixID int64, specs []CellSpec, createJobs bool) ([]MatrixCell, []QAJob, error)
	Get(ctx Context, id int64) (MatrixCell, error)
	UpdateStatus(ctx Context, id int64, status CellStatus) error
	SetCurrentAnswerSet(ctx Context, id int64, answerSetID int64) error
	ListRefs(ctx Context, cellID int64) ([]CellEntityRef, error)
	ListByMatrix(ctx Context, companyID, matrixID int64) ([]MatrixCell, error)
	ListByIDs(ctx Context, companyID int64, ids []int64) ([]MatrixCell, error)
	// ListByEntityFilters returns cells where, for every filter, at least one
	// ref matches entity set, role, and one of the entity ids.
	ListByEntityFilters(ctx Context, companyID, matrixID int64, filters []EntitySetFilter) ([]MatrixCell, error)
}

// EntitySetFilter selects cells by a ref coordinate for reprocessing.
type EntitySetFilter struct {
	EntitySetID int64      `json:"entity_set_id"`
	EntityIDs   []int64    `json:"entity_ids"`
	Role        EntityRole `json:"role"`
}

// QAJobRepository manages durable QA scheduling records.
type QAJobRepository interface {
	Create(ctx Context, j QAJob) (int64, error)
	Get(ctx Context, id int64) (QAJob, error)
	// UpdateStatus moves a job; errMsg lands in error_message and terminal
	// states stamp completed_at.
	UpdateStatus(ctx Context, id int64, status JobStatus, errMsg string) error
	// ListProcessingOlderThan pages PROCESSING jobs created before cutoff,
	// oldest first; the sweeper uses it to fail abandoned work.
	ListProcessingOlderThan(ctx Context, cutoff time.Time, limit int) ([]QAJob, error)
}

// AnswerRepository persists answer sets transactionally.
type AnswerRepository interface {
	// PersistAnswerSet writes the set, answers, citation sets and citations in
	// one transaction and moves the cell's current pointer when setCurrent.
	PersistAnswerSet(ctx Context, cellID, questionTypeID int64, set AIAnswerSet, setCurrent bool) (AnswerSet, error)
	GetAnswerSet(ctx Context, id int64) (AnswerSet, error)
}

// QuestionRepository loads questions.
type QuestionRepository interface {
	Get(ctx Context, companyID, id int64) (Question, error)
	UpdateText(ctx Context, companyID, id int64, text string) error
}

// DocumentRepository manages documents and their phase jobs.
type DocumentRepository interface {
	Create(ctx Context, d Document) (int64, error)
	Get(ctx Context, companyID, id int64) (Document, error)
	// FindByChecksum is the authoritative dedup lookup (non-deleted rows only).
	FindByChecksum(ctx Context, companyID int64, checksum string) (Document, error)
	UpdateExtractionStarted(ctx Context, id int64, at time.Time) error
	UpdateExtractionCompleted(ctx Context, id int64, contentPath string, at time.Time) error
	UpdateExtractionFailed(ctx Context, id int64) error
	CreateExtractionJob(ctx Context, j DocumentExtractionJob) (int64, error)
	UpdateExtractionJob(ctx Context, id int64, status JobStatus, errMsg string) error
	CreateIndexingJob(ctx Context, j DocumentIndexingJob) (int64, error)
	GetIndexingJob(ctx Context, id int64) (DocumentIndexingJob, error)
	UpdateIndexingJob(ctx Context, id int64, status JobStatus, errMsg string) error
}

// SubscriptionRepository resolves tenant tiers.
type SubscriptionRepository interface {
	GetByCompany(ctx Context, companyID int64) (Subscription, error)
}

// UsageRepository is the append-only, signed ledger.
type UsageRepository interface {
	Append(ctx Context, e UsageEvent) (int64, error)
	// AppendWithinLimit appends the event only if the tenant's current
	// calendar-month signed sum for the event type is below limit. The
	// check-and-append pair is serialized per (company, event type).
	AppendWithinLimit(ctx Context, e UsageEvent, limit int64) (eventID int64, currentSum int64, reserved bool, err error)
	MonthlySum(ctx Context, companyID int64, eventType UsageEventType, at time.Time) (int64, error)
	UpdateMetadata(ctx Context, eventID int64, patch map[string]any) error
}

// TemplateRepository manages template variables and their question links.
type TemplateRepository interface {
	ListMatrixVariables(ctx Context, matrixID int64) ([]MatrixTemplateVariable, error)
	GetMatrixVariable(ctx Context, matrixID, variableID int64) (MatrixTemplateVariable, error)
	ListQuestionAssociations(ctx Context, questionID int64) ([]QuestionTemplateVariable, error)
	CreateQuestionAssociation(ctx Context, questionID, variableID int64) error
	RestoreQuestionAssociation(ctx Context, id int64) error
	SoftDeleteQuestionAssociation(ctx Context, id int64) error
}

// WorkflowExecutionRepository records code/agent job runs.
type WorkflowExecutionRepository interface {
	Get(ctx Context, id int64) (WorkflowExecution, error)
	UpdateResults(ctx Context, e WorkflowExecution) error
}

// Queue (port). Messages are JSON, UTF-8; consumers must be idempotent.
type Queue interface {
	PublishQAJobs(ctx Context, msgs []QAJobMessage) error
	PublishIndexingJob(ctx Context, msg IndexingJobMessage) error
}

// DistributedLock guarantees at most one valid token per key at any instant.
type DistributedLock interface {
	// Acquire returns (token, true) on success, ("", false) when held.
	Acquire(ctx Context, key string, ttl time.Duration) (string, bool, error)
	// Release is a compare-and-delete; stale tokens return false.
	Release(ctx Context, key, token string) (bool, error)
	// Extend is a compare-and-set of the TTL for the holding token.
	Extend(ctx Context, key, token string, additional time.Duration) (bool, error)
	// AcquireWithRetry polls until timeout elapses.
	AcquireWithRetry(ctx Context, key string, ttl, retryInterval, timeout time.Duration) (string, bool, error)
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// BlobStore is the narrow object storage contract.
type BlobStore interface {
	Upload(ctx Context, key string, r io.Reader, metadata map[string]string) error
	Download(ctx Context, key string) ([]byte, error)
	Delete(ctx Context, key string) error
	Exists(ctx Context, key string) (bool, error)
	ListObjects(ctx Context, prefix string, limit int) ([]ObjectInfo, error)
	PresignedURL(ctx Context, key string, ttl time.Duration) (string, error)
	PresignedUploadURL(ctx Context, key string, ttl time.Duration) (string, error)
	DeletePrefix(ctx Context, prefix string) (int, error)
}

// ChunkFilters scope a chunk search; CompanyID is always set.
type ChunkFilters struct {
	CompanyID   int64
	DocumentIDs []int64
	MatrixID    int64
	EntitySetID int64
}

// RankedChunk is one search hit; Content may be lazily hydrated.
type RankedChunk struct {
	ChunkID    string
	DocumentID int64
	Score      float64
	Content    string
	Metadata   map[string]any
}

// KeywordIndex is the authoritative chunk index (BM25-style ranking).
type KeywordIndex interface {
	IndexChunk(ctx Context, c Chunk) error
	Search(ctx Context, query string, f ChunkFilters, limit int) ([]RankedChunk, error)
}

// VectorIndex is the best-effort semantic index.
type VectorIndex interface {
	UpsertChunk(ctx Context, c Chunk, vector []float32) error
	Search(ctx Context, vector []float32, f ChunkFilters, limit int) ([]RankedChunk, error)
}

// AIClient is the narrow AI provider contract.
type AIClient interface {
	Embed(ctx Context, texts []string) ([][]float32, error)
	// GenerateAnswers answers a cell prompt with typed answers and citations.
	GenerateAnswers(ctx Context, req AIRequest) (AIAnswerSet, error)
}

// AIRequest is the provider-agnostic QA request.
type AIRequest struct {
	Question       string
	QuestionTypeID int64
	DocumentIDs    []int64
	ContextChunks  []string
	MinAnswers     int
	MaxAnswers     int
}

// Extractor converts stored documents to per-page markdown. PDF extraction is
// asynchronous: StartAsync returns an operation id that Status polls.
type Extractor interface {
	// ExtractSync extracts simple formats in one call.
	ExtractSync(ctx Context, storageKey, contentType string) ([]string, error)
	// StartAsync begins extraction of a multi-page document.
	StartAsync(ctx Context, storageKey, contentType string) (string, error)
	// Status reports completion; pages is valid only when done.
	Status(ctx Context, operationID string) (done bool, pages []string, err error)
}

// BloomFilter is the advisory per-tenant checksum pre-filter.
type BloomFilter interface {
	MayContain(ctx Context, companyID int64, checksum string) (bool, error)
	Add(ctx Context, companyID int64, checksum string) error
}

// WorkflowStarter launches durable workflows with deterministic ids.
type WorkflowStarter interface {
	StartDocumentExtraction(ctx Context, companyID, documentID, jobID int64) error
	StartAgentQA(ctx Context, in AgentQAInput) error
	StartWorkflowExecution(ctx Context, companyID, workflowID, executionID int64) error
}

// AgentQAInput is the agent QA workflow input.
type AgentQAInput struct {
	JobID          int64             `json:"job_id"`
	CellID         int64             `json:"cell_id"`
	DocumentIDs    []int64           `json:"document_ids"`
	QuestionText   string            `json:"question_text"`
	MatrixType     MatrixType        `json:"matrix_type"`
	QuestionTypeID int64             `json:"question_type_id"`
	QuestionID     int64             `json:"question_id"`
	CompanyID      int64             `json:"company_id"`
	MinAnswers     int               `json:"min_answers"`
	MaxAnswers     int               `json:"max_answers"`
	TraceHeaders   map[string]string `json:"trace_headers,omitempty"`
}

// AgentRunner drives external code/agent jobs for the execution workflow.
type AgentRunner interface {
	Launch(ctx Context, companyID, workflowID, executionID int64) (agentID string, serviceAccount string, err error)
	Status(ctx Context, agentID string) (done bool, success bool, err error)
	Cleanup(ctx Context, agentID, serviceAccount string) error
}
