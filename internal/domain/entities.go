// Package domain holds the core entities, ports and error taxonomy for the
// matrix orchestration subsystem. Everything here is tenant-scoped: each row
// carries a CompanyID and a soft-delete flag.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrConflict        = errors.New("conflict")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrLockUnavailable = errors.New("lock unavailable")
	ErrInternal        = errors.New("internal error")
)

// MatrixType enumerates matrix shapes.
type MatrixType string

const (
	MatrixStandard    MatrixType = "STANDARD"
	MatrixCorrelation MatrixType = "CORRELATION"
)

// EntityType enumerates the kinds an entity set may hold.
type EntityType string

const (
	EntityDocument EntityType = "DOCUMENT"
	EntityQuestion EntityType = "QUESTION"
)

// EntityRole enumerates roles a cell entity reference may take.
type EntityRole string

const (
	RoleDocument EntityRole = "DOCUMENT"
	RoleQuestion EntityRole = "QUESTION"
	RoleLeft     EntityRole = "LEFT"
	RoleRight    EntityRole = "RIGHT"
)

// CellStatus is the lifecycle state of a matrix cell.
type CellStatus string

const (
	CellPending    CellStatus = "PENDING"
	CellProcessing CellStatus = "PROCESSING"
	CellCompleted  CellStatus = "COMPLETED"
	CellFailed     CellStatus = "FAILED"
)

// JobStatus is shared by QA, extraction and indexing jobs.
type JobStatus string

const (
	JobQueued     JobStatus = "QUEUED"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// ExtractionStatus is the document-level extraction lifecycle.
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "PENDING"
	ExtractionProcessing ExtractionStatus = "PROCESSING"
	ExtractionCompleted  ExtractionStatus = "COMPLETED"
	ExtractionFailed     ExtractionStatus = "FAILED"
)

// Matrix is a named container for cells inside a workspace.
type Matrix struct {
	ID          int64
	WorkspaceID int64
	CompanyID   int64
	Name        string
	Description string
	MatrixType  MatrixType
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EntitySet is a named, ordered, tenant-scoped collection of entities of a
// single kind, attached to a matrix.
type EntitySet struct {
	ID         int64
	MatrixID   int64
	CompanyID  int64
	Name       string
	EntityType EntityType
	CreatedAt  time.Time
}

// EntitySetMember is one entity inside a set. Label is optional display text
// that, when present, wins over "Document {id}" in placeholder resolution.
type EntitySetMember struct {
	ID          int64
	EntitySetID int64
	EntityType  EntityType
	EntityID    int64
	MemberOrder int
	Label       string
}

// MatrixCell is a coordinate in the matrix, fully described by its refs.
type MatrixCell struct {
	ID                 int64
	MatrixID           int64
	CompanyID          int64
	Status             CellStatus
	CellType           MatrixType
	CurrentAnswerSetID *int64
	CellSignature      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CellEntityRef ties a cell to one entity-set member under a role.
type CellEntityRef struct {
	ID                int64
	MatrixCellID      int64
	MatrixID          int64
	EntitySetID       int64
	EntitySetMemberID int64
	Role              EntityRole
	EntityOrder       int
	CompanyID         int64
}

// CellSpec is a strategy's description of a cell that must exist. Signature is
// computed over the (role, member id) pairs; see CellSignature.
type CellSpec struct {
	CellType  MatrixType
	Refs      []CellRefSpec
	Signature string
}

// CellRefSpec is one planned entity ref inside a CellSpec.
type CellRefSpec struct {
	EntitySetID       int64
	EntitySetMemberID int64
	EntityID          int64
	Role              EntityRole
	EntityOrder       int
}

// AnswerSet groups the answers produced by one QA run over a cell.
type AnswerSet struct {
	ID             int64
	MatrixCellID   int64
	QuestionTypeID int64
	AnswerFound    bool
	Confidence     float64
	CreatedAt      time.Time
}

// Answer is a single typed answer inside a set.
type Answer struct {
	ID                   int64
	AnswerSetID          int64
	AnswerData           AnswerData
	CurrentCitationSetID *int64
}

// CitationSet groups the citations backing one answer.
type CitationSet struct {
	ID       int64
	AnswerID int64
}

// Citation is one quoted source passage.
type Citation struct {
	ID            int64
	CitationSetID int64
	DocumentID    int64
	CitationOrder int
	QuoteText     string
}

// QAJob is a durable record of one scheduling attempt for a cell. Multiple
// jobs per cell are allowed; the distributed lock collapses concurrent runs.
type QAJob struct {
	ID              int64
	MatrixCellID    int64
	CompanyID       int64
	Status          JobStatus
	WorkerMessageID string
	ErrorMessage    string
	CompletedAt     *time.Time
	CreatedAt       time.Time
}

// Question is the QA side of a cell; UseAgentQA routes it to the agent
// workflow instead of the synchronous path.
type Question struct {
	ID             int64
	CompanyID      int64
	Text           string
	QuestionTypeID int64
	UseAgentQA     bool
	MinAnswers     int
	MaxAnswers     int
}

// Document is an uploaded, content-addressed file.
type Document struct {
	ID                    int64
	CompanyID             int64
	Filename              string
	StorageKey            string
	Checksum              string
	ContentType           string
	FileSize              int64
	UseAgenticChunking    bool
	ExtractionStatus      ExtractionStatus
	ExtractedContentPath  string
	ExtractionStartedAt   *time.Time
	ExtractionCompletedAt *time.Time
	CreatedAt             time.Time
}

// DocumentExtractionJob mirrors the QA job shape for the extraction phase.
type DocumentExtractionJob struct {
	ID           int64
	DocumentID   int64
	CompanyID    int64
	Status       JobStatus
	ErrorMessage string
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

// DocumentIndexingJob mirrors the QA job shape for the indexing phase.
type DocumentIndexingJob struct {
	ID           int64
	DocumentID   int64
	CompanyID    int64
	Status       JobStatus
	ErrorMessage string
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

// SubscriptionTier gates monthly quotas.
type SubscriptionTier string

const (
	TierFree       SubscriptionTier = "FREE"
	TierPro        SubscriptionTier = "PRO"
	TierEnterprise SubscriptionTier = "ENTERPRISE"
)

// SubscriptionStatus is the billing state of a tenant subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionSuspended SubscriptionStatus = "SUSPENDED"
)

// Subscription is the single billing record per tenant.
type Subscription struct {
	ID                 int64
	CompanyID          int64
	Tier               SubscriptionTier
	Status             SubscriptionStatus
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	ProviderSubID      string
}

// UsageEventType enumerates ledger counters.
type UsageEventType string

const (
	UsageCellOperation   UsageEventType = "CELL_OPERATION"
	UsageAgenticQA       UsageEventType = "AGENTIC_QA"
	UsageAgenticChunking UsageEventType = "AGENTIC_CHUNKING"
	UsageWorkflow        UsageEventType = "WORKFLOW"
	UsageStorageUpload   UsageEventType = "STORAGE_UPLOAD"
)

// UsageEvent is one signed, append-only ledger row. Refunds are new rows with
// negative Quantity and Metadata["refund_for_event_id"] set.
type UsageEvent struct {
	ID            int64
	CompanyID     int64
	UserID        *int64
	EventType     UsageEventType
	Quantity      int64
	FileSizeBytes *int64
	Metadata      map[string]any
	Signature     string
	CreatedAt     time.Time
}

// MatrixTemplateVariable is an id-addressed template value, pattern #{{<id>}}.
type MatrixTemplateVariable struct {
	ID             int64
	MatrixID       int64
	TemplateString string
	Value          string
}

// QuestionTemplateVariable tracks which questions depend on which variables.
type QuestionTemplateVariable struct {
	ID                 int64
	QuestionID         int64
	TemplateVariableID int64
	Deleted            bool
}

// Chunk is one indexed fragment of an extracted document.
type Chunk struct {
	ID         string
	DocumentID int64
	CompanyID  int64
	Content    string
	Metadata   map[string]any
}

// ChunkingStrategy selects how a document is split.
type ChunkingStrategy string

const (
	ChunkingSentence ChunkingStrategy = "SENTENCE"
	ChunkingAgentic  ChunkingStrategy = "AGENTIC"
)

// QAJobMessage is the qa_worker queue payload.
type QAJobMessage struct {
	JobID        int64 `json:"job_id"`
	MatrixCellID int64 `json:"matrix_cell_id"`
}

// IndexingJobMessage is the document_indexing queue payload.
type IndexingJobMessage struct {
	JobID      int64 `json:"job_id"`
	DocumentID int64 `json:"document_id"`
}

// AIAnswer is one typed answer with citations as returned by the AI layer.
type AIAnswer struct {
	Data       AnswerData
	Confidence float64
	Citations  []AICitation
}

// AICitation is a quoted passage backing an AIAnswer.
type AICitation struct {
	DocumentID int64
	QuoteText  string
}

// AIAnswerSet is the full result of answering one cell.
type AIAnswerSet struct {
	Answers []AIAnswer
}

// WorkflowExecution records one code/agent job run driven by the
// workflow-execution workflow.
type WorkflowExecution struct {
	ID             int64
	WorkflowID     int64
	CompanyID      int64
	Status         JobStatus
	GeneratedFiles []string
	TotalBytes     int64
	CostUSD        float64
	DurationMS     int64
	ErrorMessage   string
	CreatedAt      time.Time
}

// Context aliases context.Context; adapters and usecases pass it through.
type Context = context.Context
