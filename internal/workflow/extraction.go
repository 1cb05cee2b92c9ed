// Package workflow holds the durable Temporal workflows: document extraction,
// agent QA and external workflow execution. Workflow ids are deterministic so
// duplicate starts collapse onto the running execution.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/latticehq/lattice/internal/config"
	"github.com/latticehq/lattice/internal/domain"
	"github.com/latticehq/lattice/internal/observability"
	"github.com/latticehq/lattice/internal/usecase"
)

// pageSeparator joins extracted pages into one markdown document. Empty pages
// keep their slot so page positions survive the join.
const pageSeparator = "\n\n---\n\n"

// ExtractionInput identifies the document and its extraction-phase job.
type ExtractionInput struct {
	CompanyID  int64 `json:"company_id"`
	DocumentID int64 `json:"document_id"`
	JobID      int64 `json:"job_id"`
}

// ExtractionTarget is the activity-resolved view of the document to extract.
type ExtractionTarget struct {
	StorageKey  string `json:"storage_key"`
	ContentType string `json:"content_type"`
	Extractable bool   `json:"extractable"`
}

// DocumentExtractionWorkflowID is deterministic per document.
func DocumentExtractionWorkflowID(documentID int64) string {
	return fmt.Sprintf("document-extraction-%d", documentID)
}

// DocumentExtractionWorkflow extracts a document to per-page markdown, stores
// the combined content and hands the document off to the indexing queue.
func DocumentExtractionWorkflow(ctx workflow.Context, in ExtractionInput) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})
	var a *ExtractionActivities

	var target ExtractionTarget
	if err := workflow.ExecuteActivity(ctx, a.LoadTarget, in).Get(ctx, &target); err != nil {
		return failExtraction(ctx, a, in, err)
	}
	if !target.Extractable {
		// Unsupported formats are stored but never extracted or indexed.
		workflow.GetLogger(ctx).Info("document not extractable, skipping",
			"document_id", in.DocumentID, "content_type", target.ContentType)
		return nil
	}

	if err := workflow.ExecuteActivity(ctx, a.MarkProcessing, in).Get(ctx, nil); err != nil {
		return failExtraction(ctx, a, in, err)
	}

	var pages []string
	if err := workflow.ExecuteActivity(ctx, a.ExtractPages, target).Get(ctx, &pages); err != nil {
		return failExtraction(ctx, a, in, err)
	}

	var contentPath string
	if err := workflow.ExecuteActivity(ctx, a.StoreExtracted, in, pages).Get(ctx, &contentPath); err != nil {
		return failExtraction(ctx, a, in, err)
	}

	if err := workflow.ExecuteActivity(ctx, a.CompleteExtraction, in, contentPath).Get(ctx, nil); err != nil {
		return failExtraction(ctx, a, in, err)
	}
	return nil
}

// failExtraction records the terminal failure on a disconnected context so it
// runs even when the workflow context is cancelled, then surfaces the cause.
func failExtraction(ctx workflow.Context, a *ExtractionActivities, in ExtractionInput, cause error) error {
	dctx, cancel := workflow.NewDisconnectedContext(ctx)
	defer cancel()
	dctx = workflow.WithActivityOptions(dctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	})
	if err := workflow.ExecuteActivity(dctx, a.FailExtraction, in, cause.Error()).Get(dctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("failed to record extraction failure", "error", err)
	}
	return cause
}

// ExtractionActivities carries the side-effecting dependencies of the
// extraction workflow.
type ExtractionActivities struct {
	Documents domain.DocumentRepository
	Blobs     domain.BlobStore
	Extractor domain.Extractor
	Queue     domain.Queue
	Cfg       config.Config
}

// NewExtractionActivities constructs the activity set.
func NewExtractionActivities(d domain.DocumentRepository, b domain.BlobStore, e domain.Extractor, q domain.Queue, cfg config.Config) *ExtractionActivities {
	return &ExtractionActivities{Documents: d, Blobs: b, Extractor: e, Queue: q, Cfg: cfg}
}

// isExtractable reports whether the extractor understands a content type.
func isExtractable(contentType string) bool {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/rtf":
		return true
	}
	return strings.HasPrefix(ct, "text/")
}

// LoadTarget resolves the stored document into an extraction target.
func (a *ExtractionActivities) LoadTarget(ctx context.Context, in ExtractionInput) (ExtractionTarget, error) {
	doc, err := a.Documents.Get(ctx, in.CompanyID, in.DocumentID)
	if err != nil {
		return ExtractionTarget{}, fmt.Errorf("op=extraction.load_target: %w", err)
	}
	return ExtractionTarget{
		StorageKey:  doc.StorageKey,
		ContentType: doc.ContentType,
		Extractable: isExtractable(doc.ContentType),
	}, nil
}

// MarkProcessing stamps the document and moves the phase job to PROCESSING.
func (a *ExtractionActivities) MarkProcessing(ctx context.Context, in ExtractionInput) error {
	if err := a.Documents.UpdateExtractionStarted(ctx, in.DocumentID, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=extraction.mark_processing: %w", err)
	}
	if err := a.Documents.UpdateExtractionJob(ctx, in.JobID, domain.JobProcessing, ""); err != nil {
		return fmt.Errorf("op=extraction.mark_processing: %w", err)
	}
	return nil
}

var errExtractionPending = errors.New("extraction still running")

// ExtractPages runs the extractor. PDFs extract asynchronously: the operation
// is polled with exponential backoff capped by the configured ceiling, and
// each poll heartbeats so a dead worker surfaces quickly.
func (a *ExtractionActivities) ExtractPages(ctx context.Context, target ExtractionTarget) ([]string, error) {
	if target.ContentType != "application/pdf" {
		pages, err := a.Extractor.ExtractSync(ctx, target.StorageKey, target.ContentType)
		if err != nil {
			return nil, fmt.Errorf("op=extraction.extract_pages: %w", err)
		}
		return pages, nil
	}

	opID, err := a.Extractor.StartAsync(ctx, target.StorageKey, target.ContentType)
	if err != nil {
		return nil, fmt.Errorf("op=extraction.extract_pages: %w", err)
	}

	var pages []string
	poll := func() error {
		activity.RecordHeartbeat(ctx, opID)
		done, p, perr := a.Extractor.Status(ctx, opID)
		if perr != nil {
			return backoff.Permanent(perr)
		}
		if !done {
			return errExtractionPending
		}
		pages = p
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = a.Cfg.ExtractionPollCeiling
	if err := backoff.Retry(poll, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("op=extraction.extract_pages op_id=%s: %w", opID, err)
	}
	return pages, nil
}

// StoreExtracted uploads the combined markdown and returns its storage key.
func (a *ExtractionActivities) StoreExtracted(ctx context.Context, in ExtractionInput, pages []string) (string, error) {
	key := usecase.ExtractedContentKey(in.CompanyID, in.DocumentID)
	combined := strings.Join(pages, pageSeparator)
	err := a.Blobs.Upload(ctx, key, strings.NewReader(combined), map[string]string{
		"content-type": "text/markdown",
	})
	if err != nil {
		return "", fmt.Errorf("op=extraction.store: %w", err)
	}
	return key, nil
}

// CompleteExtraction finalizes the document, completes the phase job and
// queues the indexing phase.
func (a *ExtractionActivities) CompleteExtraction(ctx context.Context, in ExtractionInput, contentPath string) error {
	if err := a.Documents.UpdateExtractionCompleted(ctx, in.DocumentID, contentPath, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=extraction.complete: %w", err)
	}
	if err := a.Documents.UpdateExtractionJob(ctx, in.JobID, domain.JobCompleted, ""); err != nil {
		return fmt.Errorf("op=extraction.complete: %w", err)
	}
	observability.CompleteJob("extraction")

	jobID, err := a.Documents.CreateIndexingJob(ctx, domain.DocumentIndexingJob{
		DocumentID: in.DocumentID,
		CompanyID:  in.CompanyID,
		Status:     domain.JobQueued,
	})
	if err != nil {
		return fmt.Errorf("op=extraction.complete: %w", err)
	}
	if err := a.Queue.PublishIndexingJob(ctx, domain.IndexingJobMessage{JobID: jobID, DocumentID: in.DocumentID}); err != nil {
		if uerr := a.Documents.UpdateIndexingJob(ctx, jobID, domain.JobFailed, "Failed to queue job"); uerr != nil {
			slog.Error("failed to mark indexing job failed", slog.Int64("job_id", jobID), slog.Any("error", uerr))
		}
		return fmt.Errorf("op=extraction.complete: %w", err)
	}
	return nil
}

// FailExtraction marks the document and its phase job FAILED.
func (a *ExtractionActivities) FailExtraction(ctx context.Context, in ExtractionInput, msg string) error {
	if err := a.Documents.UpdateExtractionFailed(ctx, in.DocumentID); err != nil {
		slog.Error("failed to mark document failed", slog.Int64("document_id", in.DocumentID), slog.Any("error", err))
	}
	if err := a.Documents.UpdateExtractionJob(ctx, in.JobID, domain.JobFailed, msg); err != nil {
		return fmt.Errorf("op=extraction.fail: %w", err)
	}
	observability.FailJob("extraction")
	return nil
}
