package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/latticehq/lattice/internal/chunker"
	"github.com/latticehq/lattice/internal/domain"
	"github.com/latticehq/lattice/internal/observability"
)

// IndexingService consumes document_indexing messages: it selects a chunking
// strategy, splits the extracted markdown, and indexes every chunk. The
// keyword index is authoritative; vector indexing is best effort.
type IndexingService struct {
	Documents domain.DocumentRepository
	Blobs     domain.BlobStore
	Quota     QuotaService
	AI        domain.AIClient
	Keyword   domain.KeywordIndex
	Vector    domain.VectorIndex
	Sentence  chunker.Chunker
	Agentic   chunker.Chunker
}

// chunkID derives the stable id of the i-th chunk of a document, so
// re-indexing overwrites in place.
func chunkID(documentID int64, i int) string {
	return fmt.Sprintf("%d-%05d", documentID, i)
}

// HandleIndexingJob processes one queue message. A returned error signals the
// consumer to dead-letter the message; permanent conditions (missing job,
// exhausted quota) are terminal in place and return nil.
func (s IndexingService) HandleIndexingJob(ctx domain.Context, msg domain.IndexingJobMessage) error {
	job, err := s.Documents.GetIndexingJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("indexing job not found", slog.Int64("job_id", msg.JobID))
			return nil
		}
		return fmt.Errorf("op=indexing.handle: %w", err)
	}
	if job.Status == domain.JobCompleted {
		return nil
	}
	if err := s.Documents.UpdateIndexingJob(ctx, job.ID, domain.JobProcessing, ""); err != nil {
		return fmt.Errorf("op=indexing.handle: %w", err)
	}

	doc, err := s.Documents.Get(ctx, job.CompanyID, msg.DocumentID)
	if err != nil {
		return s.fail(ctx, job.ID, msg.DocumentID, fmt.Errorf("load document: %w", err))
	}
	if doc.ExtractedContentPath == "" {
		return s.fail(ctx, job.ID, doc.ID, fmt.Errorf("%w: document %d has no extracted content", domain.ErrInvalidArgument, doc.ID))
	}
	content, err := s.Blobs.Download(ctx, doc.ExtractedContentPath)
	if err != nil {
		return s.fail(ctx, job.ID, doc.ID, fmt.Errorf("download extracted content: %w", err))
	}

	strategy, reservation, err := s.selectStrategy(ctx, doc)
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			// Permanent for this job: retrying cannot free quota.
			s.markFailed(ctx, job.ID, doc.ID, err)
			return nil
		}
		return s.fail(ctx, job.ID, doc.ID, err)
	}

	chunks, err := s.chunk(ctx, strategy, string(content))
	if err != nil {
		if strategy == domain.ChunkingAgentic && reservation.UsageEventID != 0 {
			if rerr := s.Quota.RefundAgenticChunking(ctx, doc.CompanyID, doc.ID, reservation.UsageEventID); rerr != nil {
				slog.Error("agentic chunking refund failed", slog.Int64("document_id", doc.ID), slog.Any("error", rerr))
			}
		}
		return s.fail(ctx, job.ID, doc.ID, fmt.Errorf("chunk document: %w", err))
	}
	if strategy == domain.ChunkingAgentic {
		if err := s.Quota.UpdateChunkingMetadata(ctx, reservation.UsageEventID, len(chunks)); err != nil {
			slog.Error("chunking metadata update failed", slog.Int64("document_id", doc.ID), slog.Any("error", err))
		}
	}

	if err := s.indexChunks(ctx, doc, chunks); err != nil {
		return s.fail(ctx, job.ID, doc.ID, err)
	}

	if err := s.Documents.UpdateIndexingJob(ctx, job.ID, domain.JobCompleted, ""); err != nil {
		return fmt.Errorf("op=indexing.handle: %w", err)
	}
	observability.CompleteJob("indexing")
	slog.Info("document indexed",
		slog.Int64("document_id", doc.ID), slog.String("strategy", string(strategy)), slog.Int("chunks", len(chunks)))
	return nil
}

// selectStrategy picks SENTENCE for plain documents and reserves an agentic
// credit otherwise; an exhausted quota is ErrQuotaExceeded.
func (s IndexingService) selectStrategy(ctx domain.Context, doc domain.Document) (domain.ChunkingStrategy, Reservation, error) {
	if !doc.UseAgenticChunking {
		return domain.ChunkingSentence, Reservation{}, nil
	}
	res, err := s.Quota.ReserveAgenticChunking(ctx, doc.CompanyID)
	if err != nil {
		return "", Reservation{}, fmt.Errorf("reserve agentic chunking: %w", err)
	}
	if !res.Reserved {
		return "", res, fmt.Errorf("%w: agentic chunking %d/%d this month (tier %s)",
			domain.ErrQuotaExceeded, res.CurrentUsage, res.Limit, res.Tier)
	}
	return domain.ChunkingAgentic, res, nil
}

func (s IndexingService) chunk(ctx domain.Context, strategy domain.ChunkingStrategy, content string) ([]string, error) {
	switch strategy {
	case domain.ChunkingAgentic:
		return s.Agentic.Chunk(ctx, content)
	default:
		return s.Sentence.Chunk(ctx, content)
	}
}

// indexChunks uploads chunk bodies, writes the keyword index, then embeds and
// upserts vectors best effort.
func (s IndexingService) indexChunks(ctx domain.Context, doc domain.Document, chunks []string) error {
	ids := make([]string, len(chunks))
	for i, content := range chunks {
		ids[i] = chunkID(doc.ID, i)
		key := ChunkContentKey(doc.CompanyID, doc.ID, ids[i])
		if err := s.Blobs.Upload(ctx, key, strings.NewReader(content), nil); err != nil {
			return fmt.Errorf("store chunk %s: %w", ids[i], err)
		}
		if err := s.Keyword.IndexChunk(ctx, domain.Chunk{
			ID:         ids[i],
			DocumentID: doc.ID,
			CompanyID:  doc.CompanyID,
			Content:    content,
			Metadata:   map[string]any{"chunk_order": i},
		}); err != nil {
			return fmt.Errorf("keyword index chunk %s: %w", ids[i], err)
		}
	}

	if len(chunks) == 0 {
		return nil
	}
	vectors, err := s.AI.Embed(ctx, chunks)
	if err != nil {
		slog.Warn("chunk embedding failed, vector index skipped",
			slog.Int64("document_id", doc.ID), slog.Any("error", err))
		return nil
	}
	for i, content := range chunks {
		if i >= len(vectors) {
			break
		}
		err := s.Vector.UpsertChunk(ctx, domain.Chunk{
			ID:         ids[i],
			DocumentID: doc.ID,
			CompanyID:  doc.CompanyID,
			Content:    content,
			Metadata:   map[string]any{"chunk_order": i},
		}, vectors[i])
		if err != nil {
			slog.Warn("vector upsert failed",
				slog.String("chunk_id", ids[i]), slog.Any("error", err))
		}
	}
	return nil
}

// markFailed moves the job and its document to FAILED so the failure is
// visible on the entity, not just the job row.
func (s IndexingService) markFailed(ctx domain.Context, jobID, documentID int64, cause error) {
	if err := s.Documents.UpdateIndexingJob(ctx, jobID, domain.JobFailed, cause.Error()); err != nil {
		slog.Error("failed to mark indexing job failed", slog.Int64("job_id", jobID), slog.Any("error", err))
	}
	if documentID != 0 {
		if err := s.Documents.UpdateExtractionFailed(ctx, documentID); err != nil {
			slog.Error("failed to mark document failed", slog.Int64("document_id", documentID), slog.Any("error", err))
		}
	}
	observability.FailJob("indexing")
}

// fail marks the job and document FAILED and propagates the cause so the
// consumer dead-letters the message.
func (s IndexingService) fail(ctx domain.Context, jobID, documentID int64, cause error) error {
	s.markFailed(ctx, jobID, documentID, cause)
	return fmt.Errorf("op=indexing.handle job=%d: %w", jobID, cause)
}
