package usecase

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/latticehq/lattice/internal/domain"
)

// UploadService ingests documents with content-addressed deduplication: a
// per-tenant bloom filter pre-screens the checksum and the database unique
// index is the authoritative check.
type UploadService struct {
	Documents domain.DocumentRepository
	Blobs     domain.BlobStore
	Bloom     domain.BloomFilter
	Quota     QuotaService
	Workflows domain.WorkflowStarter
}

// NewUploadService constructs an UploadService.
func NewUploadService(d domain.DocumentRepository, b domain.BlobStore, bf domain.BloomFilter, q QuotaService, w domain.WorkflowStarter) UploadService {
	return UploadService{Documents: d, Blobs: b, Bloom: bf, Quota: q, Workflows: w}
}

// DocumentKey is the object-storage key for an uploaded document.
func DocumentKey(companyID int64, filename string) string {
	return fmt.Sprintf("documents/company_%d/%s", companyID, filename)
}

// Upload stores a document unless a byte-identical one already exists for the
// tenant. The second return reports whether the result is a pre-existing
// duplicate; duplicates never touch object storage.
func (s UploadService) Upload(ctx domain.Context, companyID int64, filename string, r io.Reader, useAgenticChunking bool) (domain.Document, bool, error) {
	// Stream-hash while buffering; uploads are size-capped by the HTTP layer.
	h := sha256.New()
	var buf bytes.Buffer
	if _, err := io.Copy(io.MultiWriter(h, &buf), r); err != nil {
		return domain.Document{}, false, fmt.Errorf("op=upload.read: %w", err)
	}
	checksum := hex.EncodeToString(h.Sum(nil))

	mayExist, err := s.Bloom.MayContain(ctx, companyID, checksum)
	if err != nil {
		// The filter is advisory; fall through to the authoritative lookup.
		slog.Warn("bloom check failed", slog.Any("error", err))
		mayExist = true
	}
	if mayExist {
		existing, err := s.Documents.FindByChecksum(ctx, companyID, checksum)
		switch {
		case err == nil:
			return existing, true, nil
		case !errors.Is(err, domain.ErrNotFound):
			return domain.Document{}, false, fmt.Errorf("op=upload.dedup: %w", err)
		}
	}

	contentType := mimetype.Detect(buf.Bytes()).String()
	key := DocumentKey(companyID, filename)
	if err := s.Blobs.Upload(ctx, key, bytes.NewReader(buf.Bytes()), map[string]string{
		"checksum": checksum,
	}); err != nil {
		return domain.Document{}, false, fmt.Errorf("op=upload.store: %w", err)
	}

	doc := domain.Document{
		CompanyID:          companyID,
		Filename:           filename,
		StorageKey:         key,
		Checksum:           checksum,
		ContentType:        contentType,
		FileSize:           int64(buf.Len()),
		UseAgenticChunking: useAgenticChunking,
		ExtractionStatus:   domain.ExtractionPending,
		CreatedAt:          time.Now().UTC(),
	}
	id, err := s.Documents.Create(ctx, doc)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// A concurrent upload won the unique checksum index.
			existing, ferr := s.Documents.FindByChecksum(ctx, companyID, checksum)
			if ferr == nil {
				return existing, true, nil
			}
		}
		return domain.Document{}, false, fmt.Errorf("op=upload.create: %w", err)
	}
	doc.ID = id

	if err := s.Bloom.Add(ctx, companyID, checksum); err != nil {
		slog.Warn("bloom add failed", slog.Int64("document_id", id), slog.Any("error", err))
	}
	if err := s.Quota.TrackStorageUpload(ctx, companyID, doc.FileSize, map[string]any{"document_id": id}); err != nil {
		slog.Error("storage usage tracking failed", slog.Int64("document_id", id), slog.Any("error", err))
	}

	if err := s.startExtraction(ctx, doc); err != nil {
		slog.Error("extraction start failed", slog.Int64("document_id", id), slog.Any("error", err))
	}
	return doc, false, nil
}

// startExtraction creates the extraction job record and launches the durable
// workflow; the deterministic workflow id collapses duplicate starts.
func (s UploadService) startExtraction(ctx domain.Context, doc domain.Document) error {
	jobID, err := s.Documents.CreateExtractionJob(ctx, domain.DocumentExtractionJob{
		DocumentID: doc.ID,
		CompanyID:  doc.CompanyID,
		Status:     domain.JobQueued,
	})
	if err != nil {
		return fmt.Errorf("create extraction job: %w", err)
	}
	if err := s.Workflows.StartDocumentExtraction(ctx, doc.CompanyID, doc.ID, jobID); err != nil {
		return fmt.Errorf("start extraction workflow: %w", err)
	}
	return nil
}
