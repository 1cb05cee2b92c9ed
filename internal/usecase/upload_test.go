package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/internal/config"
	"github.com/latticehq/lattice/internal/domain"
)

type uploadFixture struct {
	docs      *fakeDocumentRepo
	blobs     *fakeBlobStore
	bloom     *fakeBloom
	usage     *fakeUsageRepo
	workflows *fakeWorkflowStarter
	svc       UploadService
}

func newUploadFixture() *uploadFixture {
	f := &uploadFixture{
		docs:      newFakeDocumentRepo(),
		blobs:     newFakeBlobStore(),
		bloom:     newFakeBloom(),
		usage:     &fakeUsageRepo{},
		workflows: &fakeWorkflowStarter{},
	}
	quota := NewQuotaService(config.Config{UsageSigningSecret: "test-secret"}, f.usage, &fakeSubscriptionRepo{})
	f.svc = NewUploadService(f.docs, f.blobs, f.bloom, quota, f.workflows)
	return f
}

func TestUpload_StoresDocumentAndStartsExtraction(t *testing.T) {
	t.Parallel()

	f := newUploadFixture()
	ctx := context.Background()
	content := []byte("%PDF-1.4 report body")

	doc, dup, err := f.svc.Upload(ctx, 7, "report.pdf", bytes.NewReader(content), false)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.NotZero(t, doc.ID)
	assert.Equal(t, "documents/company_7/report.pdf", doc.StorageKey)
	assert.Equal(t, int64(len(content)), doc.FileSize)
	assert.Equal(t, domain.ExtractionPending, doc.ExtractionStatus)
	assert.Contains(t, doc.ContentType, "application/pdf")

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), doc.Checksum)

	stored, err := f.blobs.Download(ctx, doc.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, content, stored)

	// Extraction job created and workflow launched.
	require.Len(t, f.docs.extractionJobs, 1)
	assert.Equal(t, domain.JobQueued, f.docs.extractionJobs[0].Status)
	assert.Equal(t, []int64{doc.ID}, f.workflows.extractions)

	// Storage usage tracked with the uploaded size.
	require.Len(t, f.usage.events, 1)
	assert.Equal(t, domain.UsageStorageUpload, f.usage.events[0].EventType)
	require.NotNil(t, f.usage.events[0].FileSizeBytes)
	assert.Equal(t, doc.FileSize, *f.usage.events[0].FileSizeBytes)
}

func TestUpload_DuplicateContentSkipsStorage(t *testing.T) {
	t.Parallel()

	f := newUploadFixture()
	ctx := context.Background()
	content := []byte("identical bytes")

	first, dup, err := f.svc.Upload(ctx, 7, "one.txt", bytes.NewReader(content), false)
	require.NoError(t, err)
	require.False(t, dup)

	// Same bytes under a different name: dedup hits, nothing new is stored.
	second, dup, err := f.svc.Upload(ctx, 7, "two.txt", bytes.NewReader(content), false)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.blobs.uploads)
	assert.Len(t, f.workflows.extractions, 1)
	assert.Len(t, f.usage.events, 1)
}

func TestUpload_SameContentDifferentTenants(t *testing.T) {
	t.Parallel()

	f := newUploadFixture()
	ctx := context.Background()
	content := []byte("shared bytes")

	a, dup, err := f.svc.Upload(ctx, 7, "a.txt", bytes.NewReader(content), false)
	require.NoError(t, err)
	require.False(t, dup)

	b, dup, err := f.svc.Upload(ctx, 8, "a.txt", bytes.NewReader(content), false)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, f.blobs.uploads)
}

func TestUpload_ConcurrentWinnerRecovered(t *testing.T) {
	t.Parallel()

	f := newUploadFixture()
	ctx := context.Background()
	content := []byte("raced bytes")

	// Seed the winning row directly; the bloom filter has not seen it, so the
	// pre-filter misses and Create hits the unique index.
	sum := sha256.Sum256(content)
	winnerID, err := f.docs.Create(ctx, domain.Document{
		CompanyID: 7, Filename: "winner.txt", Checksum: hex.EncodeToString(sum[:]),
	})
	require.NoError(t, err)

	doc, dup, err := f.svc.Upload(ctx, 7, "loser.txt", bytes.NewReader(content), false)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, winnerID, doc.ID)
	// No extraction starts for the losing attempt.
	assert.Empty(t, f.workflows.extractions)
}

func TestUpload_AgenticChunkingFlagCarried(t *testing.T) {
	t.Parallel()

	f := newUploadFixture()

	doc, _, err := f.svc.Upload(context.Background(), 7, "doc.txt", strings.NewReader("agentic"), true)
	require.NoError(t, err)
	assert.True(t, doc.UseAgenticChunking)

	stored, err := f.docs.Get(context.Background(), 7, doc.ID)
	require.NoError(t, err)
	assert.True(t, stored.UseAgenticChunking)
}

func TestDocumentKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "documents/company_7/report.pdf", DocumentKey(7, "report.pdf"))
}
