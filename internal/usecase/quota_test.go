package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/internal/config"
	"github.com/latticehq/lattice/internal/domain"
)

func newQuotaFixture(subs map[int64]domain.Subscription) (QuotaService, *fakeUsageRepo) {
	usage := &fakeUsageRepo{}
	cfg := config.Config{
		UsageSigningSecret:       "test-secret",
		FreeAgenticChunkingLimit: 3,
		ProAgenticChunkingLimit:  100,
		FreeWorkflowLimit:        10,
		ProWorkflowLimit:         500,
	}
	return NewQuotaService(cfg, usage, &fakeSubscriptionRepo{subs: subs}), usage
}

func TestReserveAgenticChunking_FreeTierLimit(t *testing.T) {
	t.Parallel()

	svc, usage := newQuotaFixture(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := svc.ReserveAgenticChunking(ctx, 7)
		require.NoError(t, err)
		assert.True(t, res.Reserved, "reservation %d", i+1)
		assert.Equal(t, domain.TierFree, res.Tier)
		assert.Equal(t, int64(3), res.Limit)
	}

	res, err := svc.ReserveAgenticChunking(ctx, 7)
	require.NoError(t, err)
	assert.False(t, res.Reserved)
	assert.Equal(t, int64(3), res.CurrentUsage)
	assert.Len(t, usage.events, 3)
}

func TestReserveAgenticChunking_ProTier(t *testing.T) {
	t.Parallel()

	svc, _ := newQuotaFixture(map[int64]domain.Subscription{
		7: {CompanyID: 7, Tier: domain.TierPro, Status: domain.SubscriptionActive},
	})

	res, err := svc.ReserveAgenticChunking(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, res.Reserved)
	assert.Equal(t, domain.TierPro, res.Tier)
	assert.Equal(t, int64(100), res.Limit)
}

func TestReserveAgenticChunking_TenantsIsolated(t *testing.T) {
	t.Parallel()

	svc, _ := newQuotaFixture(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := svc.ReserveAgenticChunking(ctx, 7)
		require.NoError(t, err)
		require.True(t, res.Reserved)
	}

	// A different tenant starts fresh.
	res, err := svc.ReserveAgenticChunking(ctx, 8)
	require.NoError(t, err)
	assert.True(t, res.Reserved)
}

func TestRefundAgenticChunking_RestoresQuota(t *testing.T) {
	t.Parallel()

	svc, usage := newQuotaFixture(nil)
	ctx := context.Background()

	var lastEventID int64
	for i := 0; i < 3; i++ {
		res, err := svc.ReserveAgenticChunking(ctx, 7)
		require.NoError(t, err)
		require.True(t, res.Reserved)
		lastEventID = res.UsageEventID
	}

	require.NoError(t, svc.RefundAgenticChunking(ctx, 7, 42, lastEventID))

	refund := usage.events[len(usage.events)-1]
	assert.Equal(t, int64(-1), refund.Quantity)
	assert.Equal(t, domain.UsageAgenticChunking, refund.EventType)
	assert.Equal(t, int64(42), refund.Metadata["document_id"])
	assert.Equal(t, lastEventID, refund.Metadata["refund_for_event_id"])
	assert.Equal(t, "chunking_failed", refund.Metadata["reason"])

	// The refunded credit is available again.
	res, err := svc.ReserveAgenticChunking(ctx, 7)
	require.NoError(t, err)
	assert.True(t, res.Reserved)
}

func TestLedgerEventsAreSigned(t *testing.T) {
	t.Parallel()

	svc, usage := newQuotaFixture(nil)
	ctx := context.Background()

	_, err := svc.ReserveAgenticChunking(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, svc.TrackWorkflow(ctx, 7, nil))
	require.NoError(t, svc.TrackCellOperations(ctx, 7, 5, nil))

	for _, e := range usage.events {
		assert.True(t, domain.VerifyUsageEvent("test-secret", e), "event %d/%s", e.ID, e.EventType)
	}
}

func TestCheckWorkflowQuota(t *testing.T) {
	t.Parallel()

	svc, _ := newQuotaFixture(nil)
	ctx := context.Background()

	require.NoError(t, svc.CheckWorkflowQuota(ctx, 7))

	for i := 0; i < 10; i++ {
		require.NoError(t, svc.TrackWorkflow(ctx, 7, nil))
	}
	err := svc.CheckWorkflowQuota(ctx, 7)
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
}

func TestTrackCellOperations_SkipsZero(t *testing.T) {
	t.Parallel()

	svc, usage := newQuotaFixture(nil)
	require.NoError(t, svc.TrackCellOperations(context.Background(), 7, 0, nil))
	assert.Empty(t, usage.events)
}

func TestTrackStorageUpload_CarriesSize(t *testing.T) {
	t.Parallel()

	svc, usage := newQuotaFixture(nil)
	require.NoError(t, svc.TrackStorageUpload(context.Background(), 7, 2048, map[string]any{"document_id": int64(1)}))

	require.Len(t, usage.events, 1)
	e := usage.events[0]
	assert.Equal(t, domain.UsageStorageUpload, e.EventType)
	require.NotNil(t, e.FileSizeBytes)
	assert.Equal(t, int64(2048), *e.FileSizeBytes)
}

func TestUpdateChunkingMetadata(t *testing.T) {
	t.Parallel()

	svc, usage := newQuotaFixture(nil)
	ctx := context.Background()

	res, err := svc.ReserveAgenticChunking(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, svc.UpdateChunkingMetadata(ctx, res.UsageEventID, 17))
	assert.Equal(t, 17, usage.meta[res.UsageEventID]["chunk_count"])
}
