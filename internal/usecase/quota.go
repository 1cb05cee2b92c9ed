package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/latticehq/lattice/internal/config"
	"github.com/latticehq/lattice/internal/domain"
	"github.com/latticehq/lattice/internal/observability"
)

// Reservation is the outcome of a quota reservation attempt.
type Reservation struct {
	Reserved     bool
	UsageEventID int64
	CurrentUsage int64
	Limit        int64
	Tier         domain.SubscriptionTier
}

// QuotaService reserves, tracks and refunds per-tenant usage against the
// append-only signed ledger.
type QuotaService struct {
	Cfg           config.Config
	Usage         domain.UsageRepository
	Subscriptions domain.SubscriptionRepository
}

// NewQuotaService constructs a QuotaService.
func NewQuotaService(cfg config.Config, u domain.UsageRepository, s domain.SubscriptionRepository) QuotaService {
	return QuotaService{Cfg: cfg, Usage: u, Subscriptions: s}
}

// tier resolves the tenant's tier; no subscription row means FREE.
func (s QuotaService) tier(ctx domain.Context, companyID int64) (domain.SubscriptionTier, error) {
	sub, err := s.Subscriptions.GetByCompany(ctx, companyID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TierFree, nil
		}
		return "", err
	}
	return sub.Tier, nil
}

// signedEvent builds a ledger row with its HMAC signature.
func (s QuotaService) signedEvent(companyID int64, eventType domain.UsageEventType, quantity int64, metadata map[string]any) domain.UsageEvent {
	now := time.Now().UTC()
	return domain.UsageEvent{
		CompanyID: companyID,
		EventType: eventType,
		Quantity:  quantity,
		Metadata:  metadata,
		Signature: domain.SignUsageEvent(s.Cfg.UsageSigningSecret, companyID, eventType, quantity, now),
		CreatedAt: now,
	}
}

// ReserveAgenticChunking reserves one agentic-chunking credit if the tenant's
// monthly signed sum is below the tier limit. The check-and-append pair is
// serialized per tenant and counter by the repository.
func (s QuotaService) ReserveAgenticChunking(ctx domain.Context, companyID int64) (Reservation, error) {
	tier, err := s.tier(ctx, companyID)
	if err != nil {
		return Reservation{}, fmt.Errorf("op=quota.reserve_chunking: %w", err)
	}
	limit := s.Cfg.AgenticChunkingLimit(tier)
	e := s.signedEvent(companyID, domain.UsageAgenticChunking, 1, nil)
	eventID, sum, reserved, err := s.Usage.AppendWithinLimit(ctx, e, limit)
	if err != nil {
		return Reservation{}, fmt.Errorf("op=quota.reserve_chunking: %w", err)
	}
	if !reserved {
		observability.QuotaDeniedTotal.WithLabelValues(string(domain.UsageAgenticChunking)).Inc()
		return Reservation{Reserved: false, CurrentUsage: sum, Limit: limit, Tier: tier}, nil
	}
	return Reservation{Reserved: true, UsageEventID: eventID, CurrentUsage: sum, Limit: limit, Tier: tier}, nil
}

// RefundAgenticChunking appends a -1 event restoring the monthly sum after a
// failed chunking run. The original reservation row is never touched.
func (s QuotaService) RefundAgenticChunking(ctx domain.Context, companyID, documentID, originalEventID int64) error {
	e := s.signedEvent(companyID, domain.UsageAgenticChunking, -1, map[string]any{
		"document_id":         documentID,
		"refund_for_event_id": originalEventID,
		"reason":              "chunking_failed",
	})
	if _, err := s.Usage.Append(ctx, e); err != nil {
		return fmt.Errorf("op=quota.refund_chunking: %w", err)
	}
	return nil
}

// UpdateChunkingMetadata records the chunk count on the reservation event
// after agentic chunking completes. The signed tuple is unchanged.
func (s QuotaService) UpdateChunkingMetadata(ctx domain.Context, usageEventID int64, chunkCount int) error {
	if err := s.Usage.UpdateMetadata(ctx, usageEventID, map[string]any{"chunk_count": chunkCount}); err != nil {
		return fmt.Errorf("op=quota.update_chunking_metadata: %w", err)
	}
	return nil
}

// CheckWorkflowQuota returns ErrQuotaExceeded when the tenant is at its
// monthly workflow-run limit. Writes happen via TrackWorkflow.
func (s QuotaService) CheckWorkflowQuota(ctx domain.Context, companyID int64) error {
	tier, err := s.tier(ctx, companyID)
	if err != nil {
		return fmt.Errorf("op=quota.check_workflow: %w", err)
	}
	limit := s.Cfg.WorkflowLimit(tier)
	sum, err := s.Usage.MonthlySum(ctx, companyID, domain.UsageWorkflow, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=quota.check_workflow: %w", err)
	}
	if sum >= limit {
		observability.QuotaDeniedTotal.WithLabelValues(string(domain.UsageWorkflow)).Inc()
		return fmt.Errorf("%w: workflow runs %d/%d this month", domain.ErrQuotaExceeded, sum, limit)
	}
	return nil
}

// TrackWorkflow appends one workflow-run event.
func (s QuotaService) TrackWorkflow(ctx domain.Context, companyID int64, metadata map[string]any) error {
	if _, err := s.Usage.Append(ctx, s.signedEvent(companyID, domain.UsageWorkflow, 1, metadata)); err != nil {
		return fmt.Errorf("op=quota.track_workflow: %w", err)
	}
	return nil
}

// TrackAgenticQA appends one agentic QA event.
func (s QuotaService) TrackAgenticQA(ctx domain.Context, companyID int64, metadata map[string]any) error {
	if _, err := s.Usage.Append(ctx, s.signedEvent(companyID, domain.UsageAgenticQA, 1, metadata)); err != nil {
		return fmt.Errorf("op=quota.track_agentic_qa: %w", err)
	}
	return nil
}

// TrackCellOperations appends an n-quantity cell-operation event.
func (s QuotaService) TrackCellOperations(ctx domain.Context, companyID int64, n int64, metadata map[string]any) error {
	if n == 0 {
		return nil
	}
	if _, err := s.Usage.Append(ctx, s.signedEvent(companyID, domain.UsageCellOperation, n, metadata)); err != nil {
		return fmt.Errorf("op=quota.track_cells: %w", err)
	}
	return nil
}

// TrackStorageUpload appends a storage event carrying the uploaded size.
func (s QuotaService) TrackStorageUpload(ctx domain.Context, companyID, sizeBytes int64, metadata map[string]any) error {
	e := s.signedEvent(companyID, domain.UsageStorageUpload, 1, metadata)
	e.FileSizeBytes = &sizeBytes
	if _, err := s.Usage.Append(ctx, e); err != nil {
		return fmt.Errorf("op=quota.track_storage: %w", err)
	}
	return nil
}
