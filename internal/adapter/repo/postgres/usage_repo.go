package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/latticehq/lattice/internal/domain"
)

// UsageRepo is the append-only, signed usage ledger.
type UsageRepo struct{ Pool PgxPool }

// NewUsageRepo constructs a UsageRepo with the given pool.
func NewUsageRepo(p PgxPool) *UsageRepo { return &UsageRepo{Pool: p} }

// advisoryKey folds the full company id into the 32-bit half of the advisory
// lock key; a plain int32 cast would collide tenants 2^32 apart.
func advisoryKey(companyID int64) int32 {
	return int32(uint32(companyID) ^ uint32(uint64(companyID)>>32))
}

// advisoryClass partitions the advisory-lock keyspace per counter so that
// reservations for different event types do not contend.
func advisoryClass(t domain.UsageEventType) int32 {
	switch t {
	case domain.UsageCellOperation:
		return 1
	case domain.UsageAgenticQA:
		return 2
	case domain.UsageAgenticChunking:
		return 3
	case domain.UsageWorkflow:
		return 4
	case domain.UsageStorageUpload:
		return 5
	default:
		return 0
	}
}

// Append inserts one ledger row and returns its id. Rows are never updated or
// deleted; refunds are new rows with negative quantity.
func (r *UsageRepo) Append(ctx domain.Context, e domain.UsageEvent) (int64, error) {
	tracer := otel.Tracer("repo.usage")
	ctx, span := tracer.Start(ctx, "usage.Append")
	defer span.End()
	span.SetAttributes(attribute.String("usage.event_type", string(e.EventType)))
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return 0, fmt.Errorf("op=usage.append: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	q := `INSERT INTO usage_event (company_id, user_id, event_type, quantity, file_size_bytes, event_metadata, signature, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`
	var id int64
	if err := r.Pool.QueryRow(ctx, q, e.CompanyID, e.UserID, e.EventType, e.Quantity, e.FileSizeBytes, meta, e.Signature, e.CreatedAt).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=usage.append: %w", err)
	}
	return id, nil
}

// AppendWithinLimit appends the event only when the tenant's current
// calendar-month signed sum for the event type is strictly below limit.
// The check-and-append pair is serialized per (company, event type) with a
// transaction-scoped advisory lock.
func (r *UsageRepo) AppendWithinLimit(ctx domain.Context, e domain.UsageEvent, limit int64) (int64, int64, bool, error) {
	tracer := otel.Tracer("repo.usage")
	ctx, span := tracer.Start(ctx, "usage.AppendWithinLimit")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, 0, false, fmt.Errorf("op=usage.reserve: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, advisoryKey(e.CompanyID), advisoryClass(e.EventType)); err != nil {
		return 0, 0, false, fmt.Errorf("op=usage.reserve_lock: %w", err)
	}

	var sum int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM usage_event
		 WHERE company_id=$1 AND event_type=$2 AND created_at >= date_trunc('month', now() AT TIME ZONE 'utc')`,
		e.CompanyID, e.EventType,
	).Scan(&sum); err != nil {
		return 0, 0, false, fmt.Errorf("op=usage.reserve_sum: %w", err)
	}
	if sum >= limit {
		return 0, sum, false, nil
	}

	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return 0, 0, false, fmt.Errorf("op=usage.reserve: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var id int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO usage_event (company_id, user_id, event_type, quantity, file_size_bytes, event_metadata, signature, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		e.CompanyID, e.UserID, e.EventType, e.Quantity, e.FileSizeBytes, meta, e.Signature, e.CreatedAt,
	).Scan(&id); err != nil {
		return 0, 0, false, fmt.Errorf("op=usage.reserve_append: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, false, fmt.Errorf("op=usage.reserve: %w", err)
	}
	return id, sum + e.Quantity, true, nil
}

// MonthlySum returns the signed sum of events for the tenant and counter in
// the UTC calendar month containing at.
func (r *UsageRepo) MonthlySum(ctx domain.Context, companyID int64, eventType domain.UsageEventType, at time.Time) (int64, error) {
	tracer := otel.Tracer("repo.usage")
	ctx, span := tracer.Start(ctx, "usage.MonthlySum")
	defer span.End()
	monthStart := time.Date(at.UTC().Year(), at.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	var sum int64
	if err := r.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM usage_event
		 WHERE company_id=$1 AND event_type=$2 AND created_at >= $3 AND created_at < $4`,
		companyID, eventType, monthStart, monthStart.AddDate(0, 1, 0),
	).Scan(&sum); err != nil {
		return 0, fmt.Errorf("op=usage.monthly_sum: %w", err)
	}
	return sum, nil
}

// UpdateMetadata merges a patch into an event's metadata. The signed tuple is
// untouched; metadata is advisory (e.g. chunk counts after completion).
func (r *UsageRepo) UpdateMetadata(ctx domain.Context, eventID int64, patch map[string]any) error {
	tracer := otel.Tracer("repo.usage")
	ctx, span := tracer.Start(ctx, "usage.UpdateMetadata")
	defer span.End()
	b, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("op=usage.update_metadata: %w", err)
	}
	q := `UPDATE usage_event SET event_metadata = event_metadata || $2::jsonb WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, eventID, b); err != nil {
		return fmt.Errorf("op=usage.update_metadata: %w", err)
	}
	return nil
}

// SubscriptionRepo resolves tenant subscriptions.
type SubscriptionRepo struct{ Pool PgxPool }

// NewSubscriptionRepo constructs a SubscriptionRepo with the given pool.
func NewSubscriptionRepo(p PgxPool) *SubscriptionRepo { return &SubscriptionRepo{Pool: p} }

// GetByCompany loads the tenant's subscription; ErrNotFound means FREE tier.
func (r *SubscriptionRepo) GetByCompany(ctx domain.Context, companyID int64) (domain.Subscription, error) {
	tracer := otel.Tracer("repo.subscriptions")
	ctx, span := tracer.Start(ctx, "subscriptions.GetByCompany")
	defer span.End()
	q := `SELECT id, company_id, tier, status, current_period_start, current_period_end, COALESCE(payment_provider_subscription_id,'')
	      FROM subscription WHERE company_id=$1`
	var s domain.Subscription
	if err := r.Pool.QueryRow(ctx, q, companyID).Scan(&s.ID, &s.CompanyID, &s.Tier, &s.Status, &s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.ProviderSubID); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Subscription{}, fmt.Errorf("op=subscription.get: %w", domain.ErrNotFound)
		}
		return domain.Subscription{}, fmt.Errorf("op=subscription.get: %w", err)
	}
	return s, nil
}
