package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"vault_router/internal/models"
)

// LedgerRepository persists performance records. Rows are keyed
// (tenant_id, provider_id, model) and written by the outcome worker in
// batches; the in-memory ledger remains authoritative for scoring, so
// eventual consistency here is fine.
type LedgerRepository struct {
	db *DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// ApplyOutcome folds one outcome into the persisted record.
func (r *LedgerRepository) ApplyOutcome(ctx context.Context, o *models.Outcome, alpha float64) error {
	// First write seeds the EMAs with the raw sample; later writes fold
	// with the smoothing factor.
	query := `
		INSERT INTO performance_records (
			tenant_id, provider_id, model, success_count, failure_count,
			ema_latency_ms, ema_cost_usd, last_failure_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (tenant_id, provider_id, model) DO UPDATE SET
			success_count = performance_records.success_count + $4,
			failure_count = performance_records.failure_count + $5,
			ema_latency_ms = performance_records.ema_latency_ms * (1 - $9) + $6 * $9,
			ema_cost_usd = performance_records.ema_cost_usd * (1 - $9) + $7 * $9,
			last_failure_at = COALESCE($8, performance_records.last_failure_at),
			updated_at = NOW()
	`

	successInc, failureInc := 0, 0
	if o.Success {
		successInc = 1
	} else {
		failureInc = 1
	}

	var lastFailure any
	if !o.Success {
		lastFailure = o.Timestamp
	}

	_, err := r.db.conn.ExecContext(ctx, query,
		o.TenantID, o.ProviderID, o.Model,
		successInc, failureInc,
		float64(o.LatencyMs), o.CostUSD,
		lastFailure, alpha,
	)
	if err != nil {
		return fmt.Errorf("failed to apply outcome: %w", err)
	}

	return nil
}

// ListByTenant returns a tenant's persisted records, used to warm the
// in-memory ledger on startup.
func (r *LedgerRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.PerformanceRecord, error) {
	query := `
		SELECT tenant_id, provider_id, model, success_count, failure_count,
		       ema_latency_ms, ema_cost_usd, last_failure_at, updated_at
		FROM performance_records
		WHERE tenant_id = $1
	`

	var records []*models.PerformanceRecord
	err := r.db.conn.SelectContext(ctx, &records, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list performance records: %w", err)
	}

	return records, nil
}

// ListAll returns every persisted record, used to warm the in-memory
// ledger on startup.
func (r *LedgerRepository) ListAll(ctx context.Context) ([]*models.PerformanceRecord, error) {
	query := `
		SELECT tenant_id, provider_id, model, success_count, failure_count,
		       ema_latency_ms, ema_cost_usd, last_failure_at, updated_at
		FROM performance_records
	`

	var records []*models.PerformanceRecord
	err := r.db.conn.SelectContext(ctx, &records, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list performance records: %w", err)
	}

	return records, nil
}
