package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// SpendRepository persists monthly spend totals synced from Redis
type SpendRepository struct {
	db *DB
}

// NewSpendRepository creates a new spend repository
func NewSpendRepository(db *DB) *SpendRepository {
	return &SpendRepository{db: db}
}

// UpsertMonthlySpend replaces a tenant's total for one month. The Redis
// counter is the source of truth within the month, so the higher value
// wins on conflict.
func (r *SpendRepository) UpsertMonthlySpend(ctx context.Context, tenantID uuid.UUID, month string, totalUSD float64) error {
	query := `
		INSERT INTO monthly_spend (tenant_id, month, total_usd, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id, month) DO UPDATE SET
			total_usd = GREATEST(monthly_spend.total_usd, EXCLUDED.total_usd),
			updated_at = NOW()
	`

	_, err := r.db.conn.ExecContext(ctx, query, tenantID, month, totalUSD)
	if err != nil {
		return fmt.Errorf("failed to upsert monthly spend: %w", err)
	}

	return nil
}
