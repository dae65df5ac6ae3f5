package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"vault_router/internal/models"
)

// PolicyRepository handles tenant policy database operations
type PolicyRepository struct {
	db *DB
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// GetByTenant retrieves a tenant's policy
func (r *PolicyRepository) GetByTenant(ctx context.Context, tenantID uuid.UUID) (*models.Policy, error) {
	var policy models.Policy
	query := `
		SELECT tenant_id, budget_tier, preferred_providers, blocked_providers,
		       max_monthly_cost_usd, region, created_at, updated_at
		FROM tenant_policies
		WHERE tenant_id = $1
	`

	err := r.db.conn.GetContext(ctx, &policy, query, tenantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}

	return &policy, nil
}

// Upsert writes a tenant's policy, replacing any previous one.
func (r *PolicyRepository) Upsert(ctx context.Context, policy *models.Policy) error {
	query := `
		INSERT INTO tenant_policies (
			tenant_id, budget_tier, preferred_providers, blocked_providers,
			max_monthly_cost_usd, region, created_at, updated_at
		) VALUES (
			:tenant_id, :budget_tier, :preferred_providers, :blocked_providers,
			:max_monthly_cost_usd, :region, NOW(), NOW()
		)
		ON CONFLICT (tenant_id) DO UPDATE SET
			budget_tier = EXCLUDED.budget_tier,
			preferred_providers = EXCLUDED.preferred_providers,
			blocked_providers = EXCLUDED.blocked_providers,
			max_monthly_cost_usd = EXCLUDED.max_monthly_cost_usd,
			region = EXCLUDED.region,
			updated_at = NOW()
	`

	_, err := r.db.conn.NamedExecContext(ctx, query, policy)
	if err != nil {
		return fmt.Errorf("failed to upsert policy: %w", err)
	}

	return nil
}
