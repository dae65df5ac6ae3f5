package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// BudgetTier is a tenant-selected cost ceiling category. Each tier maps
// to a per-1k-call cost ceiling used to filter the provider catalog.
type BudgetTier string

const (
	BudgetTierLow      BudgetTier = "LOW"
	BudgetTierStandard BudgetTier = "STANDARD"
	BudgetTierPremium  BudgetTier = "PREMIUM"
)

// CostCeiling returns the per-1k-call ceiling for a tier, in USD.
func (t BudgetTier) CostCeiling() float64 {
	switch t {
	case BudgetTierLow:
		return 0.5
	case BudgetTierStandard:
		return 5.0
	case BudgetTierPremium:
		return 50.0
	default:
		return 5.0
	}
}

// Valid reports whether the tier is one of the known values.
func (t BudgetTier) Valid() bool {
	switch t {
	case BudgetTierLow, BudgetTierStandard, BudgetTierPremium:
		return true
	}
	return false
}

// Policy is a tenant's routing constraints. Mutated only by the tenant;
// routing reads an immutable snapshot.
type Policy struct {
	TenantID           uuid.UUID      `db:"tenant_id"`
	BudgetTier         BudgetTier     `db:"budget_tier"`
	PreferredProviders pq.StringArray `db:"preferred_providers"` // ordered
	BlockedProviders   pq.StringArray `db:"blocked_providers"`
	MaxMonthlyCostUSD  *float64       `db:"max_monthly_cost_usd"` // NULL = unlimited
	Region             string         `db:"region"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

// Blocks checks the blocked provider list.
func (p *Policy) Blocks(providerID string) bool {
	for _, b := range p.BlockedProviders {
		if b == providerID {
			return true
		}
	}
	return false
}

// Prefers checks the preferred provider list.
func (p *Policy) Prefers(providerID string) bool {
	for _, pref := range p.PreferredProviders {
		if pref == providerID {
			return true
		}
	}
	return false
}

// DefaultPolicy returns the policy applied to tenants that never set one.
func DefaultPolicy(tenantID uuid.UUID) *Policy {
	return &Policy{
		TenantID:   tenantID,
		BudgetTier: BudgetTierStandard,
	}
}
