package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"vault_router/internal/models"
	"vault_router/internal/storage"
	"vault_router/internal/utils"
)

// ErrInvalidPolicy is returned when a submitted policy fails validation
var ErrInvalidPolicy = errors.New("invalid policy")

// Repository is the persistence surface the store needs.
type Repository interface {
	GetByTenant(ctx context.Context, tenantID uuid.UUID) (*models.Policy, error)
	Upsert(ctx context.Context, policy *models.Policy) error
}

// Store serves tenant policies. Policies are read-mostly: routing reads
// an immutable snapshot pointer while writes replace the whole entry, so
// a reader never observes a half-updated policy.
type Store struct {
	repo   Repository
	logger *utils.Logger

	mu    sync.RWMutex
	cache map[uuid.UUID]*models.Policy
}

// NewStore creates a policy store.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:   repo,
		logger: utils.NewLogger("policy-store"),
		cache:  make(map[uuid.UUID]*models.Policy),
	}
}

// Get returns the tenant's policy snapshot. Tenants that never stored a
// policy get the default. The returned policy must be treated as
// immutable.
func (s *Store) Get(ctx context.Context, tenantID uuid.UUID) (*models.Policy, error) {
	s.mu.RLock()
	cached, ok := s.cache[tenantID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	policy, err := s.repo.GetByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, storage.ErrPolicyNotFound) {
			policy = models.DefaultPolicy(tenantID)
		} else {
			return nil, err
		}
	}

	s.mu.Lock()
	s.cache[tenantID] = policy
	s.mu.Unlock()

	return policy, nil
}

// Put validates, persists and swaps in a tenant's policy.
func (s *Store) Put(ctx context.Context, policy *models.Policy) error {
	if err := Validate(policy); err != nil {
		return err
	}

	if err := s.repo.Upsert(ctx, policy); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[policy.TenantID] = policy
	s.mu.Unlock()

	s.logger.Info("Policy updated", "tenant", policy.TenantID, "tier", policy.BudgetTier)
	return nil
}

// Validate checks a policy's internal consistency.
func Validate(policy *models.Policy) error {
	if policy.TenantID == uuid.Nil {
		return fmt.Errorf("%w: missing tenant id", ErrInvalidPolicy)
	}
	if !policy.BudgetTier.Valid() {
		return fmt.Errorf("%w: unknown budget tier %q", ErrInvalidPolicy, policy.BudgetTier)
	}
	if policy.MaxMonthlyCostUSD != nil && *policy.MaxMonthlyCostUSD < 0 {
		return fmt.Errorf("%w: negative monthly cost ceiling", ErrInvalidPolicy)
	}
	for _, blocked := range policy.BlockedProviders {
		for _, preferred := range policy.PreferredProviders {
			if blocked == preferred {
				return fmt.Errorf("%w: provider %q is both preferred and blocked", ErrInvalidPolicy, blocked)
			}
		}
	}
	return nil
}
