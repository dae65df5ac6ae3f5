package httpapi

import (
	"context"

	"github.com/google/uuid"

	"vault_router/internal/audit"
	"vault_router/internal/auth"
	"vault_router/internal/credentials"
	"vault_router/internal/executor"
	"vault_router/internal/models"
	"vault_router/internal/registry"
	"vault_router/internal/storage"
)

// CredentialService is the credential lifecycle surface the HTTP layer
// uses.
type CredentialService interface {
	AddCredential(ctx context.Context, tenantID uuid.UUID, in credentials.AddInput) (*models.Credential, error)
	RotateCredential(ctx context.Context, tenantID, id uuid.UUID, newKey string) (*models.Credential, *models.Credential, error)
	RevokeCredential(ctx context.Context, tenantID, id uuid.UUID) error
	ListCredentials(ctx context.Context, tenantID uuid.UUID) ([]*models.Credential, error)
}

// PolicyService serves and stores tenant policies.
type PolicyService interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*models.Policy, error)
	Put(ctx context.Context, policy *models.Policy) error
}

// ExecuteService runs routed requests.
type ExecuteService interface {
	Execute(ctx context.Context, tenantID uuid.UUID, desc *models.RequestDescriptor) (*executor.Result, error)
}

// CatalogService exposes the current provider catalog.
type CatalogService interface {
	Snapshot() *registry.Snapshot
}

// Dependencies aggregates all services the HTTP layer needs, plus the
// background components main shuts down on exit.
type Dependencies struct {
	Credentials CredentialService
	Policies    PolicyService
	Executor    ExecuteService
	Catalog     CatalogService
	Tokens      *auth.TokenStore
	Audit       audit.Sink
	DB          *storage.DB
	Redis       *storage.RedisClient
	JWTSecret   []byte

	closers []func() error
}

// Close stops background workers and releases connections in reverse
// construction order.
func (d *Dependencies) Close() error {
	var firstErr error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
