package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vault_router/internal/models"
)

// TenantRepository handles tenant and tenant token database operations
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// GetByID retrieves a tenant
func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	query := `
		SELECT id, name, compliance_region, default_tier, enabled, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`

	err := r.db.conn.GetContext(ctx, &tenant, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return &tenant, nil
}

// Create inserts a new tenant
func (r *TenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, compliance_region, default_tier, enabled, created_at, updated_at)
		VALUES (:id, :name, :compliance_region, :default_tier, :enabled, NOW(), NOW())
	`

	_, err := r.db.conn.NamedExecContext(ctx, query, tenant)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	return nil
}

// GetTokenByHash resolves a bearer token by its SHA-256 lookup hash.
// Cached; the cache key is the hash, never the token itself.
func (r *TenantRepository) GetTokenByHash(ctx context.Context, tokenHash string) (*models.TenantToken, error) {
	if cached, found := r.db.tokenCache.Get(tokenHash); found {
		if token, ok := cached.(*models.TenantToken); ok {
			return token, nil
		}
	}

	var token models.TenantToken
	query := `
		SELECT id, tenant_id, token_hash, argon_hash, scopes, enabled,
		       expires_at, last_used_at, created_at
		FROM tenant_tokens
		WHERE token_hash = $1
	`

	err := r.db.conn.GetContext(ctx, &token, query, tokenHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get tenant token: %w", err)
	}

	r.db.tokenCache.Set(tokenHash, &token)
	return &token, nil
}

// CreateToken inserts a new tenant token
func (r *TenantRepository) CreateToken(ctx context.Context, token *models.TenantToken) error {
	query := `
		INSERT INTO tenant_tokens (id, tenant_id, token_hash, argon_hash, scopes, enabled, expires_at, created_at)
		VALUES (:id, :tenant_id, :token_hash, :argon_hash, :scopes, :enabled, :expires_at, NOW())
	`

	_, err := r.db.conn.NamedExecContext(ctx, query, token)
	if err != nil {
		return fmt.Errorf("failed to create tenant token: %w", err)
	}

	return nil
}

// TouchToken records the last-used timestamp, best effort.
func (r *TenantRepository) TouchToken(ctx context.Context, id uuid.UUID, when time.Time) error {
	query := `UPDATE tenant_tokens SET last_used_at = $1 WHERE id = $2`

	if _, err := r.db.conn.ExecContext(ctx, query, when, id); err != nil {
		return fmt.Errorf("failed to touch tenant token: %w", err)
	}
	return nil
}
