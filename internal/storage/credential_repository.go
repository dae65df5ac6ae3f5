package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vault_router/internal/models"
)

// CredentialRepository handles credential metadata database operations.
// Every query is scoped by tenant id; revoked rows are tombstoned, never
// deleted, so the audit trail survives.
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

const credentialColumns = `
	id, tenant_id, provider_id, key_type, secret_handle, masked_preview,
	status, strength_score, permissions, rate_limit_per_minute, usage_count,
	rotated_from, expires_at, revoked_at, created_at, updated_at
`

// Create inserts a new credential record
func (r *CredentialRepository) Create(ctx context.Context, cred *models.Credential) error {
	query := `
		INSERT INTO credentials (
			id, tenant_id, provider_id, key_type, secret_handle, masked_preview,
			status, strength_score, permissions, rate_limit_per_minute,
			rotated_from, expires_at, created_at, updated_at
		) VALUES (
			:id, :tenant_id, :provider_id, :key_type, :secret_handle, :masked_preview,
			:status, :strength_score, :permissions, :rate_limit_per_minute,
			:rotated_from, :expires_at, NOW(), NOW()
		)
	`

	_, err := r.db.conn.NamedExecContext(ctx, query, cred)
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}

	return nil
}

// GetByID retrieves a credential scoped to a tenant. A credential owned by
// another tenant is indistinguishable from a missing one.
func (r *CredentialRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Credential, error) {
	if cached, found := r.db.credentialCache.Get(id.String()); found {
		if cred, ok := cached.(*models.Credential); ok && cred.TenantID == tenantID {
			return cred, nil
		}
	}

	var cred models.Credential
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1 AND tenant_id = $2`

	err := r.db.conn.GetContext(ctx, &cred, query, id, tenantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	r.db.credentialCache.Set(id.String(), &cred)
	return &cred, nil
}

// ListByTenant returns all of a tenant's credentials, newest first.
func (r *CredentialRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE tenant_id = $1 ORDER BY created_at DESC`

	var creds []*models.Credential
	err := r.db.conn.SelectContext(ctx, &creds, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	return creds, nil
}

// ListUsableByProvider returns active or rotating credentials for one
// tenant/provider pair, preferring active and newest.
func (r *CredentialRepository) ListUsableByProvider(ctx context.Context, tenantID uuid.UUID, providerID string) ([]*models.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE tenant_id = $1 AND provider_id = $2
		  AND status IN ('active', 'rotating')
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY (status = 'active') DESC, created_at DESC
	`

	var creds []*models.Credential
	err := r.db.conn.SelectContext(ctx, &creds, query, tenantID, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list usable credentials: %w", err)
	}

	return creds, nil
}

// UpdateStatus transitions a credential's lifecycle status.
func (r *CredentialRepository) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status models.CredentialStatus) error {
	query := `UPDATE credentials SET status = $1, updated_at = NOW() WHERE id = $2 AND tenant_id = $3`

	result, err := r.db.conn.ExecContext(ctx, query, status, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to update credential status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return ErrCredentialNotFound
	}

	r.db.credentialCache.Delete(id.String())
	return nil
}

// Tombstone marks a credential revoked. The row stays for audit.
func (r *CredentialRepository) Tombstone(ctx context.Context, tenantID, id uuid.UUID) error {
	query := `
		UPDATE credentials
		SET status = 'revoked', revoked_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND status != 'revoked'
	`

	result, err := r.db.conn.ExecContext(ctx, query, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to tombstone credential: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check tombstone result: %w", err)
	}
	if rows == 0 {
		return ErrCredentialNotFound
	}

	r.db.credentialCache.Delete(id.String())
	return nil
}

// IncrementUsage bumps the usage counter after a successful call.
func (r *CredentialRepository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE credentials SET usage_count = usage_count + 1, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.conn.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}

// ExpireRotating revokes credentials whose rotation grace window has
// elapsed. Returns the number of credentials transitioned.
func (r *CredentialRepository) ExpireRotating(ctx context.Context, grace time.Duration) (int64, error) {
	query := `
		UPDATE credentials
		SET status = 'revoked', revoked_at = NOW(), updated_at = NOW()
		WHERE status = 'rotating' AND updated_at < $1
	`

	result, err := r.db.conn.ExecContext(ctx, query, time.Now().Add(-grace))
	if err != nil {
		return 0, fmt.Errorf("failed to expire rotating credentials: %w", err)
	}
	return result.RowsAffected()
}

// MarkExpired transitions credentials past their TTL. Returns the number
// of credentials transitioned.
func (r *CredentialRepository) MarkExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE credentials
		SET status = 'expired', updated_at = NOW()
		WHERE status IN ('active', 'rotating') AND expires_at IS NOT NULL AND expires_at <= NOW()
	`

	result, err := r.db.conn.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to mark expired credentials: %w", err)
	}
	return result.RowsAffected()
}
