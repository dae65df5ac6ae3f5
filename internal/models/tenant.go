package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Tenant is the unit of isolation. Every credential, policy and
// performance record belongs to exactly one tenant.
type Tenant struct {
	ID               uuid.UUID `db:"id"`
	Name             string    `db:"name"`
	ComplianceRegion string    `db:"compliance_region"`
	DefaultTier      string    `db:"default_tier"`
	Enabled          bool      `db:"enabled"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// TenantToken is a bearer token granting API access scoped to one tenant.
// Lookup uses the SHA-256 hash; bootstrap tokens also carry an Argon2id
// hash for offline verification.
type TenantToken struct {
	ID         uuid.UUID      `db:"id"`
	TenantID   uuid.UUID      `db:"tenant_id"`
	TokenHash  string         `db:"token_hash"` // SHA-256 hash
	ArgonHash  string         `db:"argon_hash"` // Argon2id, bootstrap tokens only
	Scopes     pq.StringArray `db:"scopes"`
	Enabled    bool           `db:"enabled"`
	ExpiresAt  *time.Time     `db:"expires_at"`
	LastUsedAt *time.Time     `db:"last_used_at"`
	CreatedAt  time.Time      `db:"created_at"`
}

// HasScope checks if the token carries a specific scope.
func (t *TenantToken) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IsExpired checks if the token has expired
func (t *TenantToken) IsExpired() bool {
	if t.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*t.ExpiresAt)
}

// IsValid checks if the token is enabled and not expired
func (t *TenantToken) IsValid() bool {
	return t.Enabled && !t.IsExpired()
}
