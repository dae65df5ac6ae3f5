package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CredentialStatus enumerates the lifecycle states of a stored credential.
type CredentialStatus string

const (
	CredentialActive   CredentialStatus = "active"
	CredentialRotating CredentialStatus = "rotating"
	CredentialRevoked  CredentialStatus = "revoked"
	CredentialExpired  CredentialStatus = "expired"
)

// Credential is the metadata record for a tenant-supplied provider key.
// The key material itself lives in the secret store; only the opaque
// SecretHandle and the MaskedPreview are ever held here.
type Credential struct {
	ID                 uuid.UUID        `db:"id"`
	TenantID           uuid.UUID        `db:"tenant_id"`
	ProviderID         string           `db:"provider_id"`
	KeyType            string           `db:"key_type"`
	SecretHandle       string           `db:"secret_handle"`
	MaskedPreview      string           `db:"masked_preview"`
	Status             CredentialStatus `db:"status"`
	StrengthScore      int              `db:"strength_score"`
	Permissions        pq.StringArray   `db:"permissions"`
	RateLimitPerMinute int              `db:"rate_limit_per_minute"`
	UsageCount         int64            `db:"usage_count"`
	RotatedFrom        *uuid.UUID       `db:"rotated_from"`
	ExpiresAt          *time.Time       `db:"expires_at"`
	RevokedAt          *time.Time       `db:"revoked_at"`
	CreatedAt          time.Time        `db:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at"`
}

// IsExpired checks if the credential has passed its TTL.
func (c *Credential) IsExpired() bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*c.ExpiresAt)
}

// Usable reports whether the credential may serve new requests.
// Rotating credentials remain usable through the grace window.
func (c *Credential) Usable() bool {
	if c.IsExpired() {
		return false
	}
	return c.Status == CredentialActive || c.Status == CredentialRotating
}

// HasPermission checks the credential's permission list. An empty list
// grants everything.
func (c *Credential) HasPermission(perm string) bool {
	if len(c.Permissions) == 0 {
		return true
	}
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// MaskKey produces the preview form of a plaintext key: first three and
// last two characters visible, the rest replaced by asterisks. Short keys
// are fully masked.
func MaskKey(plaintext string) string {
	if len(plaintext) <= 6 {
		return strings.Repeat("*", len(plaintext))
	}
	return plaintext[:3] + strings.Repeat("*", len(plaintext)-5) + plaintext[len(plaintext)-2:]
}
