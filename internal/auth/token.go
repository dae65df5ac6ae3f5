package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"vault_router/internal/models"
	"vault_router/internal/storage"
	"vault_router/internal/utils"
)

// TokenPrefix marks vault tenant tokens.
const TokenPrefix = "vt-"

var (
	// ErrInvalidToken covers unknown, disabled and expired tokens. One
	// error for all three so responses never reveal which case applied.
	ErrInvalidToken = errors.New("invalid token")
)

// Scopes a tenant token may carry.
const (
	ScopeCredentialsRead  = "credentials:read"
	ScopeCredentialsWrite = "credentials:write"
	ScopePolicyWrite      = "policy:write"
	ScopeExecute          = "execute"
	ScopeAdmin            = "admin"
)

// AllScopes lists every scope a freshly provisioned token receives.
var AllScopes = []string{
	ScopeCredentialsRead, ScopeCredentialsWrite, ScopePolicyWrite, ScopeExecute,
}

// GenerateToken produces a new plaintext tenant token. The plaintext is
// shown once at provisioning; only hashes are stored.
func GenerateToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(raw), nil
}

// TokenRepository is the persistence surface the token store needs.
type TokenRepository interface {
	GetTokenByHash(ctx context.Context, tokenHash string) (*models.TenantToken, error)
	TouchToken(ctx context.Context, id uuid.UUID, when time.Time) error
}

// TokenStore authenticates bearer tokens against stored hashes.
type TokenStore struct {
	repo   TokenRepository
	logger *utils.Logger
}

// NewTokenStore creates a token store.
func NewTokenStore(repo TokenRepository) *TokenStore {
	return &TokenStore{
		repo:   repo,
		logger: utils.NewLogger("auth"),
	}
}

// Authenticate resolves a plaintext bearer token to its record. Unknown,
// disabled and expired tokens all come back as ErrInvalidToken.
func (s *TokenStore) Authenticate(ctx context.Context, plaintext string) (*models.TenantToken, error) {
	if !strings.HasPrefix(plaintext, TokenPrefix) {
		return nil, ErrInvalidToken
	}

	token, err := s.repo.GetTokenByHash(ctx, utils.HashString(plaintext))
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	if !token.IsValid() {
		return nil, ErrInvalidToken
	}

	if err := s.repo.TouchToken(ctx, token.ID, time.Now().UTC()); err != nil {
		s.logger.Debug("Failed to update token last_used_at", "error", err)
	}

	return token, nil
}

// Argon2id parameters for bootstrap token hashing.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// HashBootstrapToken derives an Argon2id hash for a bootstrap token.
// The encoded form carries the salt so verification needs no extra
// state.
func HashBootstrapToken(plaintext string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	digest := argon2.IDKey([]byte(plaintext), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	), nil
}

// VerifyBootstrapToken checks a plaintext against an encoded Argon2id
// hash in constant time.
func VerifyBootstrapToken(plaintext, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("malformed argon2id hash")
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, fmt.Errorf("malformed argon2id parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("malformed salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("malformed digest: %w", err)
	}

	digest := argon2.IDKey([]byte(plaintext), salt, iterations, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(digest, expected) == 1, nil
}
