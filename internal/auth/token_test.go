package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault_router/internal/models"
	"vault_router/internal/storage"
	"vault_router/internal/utils"
)

type fakeTokenRepo struct {
	tokens  map[string]*models.TenantToken
	touched []uuid.UUID
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]*models.TenantToken)}
}

func (r *fakeTokenRepo) GetTokenByHash(_ context.Context, hash string) (*models.TenantToken, error) {
	t, ok := r.tokens[hash]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return t, nil
}

func (r *fakeTokenRepo) TouchToken(_ context.Context, id uuid.UUID, _ time.Time) error {
	r.touched = append(r.touched, id)
	return nil
}

func (r *fakeTokenRepo) add(plaintext string, token *models.TenantToken) {
	r.tokens[utils.HashString(plaintext)] = token
}

func TestGenerateTokenFormat(t *testing.T) {
	token, err := GenerateToken()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.Len(t, token, len(TokenPrefix)+32)

	other, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestAuthenticateValidToken(t *testing.T) {
	repo := newFakeTokenRepo()
	store := NewTokenStore(repo)

	plaintext, err := GenerateToken()
	require.NoError(t, err)
	tenant := uuid.New()
	repo.add(plaintext, &models.TenantToken{
		ID:       uuid.New(),
		TenantID: tenant,
		Scopes:   AllScopes,
		Enabled:  true,
	})

	token, err := store.Authenticate(context.Background(), plaintext)
	require.NoError(t, err)
	assert.Equal(t, tenant, token.TenantID)
	assert.True(t, token.HasScope(ScopeExecute))
	assert.Len(t, repo.touched, 1)
}

func TestAuthenticateRejectsUniformly(t *testing.T) {
	repo := newFakeTokenRepo()
	store := NewTokenStore(repo)

	expired := time.Now().Add(-time.Hour)
	disabledTok, _ := GenerateToken()
	expiredTok, _ := GenerateToken()
	repo.add(disabledTok, &models.TenantToken{ID: uuid.New(), TenantID: uuid.New(), Enabled: false})
	repo.add(expiredTok, &models.TenantToken{ID: uuid.New(), TenantID: uuid.New(), Enabled: true, ExpiresAt: &expired})

	unknown, _ := GenerateToken()

	// unknown, disabled, expired and malformed all yield the same error
	for _, plaintext := range []string{unknown, disabledTok, expiredTok, "not-a-token", ""} {
		_, err := store.Authenticate(context.Background(), plaintext)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", plaintext)
	}
}

func TestBootstrapHashRoundtrip(t *testing.T) {
	plaintext, err := GenerateToken()
	require.NoError(t, err)

	encoded, err := HashBootstrapToken(plaintext)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	ok, err := VerifyBootstrapToken(plaintext, encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyBootstrapToken(plaintext+"x", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBootstrapHashIsSalted(t *testing.T) {
	a, err := HashBootstrapToken("vt-same-token")
	require.NoError(t, err)
	b, err := HashBootstrapToken("vt-same-token")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyBootstrapTokenRejectsMalformed(t *testing.T) {
	_, err := VerifyBootstrapToken("anything", "not-an-argon-hash")
	assert.Error(t, err)
}

func TestJWTRoundtrip(t *testing.T) {
	secret := []byte("test-secret")
	tenant := uuid.New()
	tokenID := uuid.New()

	signed, exp, err := GenerateJWT(tenant, tokenID, []string{ScopeExecute}, secret)
	require.NoError(t, err)
	assert.Greater(t, exp, time.Now().Unix())

	claims, err := ValidateJWT(signed, secret)
	require.NoError(t, err)
	assert.Equal(t, tenant, claims.TenantID)
	assert.Equal(t, tokenID, claims.TokenID)
	assert.Equal(t, []string{ScopeExecute}, claims.Scopes)
}

func TestJWTWrongSecretFails(t *testing.T) {
	signed, _, err := GenerateJWT(uuid.New(), uuid.New(), nil, []byte("secret-a"))
	require.NoError(t, err)

	_, err = ValidateJWT(signed, []byte("secret-b"))
	assert.Error(t, err)
}
