package secrets

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	enc, err := NewEncryption(key)
	require.NoError(t, err)

	return NewRedisStore(client, enc, DefaultRetryConfig()), mr
}

func TestRedisStore_PutGetRoundtrip(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	tenant := uuid.New()

	handle, err := store.Put(ctx, tenant, tenant, "openai", "api_key", []byte("sk-verysecretkey12345"))
	require.NoError(t, err)
	assert.Contains(t, string(handle), "tenants/"+tenant.String()+"/credentials/openai/api_key")

	plaintext, err := store.Get(ctx, tenant, handle)
	require.NoError(t, err)
	assert.Equal(t, "sk-verysecretkey12345", string(plaintext))
}

func TestRedisStore_ValuesEncryptedAtRest(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()
	tenant := uuid.New()

	_, err := store.Put(ctx, tenant, tenant, "openai", "api_key", []byte("sk-verysecretkey12345"))
	require.NoError(t, err)

	// Nothing in the backend may contain the plaintext.
	for _, key := range mr.Keys() {
		val, err := mr.Get(key)
		if err != nil {
			continue
		}
		assert.NotContains(t, val, "sk-verysecretkey12345", "plaintext leaked into backend key %s", key)
	}
}

func TestRedisStore_VersionsAreIndependent(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	tenant := uuid.New()

	h1, err := store.Put(ctx, tenant, tenant, "openai", "api_key", []byte("old-key-value-123"))
	require.NoError(t, err)
	h2, err := store.Put(ctx, tenant, tenant, "openai", "api_key", []byte("new-key-value-456"))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	// Both versions resolve until the old one is deleted.
	old, err := store.Get(ctx, tenant, h1)
	require.NoError(t, err)
	assert.Equal(t, "old-key-value-123", string(old))

	curr, err := store.Get(ctx, tenant, h2)
	require.NoError(t, err)
	assert.Equal(t, "new-key-value-456", string(curr))

	require.NoError(t, store.Delete(ctx, tenant, h1))
	_, err = store.Get(ctx, tenant, h1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_TenantIsolation(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	owner := uuid.New()
	handle, err := store.Put(ctx, owner, owner, "openai", "api_key", []byte("sk-ownersecret99999"))
	require.NoError(t, err)

	// A sample of other tenant ids, including nil: every access must be
	// denied without revealing whether the secret exists.
	for i := 0; i < 50; i++ {
		other := uuid.New()
		_, err := store.Get(ctx, other, handle)
		assert.ErrorIs(t, err, ErrAccessDenied, "tenant %s read another tenant's secret", other)

		err = store.Delete(ctx, other, handle)
		assert.ErrorIs(t, err, ErrAccessDenied)

		_, err = store.Put(ctx, other, owner, "openai", "api_key", []byte("overwrite"))
		assert.ErrorIs(t, err, ErrAccessDenied)
	}

	_, err = store.Get(ctx, uuid.Nil, handle)
	assert.ErrorIs(t, err, ErrAccessDenied)

	// The owner is unaffected.
	plaintext, err := store.Get(ctx, owner, handle)
	require.NoError(t, err)
	assert.Equal(t, "sk-ownersecret99999", string(plaintext))
}

func TestRedisStore_GetMissing(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	tenant := uuid.New()

	handle := makeHandle(credentialPath(tenant, "openai", "api_key"), "42")
	_, err := store.Get(ctx, tenant, handle)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_BackendUnavailable(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()
	tenant := uuid.New()

	handle, err := store.Put(ctx, tenant, tenant, "openai", "api_key", []byte("sk-secret-value-1"))
	require.NoError(t, err)

	mr.Close()

	_, err = store.Get(ctx, tenant, handle)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestParseHandle(t *testing.T) {
	tenant := uuid.New()

	tests := []struct {
		name    string
		handle  Handle
		wantErr bool
	}{
		{"valid", makeHandle(credentialPath(tenant, "openai", "api_key"), "3"), false},
		{"missing version", Handle(credentialPath(tenant, "openai", "api_key")), true},
		{"empty", Handle(""), true},
		{"wrong shape", Handle("foo/bar#1"), true},
		{"bad tenant", Handle("tenants/not-a-uuid/credentials/openai/api_key#1"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, gotTenant, version, err := parseHandle(tt.handle)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tenant, gotTenant)
			assert.Equal(t, "3", version)
			assert.Equal(t, fmt.Sprintf("tenants/%s/credentials/openai/api_key", tenant), path)
		})
	}
}
