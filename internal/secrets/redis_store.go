package secrets

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vault_router/internal/utils"
)

// RedisStore keeps secrets in Redis, AES-GCM encrypted with a key the
// backend never sees in config. Each path carries a version counter so
// rotation can write a new version while old handles stay resolvable
// through the grace window.
type RedisStore struct {
	client     *redis.Client
	encryption *Encryption
	retry      RetryConfig
	logger     *utils.Logger
}

// NewRedisStore creates a Redis-backed secret store.
func NewRedisStore(client *redis.Client, encryption *Encryption, retry RetryConfig) *RedisStore {
	return &RedisStore{
		client:     client,
		encryption: encryption,
		retry:      retry,
		logger:     utils.NewLogger("secret-store"),
	}
}

func versionKey(path string) string {
	return "secret:" + path + ":ver"
}

func valueKey(path, version string) string {
	return "secret:" + path + ":" + version
}

// Put encrypts and stores a new version of the secret at the tenant's
// namespaced path, returning a handle to that version.
func (s *RedisStore) Put(ctx context.Context, authTenant, tenant uuid.UUID, provider, keyType string, plaintext []byte) (Handle, error) {
	if err := authorize(authTenant, tenant); err != nil {
		return "", err
	}

	path := credentialPath(tenant, provider, keyType)

	ciphertext, err := s.encryption.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt secret: %w", err)
	}

	var version int64
	err = withRetry(ctx, s.retry, func() error {
		v, err := s.client.Incr(ctx, versionKey(path)).Result()
		if err != nil {
			return fmt.Errorf("failed to bump secret version: %w", err)
		}
		version = v

		if err := s.client.Set(ctx, valueKey(path, strconv.FormatInt(version, 10)), ciphertext, 0).Err(); err != nil {
			return fmt.Errorf("failed to write secret: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return makeHandle(path, strconv.FormatInt(version, 10)), nil
}

// Get resolves a handle to plaintext. The caller must not retain the
// plaintext beyond the current call.
func (s *RedisStore) Get(ctx context.Context, authTenant uuid.UUID, handle Handle) ([]byte, error) {
	path, tenant, version, err := parseHandle(handle)
	if err != nil {
		return nil, ErrNotFound
	}
	if err := authorize(authTenant, tenant); err != nil {
		return nil, err
	}

	var ciphertext string
	err = withRetry(ctx, s.retry, func() error {
		val, err := s.client.Get(ctx, valueKey(path, version)).Result()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read secret: %w", err)
		}
		ciphertext = val
		return nil
	})
	if err != nil {
		return nil, err
	}

	plaintext, err := s.encryption.Decrypt(ciphertext)
	if err != nil {
		// A stored value we cannot decrypt is as good as missing, but
		// worth an audit line: it means the encryption key changed.
		s.logger.Error("Failed to decrypt stored secret", "path", path)
		return nil, ErrNotFound
	}

	return plaintext, nil
}

// Delete removes one stored version.
func (s *RedisStore) Delete(ctx context.Context, authTenant uuid.UUID, handle Handle) error {
	path, tenant, version, err := parseHandle(handle)
	if err != nil {
		return ErrNotFound
	}
	if err := authorize(authTenant, tenant); err != nil {
		return err
	}

	return withRetry(ctx, s.retry, func() error {
		deleted, err := s.client.Del(ctx, valueKey(path, version)).Result()
		if err != nil {
			return fmt.Errorf("failed to delete secret: %w", err)
		}
		if deleted == 0 {
			return ErrNotFound
		}
		return nil
	})
}
