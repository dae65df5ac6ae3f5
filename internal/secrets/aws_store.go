package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/google/uuid"

	"vault_router/internal/utils"
)

// secretsManagerAPI is the slice of the Secrets Manager client the store
// uses.
type secretsManagerAPI interface {
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// AWSStore keeps secrets in AWS Secrets Manager. Transport encryption
// and at-rest encryption are the backend's responsibility; this adapter
// only namespaces paths and enforces tenant isolation. Each version is
// written as its own secret named path/version, so deleting one version
// of a rotated credential never touches its sibling.
type AWSStore struct {
	client secretsManagerAPI
	retry  RetryConfig
	logger *utils.Logger
}

// NewAWSStore creates a Secrets Manager backed store.
func NewAWSStore(ctx context.Context, region string, retry RetryConfig) (*AWSStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSStore{
		client: secretsmanager.NewFromConfig(cfg),
		retry:  retry,
		logger: utils.NewLogger("secret-store-aws"),
	}, nil
}

func versionedName(path, version string) string {
	return path + "/" + version
}

// Put stores a new version of the secret as a fresh backend secret.
func (s *AWSStore) Put(ctx context.Context, authTenant, tenant uuid.UUID, provider, keyType string, plaintext []byte) (Handle, error) {
	if err := authorize(authTenant, tenant); err != nil {
		return "", err
	}

	path := credentialPath(tenant, provider, keyType)
	versionID := uuid.NewString()

	err := withRetry(ctx, s.retry, func() error {
		_, err := s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
			Name:         aws.String(versionedName(path, versionID)),
			SecretBinary: plaintext,
		})
		if err != nil {
			return fmt.Errorf("failed to create secret: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return makeHandle(path, versionID), nil
}

// Get resolves a handle to plaintext.
func (s *AWSStore) Get(ctx context.Context, authTenant uuid.UUID, handle Handle) ([]byte, error) {
	path, tenant, version, err := parseHandle(handle)
	if err != nil {
		return nil, ErrNotFound
	}
	if err := authorize(authTenant, tenant); err != nil {
		return nil, err
	}

	var plaintext []byte
	err = withRetry(ctx, s.retry, func() error {
		out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(versionedName(path, version)),
		})
		if err != nil {
			var notFound *types.ResourceNotFoundException
			if errors.As(err, &notFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to get secret value: %w", err)
		}
		plaintext = out.SecretBinary
		if plaintext == nil && out.SecretString != nil {
			plaintext = []byte(*out.SecretString)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return plaintext, nil
}

// Delete schedules the handle's version, and only that version, for
// deletion. A rotated credential's replacement lives under a different
// versioned name and stays resolvable.
func (s *AWSStore) Delete(ctx context.Context, authTenant uuid.UUID, handle Handle) error {
	path, tenant, version, err := parseHandle(handle)
	if err != nil {
		return ErrNotFound
	}
	if err := authorize(authTenant, tenant); err != nil {
		return err
	}

	return withRetry(ctx, s.retry, func() error {
		_, err := s.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
			SecretId:             aws.String(versionedName(path, version)),
			RecoveryWindowInDays: aws.Int64(7),
		})
		if err != nil {
			var notFound *types.ResourceNotFoundException
			if errors.As(err, &notFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to delete secret: %w", err)
		}
		return nil
	})
}
