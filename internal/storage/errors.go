package storage

import "errors"

var (
	// ErrTenantNotFound is returned when a tenant is not found
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTokenNotFound is returned when a tenant token is not found
	ErrTokenNotFound = errors.New("tenant token not found")

	// ErrCredentialNotFound is returned when a credential is not found
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrPolicyNotFound is returned when a tenant has no stored policy
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrProviderNotFound is returned when a provider is not found
	ErrProviderNotFound = errors.New("provider not found")
)
