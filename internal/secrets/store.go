package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrAccessDenied is returned when the authenticated tenant does not
	// own the path being accessed. Deliberately carries no detail about
	// whether the secret exists.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound is returned when a handle resolves to nothing
	ErrNotFound = errors.New("secret not found")

	// ErrBackendUnavailable is returned when the secret backend cannot be
	// reached after bounded retries
	ErrBackendUnavailable = errors.New("secret backend unavailable")
)

// Handle is an opaque reference to one stored secret version, of the form
// tenants/{tenant}/credentials/{provider}/{keyType}#{version}.
type Handle string

// Store is the tenant-namespaced adapter over the external secret
// backend. This is the single enforcement point for tenant isolation:
// every operation checks the authenticated tenant against the tenant in
// the path before touching the backend.
//
// Callers must treat plaintext returned by Get as scoped to the current
// call and must not retain it.
type Store interface {
	Put(ctx context.Context, authTenant, tenant uuid.UUID, provider, keyType string, plaintext []byte) (Handle, error)
	Get(ctx context.Context, authTenant uuid.UUID, handle Handle) ([]byte, error)
	Delete(ctx context.Context, authTenant uuid.UUID, handle Handle) error
}

// credentialPath builds the namespaced backend path for a credential.
func credentialPath(tenant uuid.UUID, provider, keyType string) string {
	return fmt.Sprintf("tenants/%s/credentials/%s/%s", tenant, provider, keyType)
}

// makeHandle attaches a version to a path.
func makeHandle(path, version string) Handle {
	return Handle(path + "#" + version)
}

// parseHandle splits a handle into its path, owning tenant and version.
func parseHandle(h Handle) (path string, tenant uuid.UUID, version string, err error) {
	raw := string(h)
	idx := strings.LastIndex(raw, "#")
	if idx <= 0 || idx == len(raw)-1 {
		return "", uuid.Nil, "", fmt.Errorf("malformed secret handle")
	}
	path, version = raw[:idx], raw[idx+1:]

	parts := strings.Split(path, "/")
	if len(parts) != 4 || parts[0] != "tenants" || parts[2] != "credentials" {
		return "", uuid.Nil, "", fmt.Errorf("malformed secret path")
	}
	tenant, err = uuid.Parse(parts[1])
	if err != nil {
		return "", uuid.Nil, "", fmt.Errorf("malformed tenant in secret path: %w", err)
	}

	return path, tenant, version, nil
}

// authorize is the isolation check shared by every implementation.
// It runs before any backend I/O so a denied caller learns nothing about
// what exists on the other side.
func authorize(authTenant, pathTenant uuid.UUID) error {
	if authTenant == uuid.Nil || authTenant != pathTenant {
		return ErrAccessDenied
	}
	return nil
}
