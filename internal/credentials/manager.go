package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"vault_router/internal/audit"
	"vault_router/internal/models"
	"vault_router/internal/secrets"
	"vault_router/internal/utils"
)

var (
	// ErrWeakCredential is returned when a submitted key scores below the
	// strength threshold.
	ErrWeakCredential = errors.New("credential too weak")

	// ErrNotRotatable is returned when rotation is requested for a
	// credential that is not active.
	ErrNotRotatable = errors.New("credential is not active")

	// ErrNoUsableCredential is returned when a tenant has no usable
	// credential for a provider.
	ErrNoUsableCredential = errors.New("no usable credential")
)

// backupSuffix marks the secondary copy written alongside every key.
const backupSuffix = "-backup"

// Repository is the metadata persistence surface the manager needs.
type Repository interface {
	Create(ctx context.Context, cred *models.Credential) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Credential, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Credential, error)
	ListUsableByProvider(ctx context.Context, tenantID uuid.UUID, providerID string) ([]*models.Credential, error)
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status models.CredentialStatus) error
	Tombstone(ctx context.Context, tenantID, id uuid.UUID) error
	IncrementUsage(ctx context.Context, id uuid.UUID) error
	ExpireRotating(ctx context.Context, grace time.Duration) (int64, error)
	MarkExpired(ctx context.Context) (int64, error)
}

// AddInput carries the tenant-supplied fields for a new credential.
type AddInput struct {
	Provider           string
	KeyType            string
	KeyValue           string
	Permissions        []string
	RateLimitPerMinute int
	TTLDays            int
}

// Manager owns the credential lifecycle: add, rotate, revoke, resolve.
// Key material flows through the secret store only; the manager persists
// metadata and handles.
type Manager struct {
	store     secrets.Store
	repo      Repository
	audit     audit.Sink
	logger    *utils.Logger
	threshold int
	grace     time.Duration

	lockMu sync.Mutex
	locks  map[uuid.UUID]*sync.Mutex

	stopCh    chan struct{}
	stoppedCh chan struct{}
	sweepOnce sync.Once
}

// Config configures a Manager.
type Config struct {
	Store             secrets.Store
	Repo              Repository
	Audit             audit.Sink
	StrengthThreshold int
	RotationGrace     time.Duration
}

// NewManager creates a credential manager.
func NewManager(cfg Config) *Manager {
	if cfg.StrengthThreshold <= 0 {
		cfg.StrengthThreshold = DefaultStrengthThreshold
	}
	if cfg.RotationGrace <= 0 {
		cfg.RotationGrace = 5 * time.Minute
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NewNoopSink()
	}
	return &Manager{
		store:     cfg.Store,
		repo:      cfg.Repo,
		audit:     cfg.Audit,
		logger:    utils.NewLogger("credentials"),
		threshold: cfg.StrengthThreshold,
		grace:     cfg.RotationGrace,
		locks:     make(map[uuid.UUID]*sync.Mutex),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// AddCredential scores, stores and records a new tenant key. The key is
// written to the secret store twice: the primary path and a backup path.
func (m *Manager) AddCredential(ctx context.Context, tenantID uuid.UUID, in AddInput) (*models.Credential, error) {
	score := ScoreStrength(in.Provider, in.KeyValue)
	if score < m.threshold {
		return nil, fmt.Errorf("%w: strength %d below threshold %d", ErrWeakCredential, score, m.threshold)
	}

	plaintext := []byte(in.KeyValue)
	handle, err := m.store.Put(ctx, tenantID, tenantID, in.Provider, in.KeyType, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to store key: %w", err)
	}

	if _, err := m.store.Put(ctx, tenantID, tenantID, in.Provider, in.KeyType+backupSuffix, plaintext); err != nil {
		m.logger.Warn("Failed to write backup copy", "tenant", tenantID, "provider", in.Provider, "error", err)
	}

	cred := &models.Credential{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		ProviderID:         in.Provider,
		KeyType:            in.KeyType,
		SecretHandle:       string(handle),
		MaskedPreview:      models.MaskKey(in.KeyValue),
		Status:             models.CredentialActive,
		StrengthScore:      score,
		Permissions:        in.Permissions,
		RateLimitPerMinute: in.RateLimitPerMinute,
	}
	if in.TTLDays > 0 {
		expires := time.Now().UTC().AddDate(0, 0, in.TTLDays)
		cred.ExpiresAt = &expires
	}

	if err := m.repo.Create(ctx, cred); err != nil {
		return nil, err
	}

	m.emit(tenantID, audit.ActionCredentialAdded, &cred.ID, in.Provider, nil)
	m.logger.Info("Credential added", "tenant", tenantID, "provider", in.Provider, "credential", cred.ID, "strength", score)
	return cred, nil
}

// RotateCredential writes a fresh secret version and a new metadata
// record, then marks the old record rotating. Rotating credentials stay
// resolvable through the grace window; the sweeper revokes them after.
// When newKey is empty the existing key material is re-wrapped under a
// new version.
func (m *Manager) RotateCredential(ctx context.Context, tenantID, id uuid.UUID, newKey string) (*models.Credential, *models.Credential, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	old, err := m.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, nil, err
	}
	if old.Status != models.CredentialActive {
		return nil, nil, fmt.Errorf("%w: status %s", ErrNotRotatable, old.Status)
	}

	plaintext := []byte(newKey)
	if newKey == "" {
		plaintext, err = m.store.Get(ctx, tenantID, secrets.Handle(old.SecretHandle))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read current key: %w", err)
		}
	} else {
		score := ScoreStrength(old.ProviderID, newKey)
		if score < m.threshold {
			return nil, nil, fmt.Errorf("%w: strength %d below threshold %d", ErrWeakCredential, score, m.threshold)
		}
	}

	handle, err := m.store.Put(ctx, tenantID, tenantID, old.ProviderID, old.KeyType, plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to store rotated key: %w", err)
	}

	replacement := &models.Credential{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		ProviderID:         old.ProviderID,
		KeyType:            old.KeyType,
		SecretHandle:       string(handle),
		MaskedPreview:      models.MaskKey(string(plaintext)),
		Status:             models.CredentialActive,
		StrengthScore:      ScoreStrength(old.ProviderID, string(plaintext)),
		Permissions:        old.Permissions,
		RateLimitPerMinute: old.RateLimitPerMinute,
		RotatedFrom:        &old.ID,
		ExpiresAt:          old.ExpiresAt,
	}

	if err := m.repo.Create(ctx, replacement); err != nil {
		return nil, nil, err
	}
	if err := m.repo.UpdateStatus(ctx, tenantID, old.ID, models.CredentialRotating); err != nil {
		return nil, nil, err
	}
	old.Status = models.CredentialRotating

	m.emit(tenantID, audit.ActionCredentialRotated, &old.ID, old.ProviderID, map[string]string{
		"replacement": replacement.ID.String(),
	})
	m.logger.Info("Credential rotated", "tenant", tenantID, "old", old.ID, "new", replacement.ID)
	return old, replacement, nil
}

// RevokeCredential tombstones the metadata and removes the key material.
// In-flight holders of the plaintext are unaffected; new lookups fail.
func (m *Manager) RevokeCredential(ctx context.Context, tenantID, id uuid.UUID) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	cred, err := m.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}

	if err := m.repo.Tombstone(ctx, tenantID, id); err != nil {
		return err
	}

	if err := m.store.Delete(ctx, tenantID, secrets.Handle(cred.SecretHandle)); err != nil &&
		!errors.Is(err, secrets.ErrNotFound) {
		m.logger.Warn("Failed to delete key material", "tenant", tenantID, "credential", id, "error", err)
	}

	m.emit(tenantID, audit.ActionCredentialRevoked, &id, cred.ProviderID, nil)
	m.logger.Info("Credential revoked", "tenant", tenantID, "credential", id)
	return nil
}

// ListCredentials returns the tenant's credential metadata. Plaintext is
// never part of the result; callers expose MaskedPreview only.
func (m *Manager) ListCredentials(ctx context.Context, tenantID uuid.UUID) ([]*models.Credential, error) {
	return m.repo.ListByTenant(ctx, tenantID)
}

// GetCredential fetches one credential's metadata, tenant-scoped.
func (m *Manager) GetCredential(ctx context.Context, tenantID, id uuid.UUID) (*models.Credential, error) {
	return m.repo.GetByID(ctx, tenantID, id)
}

// ResolveForProvider picks the tenant's best usable credential for a
// provider, fetches its plaintext and bumps its usage count. The
// permission argument is matched against the credential's permission
// list when the list is non-empty.
func (m *Manager) ResolveForProvider(ctx context.Context, tenantID uuid.UUID, providerID, permission string) (*models.Credential, []byte, error) {
	creds, err := m.repo.ListUsableByProvider(ctx, tenantID, providerID)
	if err != nil {
		return nil, nil, err
	}

	for _, cred := range creds {
		if !cred.Usable() || !cred.HasPermission(permission) {
			continue
		}
		plaintext, err := m.store.Get(ctx, tenantID, secrets.Handle(cred.SecretHandle))
		if err != nil {
			if errors.Is(err, secrets.ErrNotFound) || errors.Is(err, secrets.ErrAccessDenied) {
				continue
			}
			return nil, nil, err
		}
		if err := m.repo.IncrementUsage(ctx, cred.ID); err != nil {
			m.logger.Warn("Failed to bump usage count", "credential", cred.ID, "error", err)
		}
		return cred, plaintext, nil
	}

	return nil, nil, fmt.Errorf("%w for provider %s", ErrNoUsableCredential, providerID)
}

// StartSweeper launches the background loop that revokes rotating
// credentials past the grace window and expires credentials past their
// TTL.
func (m *Manager) StartSweeper(interval time.Duration) {
	m.sweepOnce.Do(func() {
		go m.sweepLoop(interval)
	})
}

// Close stops the sweeper.
func (m *Manager) Close() error {
	close(m.stopCh)
	select {
	case <-m.stoppedCh:
	case <-time.After(2 * time.Second):
	}
	return nil
}

func (m *Manager) sweepLoop(interval time.Duration) {
	defer close(m.stoppedCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// Sweep runs one pass of the rotation-grace and TTL checks.
func (m *Manager) Sweep(ctx context.Context) {
	if n, err := m.repo.ExpireRotating(ctx, m.grace); err != nil {
		m.logger.Error("Rotation sweep failed", "error", err)
	} else if n > 0 {
		m.logger.Info("Revoked rotated credentials past grace", "count", n)
	}

	if n, err := m.repo.MarkExpired(ctx); err != nil {
		m.logger.Error("Expiry sweep failed", "error", err)
	} else if n > 0 {
		m.logger.Info("Expired credentials past TTL", "count", n)
	}
}

func (m *Manager) lockFor(id uuid.UUID) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

func (m *Manager) emit(tenantID uuid.UUID, action string, credID *uuid.UUID, provider string, detail map[string]string) {
	_ = m.audit.Enqueue(&audit.Event{
		TenantID:     tenantID,
		Action:       action,
		CredentialID: credID,
		Provider:     provider,
		Detail:       detail,
	})
}
