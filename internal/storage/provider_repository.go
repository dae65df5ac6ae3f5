package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"vault_router/internal/models"
)

// ProviderRepository handles provider catalog database operations
type ProviderRepository struct {
	db *DB
}

// NewProviderRepository creates a new provider repository
func NewProviderRepository(db *DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

// GetByID retrieves a provider with its models.
func (r *ProviderRepository) GetByID(ctx context.Context, id string) (*models.Provider, error) {
	var provider models.Provider
	query := `
		SELECT id, display_name, kind, tier, endpoint, auth_header, auth_prefix,
		       capabilities, regions, context_window, min_cost_per_k, max_cost_per_k,
		       enabled, created_at, updated_at
		FROM providers
		WHERE id = $1
	`

	err := r.db.conn.GetContext(ctx, &provider, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}

	if err := r.attachModels(ctx, []*models.Provider{&provider}); err != nil {
		return nil, err
	}

	return &provider, nil
}

// ListEnabled returns all enabled providers with their models, ordered by
// id for deterministic catalog snapshots.
func (r *ProviderRepository) ListEnabled(ctx context.Context) ([]*models.Provider, error) {
	query := `
		SELECT id, display_name, kind, tier, endpoint, auth_header, auth_prefix,
		       capabilities, regions, context_window, min_cost_per_k, max_cost_per_k,
		       enabled, created_at, updated_at
		FROM providers
		WHERE enabled = true
		ORDER BY id
	`

	var providers []*models.Provider
	err := r.db.conn.SelectContext(ctx, &providers, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}

	if err := r.attachModels(ctx, providers); err != nil {
		return nil, err
	}

	return providers, nil
}

// Upsert writes a catalog entry and its models. Used by the YAML seed
// loader; out-of-band catalog changes go straight to the table.
func (r *ProviderRepository) Upsert(ctx context.Context, provider *models.Provider) error {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `
		INSERT INTO providers (
			id, display_name, kind, tier, endpoint, auth_header, auth_prefix,
			capabilities, regions, context_window, min_cost_per_k, max_cost_per_k,
			enabled, created_at, updated_at
		) VALUES (
			:id, :display_name, :kind, :tier, :endpoint, :auth_header, :auth_prefix,
			:capabilities, :regions, :context_window, :min_cost_per_k, :max_cost_per_k,
			:enabled, NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			kind = EXCLUDED.kind,
			tier = EXCLUDED.tier,
			endpoint = EXCLUDED.endpoint,
			auth_header = EXCLUDED.auth_header,
			auth_prefix = EXCLUDED.auth_prefix,
			capabilities = EXCLUDED.capabilities,
			regions = EXCLUDED.regions,
			context_window = EXCLUDED.context_window,
			min_cost_per_k = EXCLUDED.min_cost_per_k,
			max_cost_per_k = EXCLUDED.max_cost_per_k,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
	`

	if _, err := tx.NamedExecContext(ctx, query, provider); err != nil {
		return fmt.Errorf("failed to upsert provider: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM provider_models WHERE provider_id = $1`, provider.ID); err != nil {
		return fmt.Errorf("failed to clear provider models: %w", err)
	}

	modelQuery := `
		INSERT INTO provider_models (provider_id, name, cost_per_k, context_window, capabilities)
		VALUES (:provider_id, :name, :cost_per_k, :context_window, :capabilities)
	`
	for i := range provider.Models {
		m := provider.Models[i]
		m.ProviderID = provider.ID
		if _, err := tx.NamedExecContext(ctx, modelQuery, m); err != nil {
			return fmt.Errorf("failed to insert provider model %q: %w", m.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit provider upsert: %w", err)
	}

	return nil
}

func (r *ProviderRepository) attachModels(ctx context.Context, providers []*models.Provider) error {
	if len(providers) == 0 {
		return nil
	}

	ids := make([]string, len(providers))
	byID := make(map[string]*models.Provider, len(providers))
	for i, p := range providers {
		ids[i] = p.ID
		byID[p.ID] = p
	}

	query, args, err := sqlx.In(`
		SELECT provider_id, name, cost_per_k, context_window, capabilities
		FROM provider_models
		WHERE provider_id IN (?)
		ORDER BY provider_id, name
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to build model query: %w", err)
	}
	query = r.db.conn.Rebind(query)

	var providerModels []models.ProviderModel
	if err := r.db.conn.SelectContext(ctx, &providerModels, query, args...); err != nil {
		return fmt.Errorf("failed to list provider models: %w", err)
	}

	for _, m := range providerModels {
		if p, ok := byID[m.ProviderID]; ok {
			p.Models = append(p.Models, m)
		}
	}

	return nil
}
